package registry

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gustavo/defi-agent/internal/model"
)

// Network names the chain a wallet session is bound to.
type Network struct {
	ID         string
	EVMChainID int64
	Production bool
}

var (
	BaseSepolia = Network{ID: "base-sepolia", EVMChainID: 84532, Production: false}
	BaseMainnet = Network{ID: "base-mainnet", EVMChainID: 8453, Production: true}
)

func ParseNetwork(id string) (Network, bool) {
	switch strings.ToLower(strings.TrimSpace(id)) {
	case BaseSepolia.ID, "base_sepolia", "basesepolia":
		return BaseSepolia, true
	case BaseMainnet.ID, "base_mainnet", "basemainnet", "base":
		return BaseMainnet, true
	default:
		return Network{}, false
	}
}

// Aave V3 pool deployments.
var aavePoolByNetwork = map[string]string{
	BaseSepolia.ID: "0x07eA79F68B2B3df564D0A34F8e19D9B1e339814b",
	BaseMainnet.ID: "0xA238Dd80C259a72e81d7e4664a9801593F98d1c5",
}

func AavePool(network Network) (common.Address, bool) {
	value, ok := aavePoolByNetwork[network.ID]
	if !ok {
		return common.Address{}, false
	}
	return common.HexToAddress(value), true
}

// First-class assets per network. The native coin plus the primary stablecoin
// may be transferred without a pre-flight balance read.
var assetsByNetwork = map[string]map[string]model.Asset{
	BaseSepolia.ID: {
		"eth":  {Symbol: "eth", Decimals: 18},
		"usdc": {Symbol: "usdc", ContractAddress: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", Decimals: 6},
	},
	BaseMainnet.ID: {
		"eth":  {Symbol: "eth", Decimals: 18},
		"usdc": {Symbol: "usdc", ContractAddress: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
	},
}

// FirstClassAsset resolves the symbols that skip the balance pre-flight.
func FirstClassAsset(network Network, assetID string) (model.Asset, bool) {
	asset, ok := assetsByNetwork[network.ID][strings.ToLower(strings.TrimSpace(assetID))]
	return asset, ok
}

// ResolveAsset maps an asset identifier (known symbol or ERC20 address) to an
// Asset. Unknown token contracts default to 18 decimals, the smallest common
// case; their true precision is enforced on-chain, not here.
func ResolveAsset(network Network, assetID string) (model.Asset, bool) {
	if asset, ok := FirstClassAsset(network, assetID); ok {
		return asset, true
	}
	clean := strings.TrimSpace(assetID)
	if common.IsHexAddress(clean) {
		return model.Asset{
			Symbol:          strings.ToLower(clean),
			ContractAddress: common.HexToAddress(clean).Hex(),
			Decimals:        18,
		}, true
	}
	return model.Asset{}, false
}

// QuotedPool is one configured (asset, protocol) pair for quoting.
type QuotedPool struct {
	Asset        string
	Protocol     string
	FeedAddress  string
	PoolAddress  string
	TokenAddress string
	Decimals     uint8
	RiskLevel    model.RiskLevel
}

// Compound III markets quoted on the test network, with their Chainlink
// USD price feeds.
var quotedPoolsByNetwork = map[string][]QuotedPool{
	BaseSepolia.ID: {
		{
			Asset:        "ETH",
			Protocol:     "Compound III",
			FeedAddress:  "0x7D9457550CC58d12d53B50B09F6Af11100B8012D",
			PoolAddress:  "0x571621Ce60Cebb0c1D442B5afb38B1663C6Bf017",
			TokenAddress: "0x4200000000000000000000000000000000000006",
			Decimals:     18,
			RiskLevel:    model.RiskLow,
		},
		{
			Asset:        "BTC",
			Protocol:     "Compound III",
			FeedAddress:  "0xC8CCEF06f38B140C4A8D23B8F0cA9C00fE44E8A8",
			PoolAddress:  "0x46e6b214b524310239732D51387075E0e70970bf",
			TokenAddress: "0x7b79995e5f793A07Bc00c21412e50Ecae098E7f9",
			Decimals:     8,
			RiskLevel:    model.RiskLow,
		},
	},
}

func QuotedPools(network Network) []QuotedPool {
	return quotedPoolsByNetwork[network.ID]
}
