package wallet

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	agenterr "github.com/gustavo/defi-agent/internal/errors"
	"github.com/gustavo/defi-agent/internal/model"
	"github.com/gustavo/defi-agent/internal/registry"
	"github.com/gustavo/defi-agent/internal/units"
)

type Config struct {
	RPCURL         string
	Network        registry.Network
	PrivateKeyHex  string
	WalletID       string
	WalletData     string
	FaucetURL      string
	SponsorURL     string
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// Node is the process-wide wallet session. Construction imports the signing
// key exactly once; after that the session is read-only except for the nonce,
// which submitMu serializes.
type Node struct {
	client         *ethclient.Client
	network        registry.Network
	chainID        *big.Int
	privateKey     *ecdsa.PrivateKey
	address        common.Address
	faucetURL      string
	sponsorURL     string
	http           *http.Client
	confirmTimeout time.Duration
	pollInterval   time.Duration
	log            logrus.FieldLogger

	submitMu sync.Mutex
}

func NewNode(ctx context.Context, cfg Config, log logrus.FieldLogger) (*Node, error) {
	key, err := loadPrivateKey(cfg)
	if err != nil {
		return nil, err
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("read chain id: %w", err)
	}
	if chainID.Int64() != cfg.Network.EVMChainID {
		client.Close()
		return nil, fmt.Errorf("rpc chain id %d does not match network %s (%d)", chainID.Int64(), cfg.Network.ID, cfg.Network.EVMChainID)
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.Logger = nil

	node := &Node{
		client:         client,
		network:        cfg.Network,
		chainID:        chainID,
		privateKey:     key,
		address:        crypto.PubkeyToAddress(key.PublicKey),
		faucetURL:      cfg.FaucetURL,
		sponsorURL:     cfg.SponsorURL,
		http:           retryClient.StandardClient(),
		confirmTimeout: cfg.ConfirmTimeout,
		pollInterval:   cfg.PollInterval,
		log:            log,
	}
	log.WithFields(logrus.Fields{
		"address": node.address.Hex(),
		"network": cfg.Network.ID,
	}).Info("wallet session imported")
	return node, nil
}

// walletData is the serialized seed bundle keyed by wallet id.
type walletData map[string]struct {
	Seed string `json:"seed"`
}

func loadPrivateKey(cfg Config) (*ecdsa.PrivateKey, error) {
	if strings.TrimSpace(cfg.PrivateKeyHex) != "" {
		return parseHexKey(cfg.PrivateKeyHex)
	}
	if strings.TrimSpace(cfg.WalletData) != "" {
		if strings.TrimSpace(cfg.WalletID) == "" {
			return nil, fmt.Errorf("wallet data requires a wallet id")
		}
		var data walletData
		if err := json.Unmarshal([]byte(cfg.WalletData), &data); err != nil {
			return nil, fmt.Errorf("parse wallet data: %w", err)
		}
		entry, ok := data[cfg.WalletID]
		if !ok {
			return nil, fmt.Errorf("wallet data has no entry for wallet id %q", cfg.WalletID)
		}
		return parseHexKey(entry.Seed)
	}
	return nil, fmt.Errorf("missing signing key: provide a private key or wallet seed data")
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if clean == "" {
		return nil, fmt.Errorf("empty private key")
	}
	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (n *Node) Address() common.Address   { return n.address }
func (n *Node) Network() registry.Network { return n.network }
func (n *Node) Close()                    { n.client.Close() }

// Client exposes the underlying RPC client for read-only collaborators.
func (n *Node) Client() *ethclient.Client { return n.client }

func (n *Node) Balance(ctx context.Context, asset model.Asset) (*big.Int, error) {
	if asset.Native() {
		balance, err := n.client.BalanceAt(ctx, n.address, nil)
		if err != nil {
			return nil, fmt.Errorf("read native balance: %w", err)
		}
		return balance, nil
	}
	token := common.HexToAddress(asset.ContractAddress)
	data, err := erc20ABI.Pack("balanceOf", n.address)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf calldata: %w", err)
	}
	out, err := n.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("balance of %s: %w", asset.Symbol, ErrUnsupportedAsset)
		}
		return nil, fmt.Errorf("read token balance: %w", err)
	}
	// A token contract that does not exist (or is not yet indexed) answers
	// with empty returndata instead of reverting.
	if len(out) == 0 {
		return nil, fmt.Errorf("balance of %s: %w", asset.Symbol, ErrUnsupportedAsset)
	}
	decoded, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil || len(decoded) == 0 {
		return nil, fmt.Errorf("decode token balance: %w", err)
	}
	balance, ok := decoded[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("invalid token balance response")
	}
	return balance, nil
}

func (n *Node) Transfer(ctx context.Context, req TransferRequest) (*Receipt, error) {
	amount, err := units.ToBaseUnitsInt(req.Amount, req.Asset.Decimals)
	if err != nil {
		return nil, err
	}
	var inv Invocation
	if req.Asset.Native() {
		inv = Invocation{To: req.Destination, Value: amount, GasLimit: 21000}
	} else {
		data, err := erc20ABI.Pack("transfer", req.Destination, amount)
		if err != nil {
			return nil, fmt.Errorf("pack transfer calldata: %w", err)
		}
		inv = Invocation{To: common.HexToAddress(req.Asset.ContractAddress), Data: data}
	}
	if req.Gasless {
		return n.submitSponsored(ctx, inv)
	}
	return n.Invoke(ctx, inv)
}

func (n *Node) Invoke(ctx context.Context, inv Invocation) (*Receipt, error) {
	n.submitMu.Lock()
	defer n.submitMu.Unlock()

	signed, err := n.buildSignedTx(ctx, inv)
	if err != nil {
		return nil, err
	}
	if err := n.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("broadcast transaction: %w", err)
	}
	n.log.WithField("tx", signed.Hash().Hex()).Debug("transaction broadcast")
	return n.waitReceipt(ctx, signed.Hash())
}

// submitSponsored routes a signed transfer through the fee sponsor relay so
// the network fee is paid by the sponsor, not deducted from the sender.
func (n *Node) submitSponsored(ctx context.Context, inv Invocation) (*Receipt, error) {
	if strings.TrimSpace(n.sponsorURL) == "" {
		return nil, fmt.Errorf("gasless transfer requires a sponsor relay url")
	}
	n.submitMu.Lock()
	defer n.submitMu.Unlock()

	signed, err := n.buildSignedTx(ctx, inv)
	if err != nil {
		return nil, err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	body, err := json.Marshal(map[string]string{
		"raw_tx": hexutil.Encode(raw),
		"from":   n.address.Hex(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode sponsor request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.sponsorURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build sponsor request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := n.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("submit sponsored transfer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sponsor relay rejected transfer: %s", resp.Status)
	}
	var relayResp struct {
		TxHash string `json:"tx_hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&relayResp); err != nil {
		return nil, fmt.Errorf("decode sponsor response: %w", err)
	}
	if relayResp.TxHash == "" {
		return nil, fmt.Errorf("sponsor relay returned no transaction hash")
	}
	return n.waitReceipt(ctx, common.HexToHash(relayResp.TxHash))
}

func (n *Node) Faucet(ctx context.Context) (string, error) {
	if strings.TrimSpace(n.faucetURL) == "" {
		return "", fmt.Errorf("faucet url is not configured")
	}
	body, err := json.Marshal(map[string]string{"address": n.address.Hex()})
	if err != nil {
		return "", fmt.Errorf("encode faucet request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.faucetURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build faucet request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := n.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request faucet funds: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("faucet rejected request: %s", resp.Status)
	}
	var faucetResp struct {
		TxHash string `json:"tx_hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&faucetResp); err != nil {
		return "", fmt.Errorf("decode faucet response: %w", err)
	}
	return faucetResp.TxHash, nil
}

func (n *Node) buildSignedTx(ctx context.Context, inv Invocation) (*types.Transaction, error) {
	value := inv.Value
	if value == nil {
		value = new(big.Int)
	}
	to := inv.To
	msg := ethereum.CallMsg{From: n.address, To: &to, Value: value, Data: inv.Data}

	gasLimit := inv.GasLimit
	if gasLimit == 0 {
		estimated, err := n.client.EstimateGas(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("estimate gas: %w", err)
		}
		gasLimit = estimated + estimated/5
	}

	tipCap := inv.GasTipCap
	if tipCap == nil {
		suggested, err := n.client.SuggestGasTipCap(ctx)
		if err != nil {
			suggested = big.NewInt(2_000_000_000) // 2 gwei fallback
		}
		tipCap = suggested
	}
	feeCap := inv.GasFeeCap
	if feeCap == nil {
		header, err := n.client.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("fetch latest header: %w", err)
		}
		baseFee := header.BaseFee
		if baseFee == nil {
			baseFee = big.NewInt(1_000_000_000)
		}
		feeCap = new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tipCap)
	}

	nonce, err := n.client.PendingNonceAt(ctx, n.address)
	if err != nil {
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   n.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      inv.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(n.chainID), n.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}

func (n *Node) waitReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, n.confirmTimeout)
	defer cancel()
	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := n.client.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return &Receipt{
					TxHash:      hash.Hex(),
					BlockNumber: receipt.BlockNumber.Uint64(),
					GasUsed:     receipt.GasUsed,
				}, nil
			}
			return nil, errors.New("transaction reverted on-chain")
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && waitCtx.Err() == nil {
			n.log.WithError(err).Debug("receipt poll failed, retrying")
		}
		select {
		case <-waitCtx.Done():
			return nil, agenterr.Wrap(agenterr.KindTimeout, "timed out waiting for confirmation of "+hash.Hex(), waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func isRevert(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

var erc20ABI = mustABI(registry.ERC20MinimalABI)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
