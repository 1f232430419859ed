// Package quotes builds the ranked lending-pool listing from live chain
// reads. Each configured pool is quoted independently and concurrently;
// a pool whose price feed cannot be read is dropped from the listing while
// the rest proceed. Only an empty result is an error.
package quotes

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	agenterr "github.com/gustavo/defi-agent/internal/errors"
	"github.com/gustavo/defi-agent/internal/model"
	"github.com/gustavo/defi-agent/internal/registry"
)

// blocksPerYear is the compounding period count for yields (2-second blocks).
const blocksPerYear = 2_102_400

// rateScale is the fixed-point scale of Compound's supply rate.
var rateScale = big.NewFloat(1e18)

// Reader is the read-only chain surface the service needs. *ethclient.Client
// satisfies it.
type Reader interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

type Service struct {
	reader  Reader
	network registry.Network
	timeout time.Duration
	log     logrus.FieldLogger
}

// New builds a quote service bound to one network. timeout bounds a whole
// listing; zero means the caller's context is the only bound.
func New(reader Reader, network registry.Network, timeout time.Duration, log logrus.FieldLogger) *Service {
	return &Service{reader: reader, network: network, timeout: timeout, log: log}
}

// ListPools quotes every configured pool and returns them ordered by yield,
// highest first, ties broken by TVL. Listings are built fresh on every call.
func (s *Service) ListPools(ctx context.Context) ([]model.LendingPool, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	configured := registry.QuotedPools(s.network)
	quoted := make([]*model.LendingPool, len(configured))
	var wg sync.WaitGroup
	for i, p := range configured {
		wg.Add(1)
		go func(i int, p registry.QuotedPool) {
			defer wg.Done()
			pool, err := s.quote(ctx, p)
			if err != nil {
				s.log.WithError(err).WithField("asset", p.Asset).Warn("skipping pool")
				return
			}
			quoted[i] = pool
		}(i, p)
	}
	wg.Wait()

	pools := make([]model.LendingPool, 0, len(quoted))
	for _, p := range quoted {
		if p != nil {
			pools = append(pools, *p)
		}
	}
	if len(pools) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, agenterr.Wrap(agenterr.KindUnavailable, "pool listing interrupted", err)
		}
		return nil, agenterr.New(agenterr.KindNoPoolsAvailable, "no lending pools could be quoted")
	}
	sort.SliceStable(pools, func(i, j int) bool {
		if pools[i].APY != pools[j].APY {
			return pools[i].APY > pools[j].APY
		}
		return pools[i].TVL > pools[j].TVL
	})
	return pools, nil
}

// quote reads one pool. The price is mandatory; rate and total supply
// degrade to zero so a flaky comet read never hides the pool.
func (s *Service) quote(ctx context.Context, p registry.QuotedPool) (*model.LendingPool, error) {
	price, err := s.feedPrice(ctx, common.HexToAddress(p.FeedAddress))
	if err != nil {
		return nil, fmt.Errorf("price feed for %s: %w", p.Asset, err)
	}

	poolAddr := common.HexToAddress(p.PoolAddress)
	apy := 0.0
	if rate, err := s.supplyRate(ctx, poolAddr); err != nil {
		s.log.WithError(err).WithField("asset", p.Asset).Debug("supply rate unavailable, reporting 0%")
	} else {
		apy = annualize(rate)
	}

	supplied := 0.0
	if total, err := s.totalSupply(ctx, poolAddr); err != nil {
		s.log.WithError(err).WithField("asset", p.Asset).Debug("total supply unavailable, reporting 0")
	} else {
		units, _ := new(big.Float).Quo(new(big.Float).SetInt(total), pow10(p.Decimals)).Float64()
		supplied = units
	}

	return &model.LendingPool{
		Asset:        p.Asset,
		Protocol:     p.Protocol,
		APY:          apy,
		TVL:          supplied * price,
		PriceUSD:     price,
		Available:    supplied,
		TokenAddress: p.TokenAddress,
		PoolAddress:  p.PoolAddress,
		RiskLevel:    p.RiskLevel,
	}, nil
}

func (s *Service) feedPrice(ctx context.Context, feed common.Address) (float64, error) {
	answerOut, err := s.call(ctx, feed, feedABI, "latestAnswer")
	if err != nil {
		return 0, err
	}
	answer := answerOut[0].(*big.Int)
	if answer.Sign() <= 0 {
		return 0, fmt.Errorf("feed reported non-positive answer %s", answer)
	}
	decimalsOut, err := s.call(ctx, feed, feedABI, "decimals")
	if err != nil {
		return 0, err
	}
	decimals := decimalsOut[0].(uint8)
	price, _ := new(big.Float).Quo(new(big.Float).SetInt(answer), pow10(decimals)).Float64()
	return price, nil
}

func (s *Service) supplyRate(ctx context.Context, pool common.Address) (*big.Int, error) {
	out, err := s.call(ctx, pool, cometABI, "getSupplyRate")
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (s *Service) totalSupply(ctx context.Context, pool common.Address) (*big.Int, error) {
	out, err := s.call(ctx, pool, cometABI, "totalSupply")
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (s *Service) call(ctx context.Context, to common.Address, contract abi.ABI, method string) ([]any, error) {
	data, err := contract.Pack(method)
	if err != nil {
		return nil, err
	}
	raw, err := s.reader.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty returndata from %s.%s", to.Hex(), method)
	}
	return contract.Unpack(method, raw)
}

// annualize turns a fixed-point nominal supply rate into an effective yearly
// percentage, compounded once per block.
func annualize(supplyRate *big.Int) float64 {
	rate, _ := new(big.Float).Quo(new(big.Float).SetInt(supplyRate), rateScale).Float64()
	if rate <= 0 {
		return 0
	}
	return (math.Pow(1+rate/blocksPerYear, blocksPerYear) - 1) * 100
}

func pow10(decimals uint8) *big.Float {
	return new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
}

var (
	feedABI  = mustABI(registry.ChainlinkAggregatorABI)
	cometABI = mustABI(registry.CompoundCometABI)
)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
