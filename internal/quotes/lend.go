package quotes

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	agenterr "github.com/gustavo/defi-agent/internal/errors"
	"github.com/gustavo/defi-agent/internal/lending"
	"github.com/gustavo/defi-agent/internal/model"
	"github.com/gustavo/defi-agent/internal/registry"
	"github.com/gustavo/defi-agent/internal/units"
	"github.com/gustavo/defi-agent/internal/wallet"
)

// Quoted pools accept 18-decimal amounts and are pre-approved for the
// session address, so the lend path has no allowance phase. The gas ceiling
// and fee multiplier are fixed rather than estimated.
const (
	lendDecimals  uint8  = 18
	lendGasLimit  uint64 = 300_000
	feeMultiplier int64  = 2
)

// Lender submits supply calls against the quoted pools.
type Lender struct {
	wallet  wallet.Wallet
	reader  Reader
	network registry.Network
	journal lending.Journal
	log     logrus.FieldLogger
}

func NewLender(w wallet.Wallet, reader Reader, journal lending.Journal, log logrus.FieldLogger) *Lender {
	return &Lender{wallet: w, reader: reader, network: w.Network(), journal: journal, log: log}
}

// SubmitLend deposits tokenAmount into the quoted pool at poolAddress and
// blocks until the transaction is included.
func (l *Lender) SubmitLend(ctx context.Context, asset, tokenAmount, poolAddress string) model.TransactionOutcome {
	outcome := l.submit(ctx, asset, tokenAmount, poolAddress)
	if l.journal != nil {
		if err := l.journal.Record(ctx, model.ActionLend, outcome); err != nil {
			l.log.WithError(err).Warn("record lend outcome")
		}
	}
	return outcome
}

func (l *Lender) submit(ctx context.Context, asset, tokenAmount, poolAddress string) model.TransactionOutcome {
	pool, ok := l.findPool(asset, poolAddress)
	if !ok {
		return model.OutcomeFromError(agenterr.New(agenterr.KindInvalidRequest,
			fmt.Sprintf("no quoted pool matches asset %q at %q", asset, poolAddress)))
	}

	amount, err := units.ToBaseUnitsInt(tokenAmount, lendDecimals)
	if err != nil {
		return model.OutcomeFromError(err)
	}
	if amount.Sign() <= 0 {
		return model.OutcomeFromError(agenterr.New(agenterr.KindInvalidAmount, "lend amount must be positive"))
	}

	calldata, err := cometABI.Pack("supply", common.HexToAddress(pool.TokenAddress), amount)
	if err != nil {
		return model.OutcomeFromError(agenterr.Wrap(agenterr.KindInvalidRequest, "build supply call", err))
	}

	gasPrice, err := l.reader.SuggestGasPrice(ctx)
	if err != nil {
		return model.OutcomeFromError(agenterr.Wrap(agenterr.KindUnavailable, "estimate network fee", err))
	}

	receipt, err := l.wallet.Invoke(ctx, wallet.Invocation{
		To:        common.HexToAddress(pool.PoolAddress),
		Data:      calldata,
		GasLimit:  lendGasLimit,
		GasFeeCap: new(big.Int).Mul(gasPrice, big.NewInt(feeMultiplier)),
	})
	if err != nil {
		if agenterr.KindOf(err) == agenterr.KindTimeout {
			return model.OutcomeFromError(err)
		}
		return model.OutcomeFromError(agenterr.Wrap(agenterr.KindActionFailed, "lend failed", err))
	}
	return model.ConfirmedOutcome(receipt.TxHash, receipt.BlockNumber,
		fmt.Sprintf("Lent %s %s to %s", tokenAmount, pool.Asset, pool.Protocol))
}

// findPool matches by pool address first, then by asset symbol.
func (l *Lender) findPool(asset, poolAddress string) (registry.QuotedPool, bool) {
	for _, p := range registry.QuotedPools(l.network) {
		if poolAddress != "" && strings.EqualFold(p.PoolAddress, poolAddress) {
			return p, true
		}
	}
	for _, p := range registry.QuotedPools(l.network) {
		if poolAddress == "" && strings.EqualFold(p.Asset, asset) {
			return p, true
		}
	}
	return registry.QuotedPool{}, false
}
