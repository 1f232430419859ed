// Package lending sequences the multi-step on-chain operations behind each
// user action: allowance approval before supply/repay, balance preconditions
// before token transfers, and network gating for the faucet. Every operation
// returns a TransactionOutcome; nothing in this package retries on its own.
package lending

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	agenterr "github.com/gustavo/defi-agent/internal/errors"
	"github.com/gustavo/defi-agent/internal/model"
	"github.com/gustavo/defi-agent/internal/registry"
	"github.com/gustavo/defi-agent/internal/units"
	"github.com/gustavo/defi-agent/internal/wallet"
)

// indexingDelay is the retry hint attached to unsupported-asset outcomes:
// freshly deployed tokens become visible once the network indexes them.
const indexingDelay = 30 * time.Minute

// Journal records outcomes for later inspection. Recording failures are
// logged, never surfaced; the journal is not part of the action's fate.
type Journal interface {
	Record(ctx context.Context, action model.ActionName, outcome model.TransactionOutcome) error
}

type Orchestrator struct {
	wallet  wallet.Wallet
	network registry.Network
	pool    common.Address
	stable  model.Asset
	journal Journal
	log     logrus.FieldLogger
}

func New(w wallet.Wallet, journal Journal, log logrus.FieldLogger) (*Orchestrator, error) {
	network := w.Network()
	pool, ok := registry.AavePool(network)
	if !ok {
		return nil, fmt.Errorf("no aave pool deployment for network %s", network.ID)
	}
	stable, ok := registry.FirstClassAsset(network, "usdc")
	if !ok {
		return nil, fmt.Errorf("no stablecoin configured for network %s", network.ID)
	}
	return &Orchestrator{
		wallet:  w,
		network: network,
		pool:    pool,
		stable:  stable,
		journal: journal,
		log:     log,
	}, nil
}

// Dispatch routes one ActionRequest to the matching operation.
func (o *Orchestrator) Dispatch(ctx context.Context, req model.ActionRequest) model.TransactionOutcome {
	switch req.Action {
	case model.ActionSupply:
		return o.Supply(ctx, req.Amount)
	case model.ActionBorrow:
		return o.Borrow(ctx, req.Amount)
	case model.ActionRepay:
		return o.Repay(ctx, req.Amount)
	case model.ActionWithdraw:
		return o.Withdraw(ctx, req.Amount)
	case model.ActionTransfer:
		return o.Transfer(ctx, req.Amount, req.Asset, req.Counterparty)
	case model.ActionFaucet:
		return o.RequestFaucet(ctx)
	default:
		return model.OutcomeFromError(agenterr.New(agenterr.KindInvalidRequest, fmt.Sprintf("unknown action %q", req.Action)))
	}
}

// Supply deposits the stablecoin into the Aave pool. The allowance approval
// must confirm before the supply call is attempted; an approval failure
// aborts the whole operation.
func (o *Orchestrator) Supply(ctx context.Context, amount string) model.TransactionOutcome {
	return o.record(ctx, model.ActionSupply, func() model.TransactionOutcome {
		baseAmount, err := units.ToBaseUnitsInt(amount, o.stable.Decimals)
		if err != nil {
			return model.OutcomeFromError(err)
		}
		if outcome, ok := o.approve(ctx, baseAmount); !ok {
			return outcome
		}
		calldata, err := SupplyArgs{
			Asset:      o.stableAddress(),
			Amount:     baseAmount,
			OnBehalfOf: o.wallet.Address(),
		}.Calldata()
		if err != nil {
			return model.OutcomeFromError(agenterr.Wrap(agenterr.KindInvalidRequest, "build supply call", err))
		}
		receipt, err := o.wallet.Invoke(ctx, wallet.Invocation{To: o.pool, Data: calldata})
		if err != nil {
			return o.actionFailure("supply", err)
		}
		return model.ConfirmedOutcome(receipt.TxHash, receipt.BlockNumber,
			fmt.Sprintf("Supplied %s %s to Aave", amount, o.stable.Symbol))
	})
}

// Borrow draws a variable-rate loan from the pool. No allowance is involved.
func (o *Orchestrator) Borrow(ctx context.Context, amount string) model.TransactionOutcome {
	return o.record(ctx, model.ActionBorrow, func() model.TransactionOutcome {
		baseAmount, err := units.ToBaseUnitsInt(amount, o.stable.Decimals)
		if err != nil {
			return model.OutcomeFromError(err)
		}
		calldata, err := BorrowArgs{
			Asset:      o.stableAddress(),
			Amount:     baseAmount,
			OnBehalfOf: o.wallet.Address(),
		}.Calldata()
		if err != nil {
			return model.OutcomeFromError(agenterr.Wrap(agenterr.KindInvalidRequest, "build borrow call", err))
		}
		receipt, err := o.wallet.Invoke(ctx, wallet.Invocation{To: o.pool, Data: calldata})
		if err != nil {
			return o.actionFailure("borrow", err)
		}
		return model.ConfirmedOutcome(receipt.TxHash, receipt.BlockNumber,
			fmt.Sprintf("Borrowed %s %s from Aave", amount, o.stable.Symbol))
	})
}

// Repay returns borrowed funds. Like Supply it is two-phase: the pool needs
// an allowance on the repayment amount first.
func (o *Orchestrator) Repay(ctx context.Context, amount string) model.TransactionOutcome {
	return o.record(ctx, model.ActionRepay, func() model.TransactionOutcome {
		baseAmount, err := units.ToBaseUnitsInt(amount, o.stable.Decimals)
		if err != nil {
			return model.OutcomeFromError(err)
		}
		if outcome, ok := o.approve(ctx, baseAmount); !ok {
			return outcome
		}
		calldata, err := RepayArgs{
			Asset:      o.stableAddress(),
			Amount:     baseAmount,
			OnBehalfOf: o.wallet.Address(),
		}.Calldata()
		if err != nil {
			return model.OutcomeFromError(agenterr.Wrap(agenterr.KindInvalidRequest, "build repay call", err))
		}
		receipt, err := o.wallet.Invoke(ctx, wallet.Invocation{To: o.pool, Data: calldata})
		if err != nil {
			return o.actionFailure("repay", err)
		}
		return model.ConfirmedOutcome(receipt.TxHash, receipt.BlockNumber,
			fmt.Sprintf("Repaid %s %s to Aave", amount, o.stable.Symbol))
	})
}

// Withdraw reclaims supplied collateral to the session address.
func (o *Orchestrator) Withdraw(ctx context.Context, amount string) model.TransactionOutcome {
	return o.record(ctx, model.ActionWithdraw, func() model.TransactionOutcome {
		baseAmount, err := units.ToBaseUnitsInt(amount, o.stable.Decimals)
		if err != nil {
			return model.OutcomeFromError(err)
		}
		calldata, err := WithdrawArgs{
			Asset:  o.stableAddress(),
			Amount: baseAmount,
			To:     o.wallet.Address(),
		}.Calldata()
		if err != nil {
			return model.OutcomeFromError(agenterr.Wrap(agenterr.KindInvalidRequest, "build withdraw call", err))
		}
		receipt, err := o.wallet.Invoke(ctx, wallet.Invocation{To: o.pool, Data: calldata})
		if err != nil {
			return o.actionFailure("withdraw", err)
		}
		return model.ConfirmedOutcome(receipt.TxHash, receipt.BlockNumber,
			fmt.Sprintf("Withdrew %s %s from Aave", amount, o.stable.Symbol))
	})
}

// Transfer sends an asset to a destination address. The native coin and the
// primary stablecoin submit directly because the transfer call itself
// enforces sufficiency; every other asset gets a balance pre-flight so that
// unsupported assets and shortfalls surface as distinct outcomes. The gasless
// route applies only to the stablecoin on the production network.
func (o *Orchestrator) Transfer(ctx context.Context, amount, assetID, destination string) model.TransactionOutcome {
	return o.record(ctx, model.ActionTransfer, func() model.TransactionOutcome {
		if !common.IsHexAddress(destination) {
			return model.OutcomeFromError(agenterr.New(agenterr.KindInvalidRequest, "destination must be a valid address"))
		}
		dest := common.HexToAddress(destination)

		if asset, ok := registry.FirstClassAsset(o.network, assetID); ok {
			if _, err := units.ToBaseUnitsInt(amount, asset.Decimals); err != nil {
				return model.OutcomeFromError(err)
			}
			gasless := o.network.Production && asset.Symbol == "usdc"
			receipt, err := o.wallet.Transfer(ctx, wallet.TransferRequest{
				Amount:      amount,
				Asset:       asset,
				Destination: dest,
				Gasless:     gasless,
			})
			if err != nil {
				return o.actionFailure("transfer", err)
			}
			suffix := ""
			if gasless {
				suffix = " (gasless)"
			}
			return model.ConfirmedOutcome(receipt.TxHash, receipt.BlockNumber,
				fmt.Sprintf("Transferred %s %s%s to %s", amount, asset.Symbol, suffix, dest.Hex()))
		}

		asset, ok := registry.ResolveAsset(o.network, assetID)
		if !ok {
			return model.OutcomeFromError(agenterr.New(agenterr.KindInvalidRequest,
				fmt.Sprintf("asset %q is neither a known symbol nor a token address", assetID)))
		}
		requested, err := units.ToBaseUnitsInt(amount, asset.Decimals)
		if err != nil {
			return model.OutcomeFromError(err)
		}

		available, err := o.wallet.Balance(ctx, asset)
		if err != nil {
			if errors.Is(err, wallet.ErrUnsupportedAsset) {
				return model.OutcomeFromError(o.unsupportedAsset(assetID))
			}
			return model.OutcomeFromError(agenterr.Wrap(agenterr.KindUnavailable, "read balance before transfer", err))
		}
		if available.Cmp(requested) < 0 {
			return model.OutcomeFromError(agenterr.New(agenterr.KindInsufficientBalance,
				fmt.Sprintf("insufficient balance: have %s %s, tried to transfer %s",
					units.FromBaseUnits(available, asset.Decimals), asset.Symbol, amount)))
		}

		receipt, err := o.wallet.Transfer(ctx, wallet.TransferRequest{
			Amount:      amount,
			Asset:       asset,
			Destination: dest,
		})
		if err != nil {
			return o.actionFailure("transfer", err)
		}
		return model.ConfirmedOutcome(receipt.TxHash, receipt.BlockNumber,
			fmt.Sprintf("Transferred %s %s to %s", amount, asset.Symbol, dest.Hex()))
	})
}

// Balance is a pass-through read. No caching.
func (o *Orchestrator) Balance(ctx context.Context, assetID string) (model.BalanceReport, error) {
	asset, ok := registry.ResolveAsset(o.network, assetID)
	if !ok {
		return model.BalanceReport{}, agenterr.New(agenterr.KindInvalidRequest,
			fmt.Sprintf("asset %q is neither a known symbol nor a token address", assetID))
	}
	balance, err := o.wallet.Balance(ctx, asset)
	if err != nil {
		if errors.Is(err, wallet.ErrUnsupportedAsset) {
			return model.BalanceReport{}, o.unsupportedAsset(assetID)
		}
		return model.BalanceReport{}, agenterr.Wrap(agenterr.KindUnavailable, "read balance", err)
	}
	return model.BalanceReport{
		Asset:       asset.Symbol,
		BaseUnits:   balance.String(),
		Amount:      units.FromBaseUnits(balance, asset.Decimals),
		Address:     o.wallet.Address().Hex(),
		RetrievedAt: time.Now().UTC(),
	}, nil
}

// RequestFaucet asks the test-network faucet for funds. On the production
// network it answers statically; no call leaves the process.
func (o *Orchestrator) RequestFaucet(ctx context.Context) model.TransactionOutcome {
	return o.record(ctx, model.ActionFaucet, func() model.TransactionOutcome {
		if o.network.Production {
			return model.OutcomeFromError(agenterr.New(agenterr.KindNetworkNotSupported,
				"the faucet is only available on the test network"))
		}
		txHash, err := o.wallet.Faucet(ctx)
		if err != nil {
			return o.actionFailure("faucet", err)
		}
		return model.TransactionOutcome{
			Success: true,
			TxHash:  txHash,
			Message: "Requested funds from faucet",
		}
	})
}

// approve runs the allowance phase for supply/repay. The second return value
// is false when the operation must abort.
func (o *Orchestrator) approve(ctx context.Context, amount *big.Int) (model.TransactionOutcome, bool) {
	calldata, err := ApproveArgs{Spender: o.pool, Value: amount}.Calldata()
	if err != nil {
		return model.OutcomeFromError(agenterr.Wrap(agenterr.KindInvalidRequest, "build approve call", err)), false
	}
	receipt, err := o.wallet.Invoke(ctx, wallet.Invocation{To: o.stableAddress(), Data: calldata})
	if err != nil {
		if agenterr.KindOf(err) == agenterr.KindTimeout {
			return model.OutcomeFromError(err), false
		}
		return model.OutcomeFromError(agenterr.Wrap(agenterr.KindApprovalFailed, "approve allowance for pool", err)), false
	}
	o.log.WithField("tx", receipt.TxHash).Debug("allowance approved")
	return model.TransactionOutcome{}, true
}

func (o *Orchestrator) actionFailure(op string, err error) model.TransactionOutcome {
	if agenterr.KindOf(err) == agenterr.KindTimeout {
		return model.OutcomeFromError(err)
	}
	return model.OutcomeFromError(agenterr.Wrap(agenterr.KindActionFailed, op+" failed", err))
}

func (o *Orchestrator) unsupportedAsset(assetID string) error {
	return agenterr.New(agenterr.KindUnsupportedAsset,
		fmt.Sprintf("asset %s is not supported on this network; it may have been recently deployed and not indexed yet", assetID)).
		WithRetryAfter(indexingDelay)
}

func (o *Orchestrator) record(ctx context.Context, action model.ActionName, run func() model.TransactionOutcome) model.TransactionOutcome {
	outcome := run()
	if o.journal != nil {
		if err := o.journal.Record(ctx, action, outcome); err != nil {
			o.log.WithError(err).Warn("record outcome")
		}
	}
	entry := o.log.WithFields(logrus.Fields{"action": action, "success": outcome.Success})
	if outcome.Success {
		entry.WithField("tx", outcome.TxHash).Info("action confirmed")
	} else {
		entry.WithField("kind", outcome.ErrorKind).Warn("action failed")
	}
	return outcome
}

func (o *Orchestrator) stableAddress() common.Address {
	return common.HexToAddress(o.stable.ContractAddress)
}
