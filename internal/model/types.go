package model

import (
	"time"

	agenterr "github.com/gustavo/defi-agent/internal/errors"
)

// Asset identifies a token on the active network. The native coin has no
// contract address; decimals are fixed for the lifetime of a session.
type Asset struct {
	Symbol          string `json:"symbol"`
	ContractAddress string `json:"contract_address,omitempty"`
	Decimals        uint8  `json:"decimals"`
}

// Native reports whether the asset is the chain's native coin.
func (a Asset) Native() bool { return a.ContractAddress == "" }

type ActionName string

const (
	ActionSupply   ActionName = "supply"
	ActionBorrow   ActionName = "borrow"
	ActionRepay    ActionName = "repay"
	ActionWithdraw ActionName = "withdraw"
	ActionTransfer ActionName = "transfer"
	ActionBalance  ActionName = "balance"
	ActionFaucet   ActionName = "faucet"
	ActionLend     ActionName = "lend"
)

// ActionRequest is one inbound call. It is immutable once created and
// discarded after the matching outcome is produced.
type ActionRequest struct {
	Action       ActionName `json:"action"`
	Amount       string     `json:"amount"`
	Asset        string     `json:"asset,omitempty"`
	Counterparty string     `json:"counterparty,omitempty"`
}

// TransactionOutcome is the uniform result of one submitted on-chain call.
// Never mutated after creation.
type TransactionOutcome struct {
	Success     bool          `json:"success"`
	TxHash      string        `json:"tx_hash,omitempty"`
	BlockNumber uint64        `json:"block_number,omitempty"`
	ErrorKind   agenterr.Kind `json:"error_kind,omitempty"`
	Message     string        `json:"message"`
	RetryAfter  string        `json:"retry_after,omitempty"`
}

// OutcomeFromError builds a failed outcome from a typed error, carrying the
// retry hint when one is attached.
func OutcomeFromError(err error) TransactionOutcome {
	out := TransactionOutcome{
		Success:   false,
		ErrorKind: agenterr.KindOf(err),
		Message:   err.Error(),
	}
	if typed, ok := agenterr.As(err); ok && typed.RetryAfter > 0 {
		out.RetryAfter = typed.RetryAfter.String()
	}
	return out
}

// ConfirmedOutcome builds a successful outcome for a confirmed transaction.
func ConfirmedOutcome(txHash string, blockNumber uint64, message string) TransactionOutcome {
	return TransactionOutcome{
		Success:     true,
		TxHash:      txHash,
		BlockNumber: blockNumber,
		Message:     message,
	}
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// LendingPool is one quoted pool. Rebuilt fresh on every listing; never cached.
type LendingPool struct {
	Asset        string    `json:"asset"`
	Protocol     string    `json:"protocol"`
	APY          float64   `json:"apy"`
	TVL          float64   `json:"tvl"`
	PriceUSD     float64   `json:"priceUSD"`
	Available    float64   `json:"available"`
	TokenAddress string    `json:"tokenAddress"`
	PoolAddress  string    `json:"poolAddress"`
	RiskLevel    RiskLevel `json:"riskLevel"`
}

// BalanceReport pairs a raw balance with the asset it belongs to.
type BalanceReport struct {
	Asset       string    `json:"asset"`
	BaseUnits   string    `json:"base_units"`
	Amount      string    `json:"amount"`
	Address     string    `json:"address"`
	RetrievedAt time.Time `json:"retrieved_at"`
}
