// Package wallet holds the session boundary between the orchestration core
// and the signing/broadcast collaborator. The core talks to the Wallet
// interface only; Node is the go-ethereum backed implementation constructed
// once at startup.
package wallet

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gustavo/defi-agent/internal/model"
	"github.com/gustavo/defi-agent/internal/registry"
)

// ErrUnsupportedAsset reports a token whose balance cannot be read on this
// network, typically because the contract is not deployed or not yet indexed.
var ErrUnsupportedAsset = errors.New("asset is not supported on this network")

// TransferRequest moves an asset to a destination address. Amount is a
// human-readable decimal; conversion to base units happens at submission.
type TransferRequest struct {
	Amount      string
	Asset       model.Asset
	Destination common.Address
	Gasless     bool
}

// Invocation is one generic contract call to sign, broadcast, and confirm.
// Gas fields are optional overrides; zero values mean "estimate".
type Invocation struct {
	To        common.Address
	Data      []byte
	Value     *big.Int
	GasLimit  uint64
	GasFeeCap *big.Int
	GasTipCap *big.Int
}

// Receipt describes a confirmed transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
}

// Wallet is the capability set the orchestration core depends on. The
// implementation owns nonce ordering; the core never assumes two concurrent
// submissions from the same account are safe.
type Wallet interface {
	Address() common.Address
	Network() registry.Network
	Balance(ctx context.Context, asset model.Asset) (*big.Int, error)
	Transfer(ctx context.Context, req TransferRequest) (*Receipt, error)
	Invoke(ctx context.Context, inv Invocation) (*Receipt, error)
	Faucet(ctx context.Context) (string, error)
}
