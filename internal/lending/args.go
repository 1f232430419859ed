package lending

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/gustavo/defi-agent/internal/registry"
)

// VariableRate is the Aave interest rate mode used for borrow and repay.
// Stable-rate borrowing is deliberately not exposed.
const VariableRate = 2

// ReferralCode is always zero; the referral program is inactive.
const ReferralCode uint16 = 0

// ApproveArgs grants the pool an allowance on the asset before supply/repay.
type ApproveArgs struct {
	Spender common.Address
	Value   *big.Int
}

func (a ApproveArgs) Validate() error {
	if a.Spender == (common.Address{}) {
		return fmt.Errorf("approve: spender address is zero")
	}
	if a.Value == nil || a.Value.Sign() <= 0 {
		return fmt.Errorf("approve: value must be positive")
	}
	return nil
}

func (a ApproveArgs) Calldata() ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return erc20ABI.Pack("approve", a.Spender, a.Value)
}

type SupplyArgs struct {
	Asset      common.Address
	Amount     *big.Int
	OnBehalfOf common.Address
}

func (a SupplyArgs) Validate() error {
	if a.Asset == (common.Address{}) {
		return fmt.Errorf("supply: asset address is zero")
	}
	if a.Amount == nil || a.Amount.Sign() <= 0 {
		return fmt.Errorf("supply: amount must be positive")
	}
	if a.OnBehalfOf == (common.Address{}) {
		return fmt.Errorf("supply: on-behalf-of address is zero")
	}
	return nil
}

func (a SupplyArgs) Calldata() ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return aavePoolABI.Pack("supply", a.Asset, a.Amount, a.OnBehalfOf, ReferralCode)
}

type BorrowArgs struct {
	Asset      common.Address
	Amount     *big.Int
	OnBehalfOf common.Address
}

func (a BorrowArgs) Validate() error {
	if a.Asset == (common.Address{}) {
		return fmt.Errorf("borrow: asset address is zero")
	}
	if a.Amount == nil || a.Amount.Sign() <= 0 {
		return fmt.Errorf("borrow: amount must be positive")
	}
	if a.OnBehalfOf == (common.Address{}) {
		return fmt.Errorf("borrow: on-behalf-of address is zero")
	}
	return nil
}

func (a BorrowArgs) Calldata() ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return aavePoolABI.Pack("borrow", a.Asset, a.Amount, big.NewInt(VariableRate), ReferralCode, a.OnBehalfOf)
}

type RepayArgs struct {
	Asset      common.Address
	Amount     *big.Int
	OnBehalfOf common.Address
}

func (a RepayArgs) Validate() error {
	if a.Asset == (common.Address{}) {
		return fmt.Errorf("repay: asset address is zero")
	}
	if a.Amount == nil || a.Amount.Sign() <= 0 {
		return fmt.Errorf("repay: amount must be positive")
	}
	if a.OnBehalfOf == (common.Address{}) {
		return fmt.Errorf("repay: on-behalf-of address is zero")
	}
	return nil
}

func (a RepayArgs) Calldata() ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return aavePoolABI.Pack("repay", a.Asset, a.Amount, big.NewInt(VariableRate), a.OnBehalfOf)
}

type WithdrawArgs struct {
	Asset  common.Address
	Amount *big.Int
	To     common.Address
}

func (a WithdrawArgs) Validate() error {
	if a.Asset == (common.Address{}) {
		return fmt.Errorf("withdraw: asset address is zero")
	}
	if a.Amount == nil || a.Amount.Sign() <= 0 {
		return fmt.Errorf("withdraw: amount must be positive")
	}
	if a.To == (common.Address{}) {
		return fmt.Errorf("withdraw: recipient address is zero")
	}
	return nil
}

func (a WithdrawArgs) Calldata() ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return aavePoolABI.Pack("withdraw", a.Asset, a.Amount, a.To)
}

var (
	erc20ABI    = mustABI(registry.ERC20MinimalABI)
	aavePoolABI = mustABI(registry.AavePoolABI)
)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
