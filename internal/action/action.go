// Package action describes the on-chain operations a cycle performs.
//
// A cycle runs a Pair: the Commit action followed by its Compensate action,
// which reverses the commit's effect. The cycle loop never looks inside an
// action; it only asks for calldata, value and gas limit for a given amount.
package action

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Action is one contract call parameterized by an amount in wei.
type Action struct {
	Name     string
	Target   common.Address
	Calldata func(amount *big.Int) ([]byte, error)
	// Value returns the native value attached to the call. Nil means zero.
	Value    func(amount *big.Int) *big.Int
	GasLimit uint64
}

// Data encodes the call for amount.
func (a Action) Data(amount *big.Int) ([]byte, error) {
	if a.Calldata == nil {
		return nil, nil
	}
	data, err := a.Calldata(amount)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", a.Name, err)
	}
	return data, nil
}

// ValueFor returns the value attached to the call for amount.
func (a Action) ValueFor(amount *big.Int) *big.Int {
	if a.Value == nil {
		return new(big.Int)
	}
	return a.Value(amount)
}

// Pair is a commit action and the action that reverses it.
type Pair struct {
	Name       string
	Commit     Action
	Compensate Action
	// Output maps the committed amount to the compensating amount. Nil is identity.
	Output func(amount *big.Int) *big.Int
	// PauseBetweenLegs asks the loop to sleep a random delay between the two actions.
	PauseBetweenLegs bool
}

// CompensateAmount returns the input amount for the compensating action.
func (p Pair) CompensateAmount(amount *big.Int) *big.Int {
	if p.Output == nil {
		return new(big.Int).Set(amount)
	}
	return p.Output(amount)
}

// Contracts holds the addresses the shipped variants talk to.
type Contracts struct {
	WMON  common.Address
	Magma common.Address
}
