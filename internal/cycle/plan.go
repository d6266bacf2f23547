// Package cycle runs the repeated commit/compensate sequence of one unit.
package cycle

import (
	"fmt"
	"math/big"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/cycle_runner/internal/errors"
)

const etherDecimals = 18

// Plan is how many cycles a unit runs and, when Interval is non-zero, the
// fixed period between cycle starts.
type Plan struct {
	Repetitions int
	Interval    time.Duration
}

// Periodic reports whether cycles are driven by a fixed schedule.
func (p Plan) Periodic() bool {
	return p.Interval > 0
}

// AmountRange is a closed range of ether amounts on a decimal grid.
type AmountRange struct {
	lo, hi    *big.Int // in grid units
	precision int32
	scale     *big.Int // wei per grid unit
}

// NewAmountRange parses [min, max] in ether with the given number of decimals.
// Bounds are snapped inward onto the grid.
func NewAmountRange(min, max string, precision int) (AmountRange, error) {
	if precision < 0 || precision > etherDecimals {
		return AmountRange{}, errors.Configurationf("amount range", "precision %d out of range", precision)
	}
	lo, err := decimal.NewFromString(min)
	if err != nil {
		return AmountRange{}, errors.Configuration("amount range", fmt.Errorf("min %q: %w", min, err))
	}
	hi, err := decimal.NewFromString(max)
	if err != nil {
		return AmountRange{}, errors.Configuration("amount range", fmt.Errorf("max %q: %w", max, err))
	}

	p := int32(precision)
	r := AmountRange{
		lo:        lo.Shift(p).Ceil().BigInt(),
		hi:        hi.Shift(p).Floor().BigInt(),
		precision: p,
		scale:     new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(etherDecimals-precision)), nil),
	}
	if r.lo.Sign() <= 0 {
		return AmountRange{}, errors.Configurationf("amount range", "min %s is not positive at %d decimals", min, precision)
	}
	if r.lo.Cmp(r.hi) > 0 {
		return AmountRange{}, errors.Configurationf("amount range", "no amount in [%s, %s] at %d decimals", min, max, precision)
	}
	return r, nil
}

// Draw returns a uniformly chosen amount in wei.
func (r AmountRange) Draw(rng *rand.Rand) *big.Int {
	span := new(big.Int).Sub(r.hi, r.lo)
	span.Add(span, big.NewInt(1))
	units := new(big.Int).Rand(rng, span)
	units.Add(units, r.lo)
	return units.Mul(units, r.scale)
}

// Min returns the smallest drawable amount in wei.
func (r AmountRange) Min() *big.Int {
	return new(big.Int).Mul(r.lo, r.scale)
}

// Max returns the largest drawable amount in wei.
func (r AmountRange) Max() *big.Int {
	return new(big.Int).Mul(r.hi, r.scale)
}

// OnGrid reports whether wei is a multiple of the grid step.
func (r AmountRange) OnGrid(wei *big.Int) bool {
	return new(big.Int).Mod(wei, r.scale).Sign() == 0
}

// FormatEther renders wei as a decimal ether string.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).String()
}

// DelayWindow is a closed range of sleep durations.
type DelayWindow struct {
	Min time.Duration
	Max time.Duration
}

// Draw returns a uniformly chosen duration in the window.
func (w DelayWindow) Draw(rng *rand.Rand) time.Duration {
	if w.Max <= w.Min {
		return w.Min
	}
	return w.Min + time.Duration(rng.Int63n(int64(w.Max-w.Min)+1))
}
