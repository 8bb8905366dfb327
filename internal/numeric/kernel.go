// Package numeric implements the safe numeric kernel (C1): overflow/underflow
// checked arithmetic for fee math, modelled on the teacher's economics
// package (chain/economics/kernel.go, chain/x/mint/types/supply_equilibrium.go)
// but generalized from hardcoded quarters to caller-supplied ratios, and
// promoted from sdk.Dec to shopspring/decimal since this kernel runs off-chain.
package numeric

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/sovrn-protocol/relay/internal/relayerrors"
)

// MaxComputeUnits is the protocol's maximum compute-unit budget per
// transaction; callers request more, it gets clamped here.
const MaxComputeUnits = 1_400_000

// PriorityFeePerUnit is the priority-fee component, in native units per
// compute unit (0.001 per spec §4.1).
var PriorityFeePerUnit = decimal.NewFromFloat(0.001)

// Amount is an integer amount in the smallest unit of some token. The type
// exists so a caller can't accidentally mix a raw int64 compute-units value
// with a raw int64 amount value.
type Amount int64

// AddChecked returns a+b, failing on int64 overflow.
func AddChecked(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

// SubChecked returns a-b, failing on int64 underflow below the representable
// range (not failing on a negative result — callers check sign separately).
func SubChecked(a, b int64) (int64, bool) {
	diff := a - b
	if (b < 0 && diff < a) || (b > 0 && diff > a) {
		return 0, false
	}
	return diff, true
}

// MulChecked returns a*b, failing on int64 overflow.
func MulChecked(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	product := a * b
	if product/b != a {
		return 0, false
	}
	return product, true
}

// FeeSplit divides total T into (burn, treasury) by ratio r in (0,1), such
// that burn = floor(T*r) and treasury = T - burn, so burn+treasury == T
// exactly (no dust left over). Spec §4.1.
func FeeSplit(total int64, ratio decimal.Decimal) (burn int64, treasury int64, err *relayerrors.Error) {
	if total < 0 {
		return 0, 0, relayerrors.FeeOverflow("fee split: negative total")
	}
	if ratio.LessThanOrEqual(decimal.Zero) || ratio.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return 0, 0, relayerrors.FeeOverflow("fee split: ratio must be in (0,1)")
	}
	burnDec := decimal.NewFromInt(total).Mul(ratio).Floor()
	if !burnDec.IsInteger() || !burnDec.BigInt().IsInt64() {
		return 0, 0, relayerrors.FeeOverflow("fee split: burn amount overflow")
	}
	burn = burnDec.IntPart()
	treasury, ok := SubChecked(total, burn)
	if !ok {
		return 0, 0, relayerrors.FeeOverflow("fee split: treasury amount overflow")
	}
	return burn, treasury, nil
}

// CalculateFee computes the base native fee for a transaction: compute
// units are clamped to the protocol maximum, a priority component is added
// at PriorityFeePerUnit per unit, and the whole total is multiplied by a
// markup and ceiled to an integer amount. Spec §4.1.
func CalculateFee(computeUnits int64, baseFeeNative int64, markup decimal.Decimal) (int64, *relayerrors.Error) {
	if computeUnits < 0 || baseFeeNative < 0 {
		return 0, relayerrors.FeeOverflow("calculate_fee: negative input")
	}
	if computeUnits > MaxComputeUnits {
		computeUnits = MaxComputeUnits
	}
	priority := PriorityFeePerUnit.Mul(decimal.NewFromInt(computeUnits))
	total := decimal.NewFromInt(baseFeeNative).Add(priority).Mul(markup)
	ceiled := total.Ceil()
	if !ceiled.BigInt().IsInt64() {
		return 0, relayerrors.FeeOverflow("calculate_fee: result overflows int64")
	}
	result := ceiled.IntPart()
	if result <= 0 {
		return 0, relayerrors.FeeOverflow("calculate_fee: non-positive result")
	}
	return result, nil
}

// CeilDiv computes ceil(numerator/denominator) for positive integers,
// used for the break-even floor: ceil(network_cost / treasury_ratio).
func CeilDiv(numerator int64, denominatorRatio decimal.Decimal) (int64, *relayerrors.Error) {
	if numerator < 0 {
		return 0, relayerrors.FeeOverflow("ceil_div: negative numerator")
	}
	if denominatorRatio.LessThanOrEqual(decimal.Zero) {
		return 0, relayerrors.FeeOverflow("ceil_div: non-positive ratio")
	}
	result := decimal.NewFromInt(numerator).Div(denominatorRatio).Ceil()
	if !result.BigInt().IsInt64() {
		return 0, relayerrors.FeeOverflow("ceil_div: result overflows int64")
	}
	return result.IntPart(), nil
}

// Clamp restricts v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Phi is the golden ratio, driving the default split constants (§GLOSSARY).
var Phi = (1 + math.Sqrt(5)) / 2

// DefaultTreasuryRatio returns 1/phi^3.
func DefaultTreasuryRatio() decimal.Decimal {
	return decimal.NewFromFloat(1 / (Phi * Phi * Phi))
}

// DefaultBurnRatio returns 1 - 1/phi^3.
func DefaultBurnRatio() decimal.Decimal {
	return decimal.NewFromInt(1).Sub(DefaultTreasuryRatio())
}

// MaxDualBurnBonus returns 1/phi^2, the cap on the ecosystem-burn bonus.
func MaxDualBurnBonus() decimal.Decimal {
	return decimal.NewFromFloat(1 / (Phi * Phi))
}

// SwapBurnRatio returns 1 - 1/phi^3 ≈ 0.764, the fraction of swap proceeds
// queued for burn in the burn/treasury worker (§4.6 step 5).
func SwapBurnRatio() decimal.Decimal {
	return decimal.NewFromInt(1).Sub(decimal.NewFromFloat(1 / (Phi * Phi * Phi)))
}
