package numeric

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestFeeSplitNoDust(t *testing.T) {
	burn, treasury, err := FeeSplit(100, decimal.NewFromFloat(0.764))
	require.Nil(t, err)
	require.Equal(t, int64(100), burn+treasury)
	require.Equal(t, int64(76), burn)
}

func TestFeeSplitRejectsBadRatio(t *testing.T) {
	_, _, err := FeeSplit(100, decimal.NewFromInt(1))
	require.NotNil(t, err)
	_, _, err = FeeSplit(100, decimal.Zero)
	require.NotNil(t, err)
}

func TestCalculateFeeHappyPath(t *testing.T) {
	fee, err := CalculateFee(200_000, 50_000, decimal.NewFromInt(1))
	require.Nil(t, err)
	require.Equal(t, int64(50_200), fee)
}

func TestCalculateFeeClampsComputeUnits(t *testing.T) {
	fee, err := CalculateFee(MaxComputeUnits*10, 0, decimal.NewFromInt(1))
	require.Nil(t, err)
	expected, _ := CalculateFee(MaxComputeUnits, 0, decimal.NewFromInt(1))
	require.Equal(t, expected, fee)
}

func TestCeilDivBreakEven(t *testing.T) {
	v, err := CeilDiv(5_000, decimal.NewFromFloat(0.236))
	require.Nil(t, err)
	require.Equal(t, int64(21_187), v)
}

func TestAddCheckedOverflow(t *testing.T) {
	_, ok := AddChecked(math1Max(), 1)
	require.False(t, ok)
}

func math1Max() int64 { return 9223372036854775807 }

func TestMulCheckedOverflow(t *testing.T) {
	_, ok := MulChecked(math1Max(), 2)
	require.False(t, ok)
}

func TestDefaultRatiosSumToOne(t *testing.T) {
	sum := DefaultTreasuryRatio().Add(DefaultBurnRatio())
	diff := sum.Sub(decimal.NewFromInt(1)).Abs()
	require.True(t, diff.LessThan(decimal.NewFromFloat(0.0000001)))
}
