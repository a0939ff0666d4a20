package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromCentsRound(t *testing.T) {
	t.Run("round trips exactly", func(t *testing.T) {
		a := FromCents(Cents(12345))
		assert.Equal(t, Cents(12345), a.Round())
	})

	t.Run("half-up rounds away from zero", func(t *testing.T) {
		// 1.005 at 4dp is 10050 ten-thousandths; half of the 100-unit
		// cent bucket rounds up.
		assert.Equal(t, Cents(101), Amount(10050).Round())
		assert.Equal(t, Cents(-101), Amount(-10050).Round())
	})

	t.Run("rounds down below the half cent", func(t *testing.T) {
		assert.Equal(t, Cents(100), Amount(10049).Round())
	})
}

func TestAmountArithmetic(t *testing.T) {
	a := Amount(500)
	b := Amount(200)

	assert.Equal(t, Amount(700), a.Add(b))
	assert.Equal(t, Amount(300), a.Sub(b))
	assert.Equal(t, Amount(-500), a.Neg())
	assert.Equal(t, Amount(500), a.Neg().Abs())
}

func TestMulPercent(t *testing.T) {
	base := FromCents(Cents(10000)) // $100.00
	got := base.MulPercent(15).Round()
	assert.Equal(t, Cents(1500), got) // 15% of $100 = $15.00
}

func TestDivByPercentPlusOne(t *testing.T) {
	gross := FromCents(Cents(11500)) // $115.00 gross, 15% included
	net := gross.DivByPercentPlusOne(15).Round()
	assert.Equal(t, Cents(10000), net)
}

func TestCentsString(t *testing.T) {
	assert.Equal(t, "123.45", Cents(12345).String())
	assert.Equal(t, "-5.00", Cents(-500).String())
	assert.Equal(t, "0.07", Cents(7).String())
}

func TestCentsAbs(t *testing.T) {
	assert.Equal(t, Cents(500), Cents(-500).Abs())
	assert.Equal(t, Cents(500), Cents(500).Abs())
}

func TestWithinTolerance(t *testing.T) {
	assert.True(t, WithinTolerance(Cents(1000), Cents(1001), Cents(1)))
	assert.True(t, WithinTolerance(Cents(1000), Cents(1000), Cents(0)))
	assert.False(t, WithinTolerance(Cents(1000), Cents(1002), Cents(1)))
	assert.True(t, WithinTolerance(Cents(-1000), Cents(-1003), Cents(5)))
}
