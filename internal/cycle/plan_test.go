package cycle

import (
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/cycle_runner/internal/errors"
)

func wei(ether string) *big.Int {
	v, ok := new(big.Int).SetString(ether, 10)
	if !ok {
		panic(ether)
	}
	return v
}

func TestAmountRange_DrawStaysInRangeOnGrid(t *testing.T) {
	r := mustRange("0.01", "0.05", 4)
	rng := rand.New(rand.NewSource(1))

	lo, hi := wei("10000000000000000"), wei("50000000000000000")
	assert.Equal(t, 0, r.Min().Cmp(lo))
	assert.Equal(t, 0, r.Max().Cmp(hi))

	seenLo, seenHi := false, false
	for i := 0; i < 20000; i++ {
		v := r.Draw(rng)
		if v.Cmp(lo) < 0 || v.Cmp(hi) > 0 {
			t.Fatalf("Draw() = %s outside [%s, %s]", v, lo, hi)
		}
		if !r.OnGrid(v) {
			t.Fatalf("Draw() = %s not a multiple of 1e14", v)
		}
		seenLo = seenLo || v.Cmp(lo) == 0
		seenHi = seenHi || v.Cmp(hi) == 0
	}
	// 401 grid points: both closed bounds should come up
	assert.True(t, seenLo, "min never drawn")
	assert.True(t, seenHi, "max never drawn")
}

func TestAmountRange_SinglePoint(t *testing.T) {
	r := mustRange("0.02", "0.02", 4)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		assert.Equal(t, "0.02", FormatEther(r.Draw(rng)))
	}
}

func TestAmountRange_SnapsInward(t *testing.T) {
	r := mustRange("0.01234", "0.01561", 3)
	assert.Equal(t, "0.013", FormatEther(r.Min()))
	assert.Equal(t, "0.015", FormatEther(r.Max()))
}

func TestNewAmountRange_Invalid(t *testing.T) {
	tests := []struct {
		min, max  string
		precision int
	}{
		{"abc", "0.05", 4},
		{"0.01", "xyz", 4},
		{"0.05", "0.01", 4},
		{"0", "0.01", 4},
		{"0.00001", "0.00009", 4},
		{"0.01234", "0.01299", 3},
		{"0.01", "0.05", 19},
		{"0.01", "0.05", -1},
	}
	for _, tt := range tests {
		_, err := NewAmountRange(tt.min, tt.max, tt.precision)
		if !errors.IsKind(err, errors.KindConfiguration) {
			t.Errorf("NewAmountRange(%s, %s, %d) = %v, want configuration error", tt.min, tt.max, tt.precision, err)
		}
	}
}

func TestAmountRange_ZeroPrecision(t *testing.T) {
	r := mustRange("1", "3", 0)
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 100; i++ {
		s := FormatEther(r.Draw(rng))
		require.Contains(t, []string{"1", "2", "3"}, s)
	}
}

func TestDelayWindow_Draw(t *testing.T) {
	w := DelayWindow{Min: time.Minute, Max: 3 * time.Minute}
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 1000; i++ {
		d := w.Draw(rng)
		if d < w.Min || d > w.Max {
			t.Fatalf("Draw() = %s outside window", d)
		}
	}

	fixed := DelayWindow{Min: time.Second, Max: time.Second}
	assert.Equal(t, time.Second, fixed.Draw(rng))
	assert.Equal(t, time.Duration(0), DelayWindow{}.Draw(rng))
}

func TestFormatEther(t *testing.T) {
	assert.Equal(t, "0.0123", FormatEther(wei("12300000000000000")))
	assert.Equal(t, "1", FormatEther(wei("1000000000000000000")))
	assert.Equal(t, "0", FormatEther(nil))
}

func TestPlan_Periodic(t *testing.T) {
	assert.False(t, Plan{Repetitions: 3}.Periodic())
	assert.True(t, Plan{Repetitions: 3, Interval: time.Hour}.Periodic())
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "success", Success().String())
	assert.Equal(t, "failed: boom", Failed(errors.New("boom")).String())
	assert.True(t, Success().OK())
	assert.False(t, Failed(nil).OK())
}
