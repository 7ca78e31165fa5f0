package math_test

import (
	"MangoCache/internal/math"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// Test: construction and text form
// ============================================================================

func TestFromInt64_RoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 50, -50, 1_000_000, -9_223_372_036_854_775_808, 9_223_372_036_854_775_807} {
		got := math.FromInt64(v)
		want := decimal.NewFromInt(v)
		if !got.Decimal().Equal(want) {
			t.Errorf("FromInt64(%d) = %s, want %s", v, got, want)
		}
	}
}

func TestOne_IsOne(t *testing.T) {
	if math.One != math.FromInt64(1) {
		t.Errorf("One = %s, want 1", math.One)
	}
	if math.One.String() != "1" {
		t.Errorf("got %q, want %q", math.One.String(), "1")
	}
}

func TestFromString_DyadicIsExact(t *testing.T) {
	cases := []string{"0.5", "-0.25", "1.125", "123456.0078125"}
	for _, s := range cases {
		v, err := math.FromString(s)
		if err != nil {
			t.Fatalf("FromString(%q): %v", s, err)
		}
		if v.String() != s {
			t.Errorf("got %q, want %q", v.String(), s)
		}
	}
}

func TestFromString_Invalid(t *testing.T) {
	if _, err := math.FromString("not-a-number"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFromString_HugeExponentFailsFast(t *testing.T) {
	for _, s := range []string{"1e24", "-1e24", "1e100000", "1e10000000", "-12345e2000000000"} {
		start := time.Now()
		_, err := math.FromString(s)
		if !errors.Is(err, math.ErrOverflow) {
			t.Errorf("FromString(%q) = %v, want ErrOverflow", s, err)
			continue
		}
		if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
			t.Errorf("FromString(%q) took %v", s, elapsed)
		}
		if len(err.Error()) > 100 {
			t.Errorf("FromString(%q) error is %d bytes long", s, len(err.Error()))
		}
	}
}

func TestFromString_LargestIntegerDigitsStillChecked(t *testing.T) {
	if _, err := math.FromString("604462909807314587353087"); err != nil {
		t.Errorf("max integer part: %v", err)
	}
	if _, err := math.FromString("700000000000000000000000"); !errors.Is(err, math.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

func TestFromDecimal_TinyValuesRound(t *testing.T) {
	tiny := decimal.RequireFromString("1e-10000000")
	start := time.Now()

	tests := []struct {
		name string
		d    decimal.Decimal
		mode math.RoundingMode
		want *big.Int
	}{
		{"half even", tiny, math.RoundHalfEven, big.NewInt(0)},
		{"up positive", tiny, math.RoundUp, big.NewInt(1)},
		{"down positive", tiny, math.RoundDown, big.NewInt(0)},
		{"down negative", tiny.Neg(), math.RoundDown, big.NewInt(-1)},
		{"up negative", tiny.Neg(), math.RoundUp, big.NewInt(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := math.FromDecimal(tt.d, tt.mode)
			if err != nil {
				t.Fatalf("FromDecimal: %v", err)
			}
			if got.Bits().Cmp(tt.want) != 0 {
				t.Errorf("got raw %s, want %s", got.Bits(), tt.want)
			}
		})
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("tiny values took %v", elapsed)
	}
}

func TestUnmarshalJSON_HugeExponentRejected(t *testing.T) {
	var v math.I80F48
	if err := json.Unmarshal([]byte(`"1e10000000"`), &v); !errors.Is(err, math.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

func TestFromBits_Overflow(t *testing.T) {
	tooBig := new(big.Int).Lsh(big.NewInt(1), 127)
	if _, err := math.FromBits(tooBig); !errors.Is(err, math.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

// ============================================================================
// Test: arithmetic
// ============================================================================

func TestAddSub(t *testing.T) {
	a := math.MustFromString("10.5")
	b := math.MustFromString("-3.25")

	sum, err := a.Add(b)
	if err != nil {
		t.Fatal(err)
	}
	if sum.String() != "7.25" {
		t.Errorf("got %s, want 7.25", sum)
	}

	diff, err := b.Sub(a)
	if err != nil {
		t.Fatal(err)
	}
	if diff.String() != "-13.75" {
		t.Errorf("got %s, want -13.75", diff)
	}
}

func TestAdd_Overflow(t *testing.T) {
	maxBits := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	max, err := math.FromBits(maxBits)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := max.Add(math.One); !errors.Is(err, math.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

func TestMul_FloorsNegative(t *testing.T) {
	// smallest positive step times -0.5 is -2^-49, which floors to -2^-48
	ulp, _ := math.FromBits(big.NewInt(1))
	half := math.MustFromString("-0.5")

	got, err := ulp.Mul(half)
	if err != nil {
		t.Fatal(err)
	}
	if got.Bits().Cmp(big.NewInt(-1)) != 0 {
		t.Errorf("got raw %s, want -1", got.Bits())
	}
}

func TestMul_NonDyadic(t *testing.T) {
	idx := math.MustFromString("1.05")
	got, err := math.FromInt64(1000).Mul(idx)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Decimal().Round(6).Equal(decimal.NewFromInt(1050)) {
		t.Errorf("got %s, want ~1050", got)
	}
}

func TestDiv(t *testing.T) {
	got, err := math.FromInt64(7).Div(math.FromInt64(2))
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "3.5" {
		t.Errorf("got %s, want 3.5", got)
	}

	if _, err := math.One.Div(math.Zero); !errors.Is(err, math.ErrDivByZero) {
		t.Errorf("got %v, want ErrDivByZero", err)
	}
}

func TestCmpAndSign(t *testing.T) {
	neg := math.MustFromString("-0.0001")
	pos := math.MustFromString("0.0001")

	if neg.Cmp(pos) != -1 || pos.Cmp(neg) != 1 || pos.Cmp(pos) != 0 {
		t.Error("Cmp ordering wrong across zero")
	}
	if neg.Sign() != -1 || math.Zero.Sign() != 0 || pos.Sign() != 1 {
		t.Error("Sign wrong")
	}
	if !pos.IsPositive() || neg.IsPositive() || math.Zero.IsPositive() {
		t.Error("IsPositive wrong")
	}
}

// ============================================================================
// Test: encodings
// ============================================================================

func TestLittleEndian_RoundTrip(t *testing.T) {
	for _, s := range []string{"0", "1", "-1", "42.75", "-987654321.5"} {
		v := math.MustFromString(s)
		buf := v.AppendLE(nil)
		if len(buf) != math.Size {
			t.Fatalf("encoded %d bytes, want %d", len(buf), math.Size)
		}
		got, err := math.ReadLE(buf)
		if err != nil {
			t.Fatal(err)
		}
		if got != v {
			t.Errorf("got %s, want %s", got, v)
		}
	}
}

func TestLittleEndian_OneLayout(t *testing.T) {
	buf := math.One.AppendLE(nil)
	// 2^48 sits in byte 6 of the low word
	for i, b := range buf {
		want := byte(0)
		if i == 6 {
			want = 1
		}
		if b != want {
			t.Fatalf("byte %d = %#x, want %#x", i, b, want)
		}
	}
}

func TestReadLE_Short(t *testing.T) {
	if _, err := math.ReadLE(make([]byte, 15)); !errors.Is(err, math.ErrShortInput) {
		t.Errorf("got %v, want ErrShortInput", err)
	}
}

func TestJSON(t *testing.T) {
	v := math.MustFromString("1.5")
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"1.5"` {
		t.Errorf("got %s, want \"1.5\"", data)
	}

	var back math.I80F48
	if err := json.Unmarshal([]byte(`2.25`), &back); err != nil {
		t.Fatal(err)
	}
	if back.String() != "2.25" {
		t.Errorf("got %s, want 2.25", back)
	}
}
