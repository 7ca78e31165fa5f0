package math

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
)

// FracBits is the number of fractional bits of an I80F48.
const FracBits = 48

// Size is the encoded width of an I80F48 in bytes.
const Size = 16

var (
	ErrOverflow   = errors.New("fixed-point overflow")
	ErrDivByZero  = errors.New("fixed-point division by zero")
	ErrShortInput = errors.New("fixed-point input too short")
)

var (
	minRaw = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	maxRaw = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	two128 = new(big.Int).Lsh(big.NewInt(1), 128)
	mask64 = new(big.Int).SetUint64(^uint64(0))

	// 2^-48 == 5^48 * 10^-48, which lets the decimal form be built exactly.
	fivePow48    = new(big.Int).Exp(big.NewInt(5), big.NewInt(FracBits), nil)
	scaleDecimal = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), FracBits), 0)
)

// I80F48 is a signed 128-bit fixed-point number with 80 integer bits and
// 48 fractional bits. Every price, index and funding accumulator in the
// cache uses this one scale.
//
// The value is stored as two's complement raw bits split into a signed high
// word and an unsigned low word, so I80F48 is comparable with == and copies
// by value.
type I80F48 struct {
	hi int64
	lo uint64
}

var (
	Zero = I80F48{}
	One  = I80F48{lo: 1 << FracBits}
)

// Pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding (default)
	RoundDown                         // Toward negative infinity
	RoundUp                           // Toward positive infinity
)

// FromInt64 converts a whole number. It cannot overflow.
func FromInt64(v int64) I80F48 {
	return I80F48{
		hi: v >> (64 - FracBits),
		lo: uint64(v) << FracBits,
	}
}

// FromBits builds a value from its raw 128-bit representation
// (the number multiplied by 2^48).
func FromBits(raw *big.Int) (I80F48, error) {
	if raw.Cmp(minRaw) < 0 || raw.Cmp(maxRaw) > 0 {
		return I80F48{}, fmt.Errorf("%w: %d-bit raw value", ErrOverflow, raw.BitLen())
	}

	u := getInt128()
	t := getInt128()
	defer putInt128(u)
	defer putInt128(t)

	u.Set(raw)
	if u.Sign() < 0 {
		u.Add(u, two128)
	}

	t.And(u, mask64)
	lo := t.Uint64()
	t.Rsh(u, 64)
	hi := int64(t.Uint64())

	return I80F48{hi: hi, lo: lo}, nil
}

// maxIntDigits bounds the integer digits of any decimal that can fit:
// |I80F48| < 2^79 ~ 6.04e23. minIntDigits is the magnitude below which
// (below 1e-17) a value is under half of 2^-48 and only rounding is left.
const (
	maxIntDigits = 24
	minIntDigits = -16
)

// FromDecimal converts a decimal, rounding the part below 2^-48.
// Magnitudes are checked from the digit count and exponent before any
// scaling, so "1e10000000" fails without building the integer.
func FromDecimal(d decimal.Decimal, mode RoundingMode) (I80F48, error) {
	if d.IsZero() {
		return Zero, nil
	}
	magnitude := int64(d.NumDigits()) + int64(d.Exponent())
	if magnitude > maxIntDigits {
		return I80F48{}, fmt.Errorf("%w: about 1e%d", ErrOverflow, magnitude-1)
	}
	if magnitude < minIntDigits {
		return roundTiny(d.Sign(), mode), nil
	}

	scaled := d.Mul(scaleDecimal)
	switch mode {
	case RoundDown:
		scaled = scaled.Floor()
	case RoundUp:
		scaled = scaled.Ceil()
	default:
		scaled = scaled.RoundBank(0)
	}
	return FromBits(scaled.BigInt())
}

// roundTiny rounds a nonzero value smaller than half an ulp.
func roundTiny(sign int, mode RoundingMode) I80F48 {
	switch {
	case mode == RoundUp && sign > 0:
		return I80F48{lo: 1}
	case mode == RoundDown && sign < 0:
		return I80F48{hi: -1, lo: ^uint64(0)}
	}
	return Zero
}

// FromString parses a decimal string such as "1.05" or "-0.25".
func FromString(s string) (I80F48, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return I80F48{}, fmt.Errorf("parse fixed-point %q: %w", s, err)
	}
	return FromDecimal(d, RoundHalfEven)
}

// MustFromString is FromString for constants and tests.
func MustFromString(s string) I80F48 {
	v, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Bits returns the raw 128-bit value (the number multiplied by 2^48).
func (x I80F48) Bits() *big.Int {
	return x.loadBits(new(big.Int))
}

func (x I80F48) loadBits(dst *big.Int) *big.Int {
	lo := getInt128()
	defer putInt128(lo)

	dst.SetInt64(x.hi)
	dst.Lsh(dst, 64)
	lo.SetUint64(x.lo)
	return dst.Add(dst, lo)
}

// Add returns x + y.
func (x I80F48) Add(y I80F48) (I80F48, error) {
	a, b := getInt128(), getInt128()
	defer putInt128(a)
	defer putInt128(b)

	x.loadBits(a)
	y.loadBits(b)
	return FromBits(a.Add(a, b))
}

// Sub returns x - y.
func (x I80F48) Sub(y I80F48) (I80F48, error) {
	a, b := getInt128(), getInt128()
	defer putInt128(a)
	defer putInt128(b)

	x.loadBits(a)
	y.loadBits(b)
	return FromBits(a.Sub(a, b))
}

// Mul returns x * y, rounded toward negative infinity.
func (x I80F48) Mul(y I80F48) (I80F48, error) {
	a, b := getInt128(), getInt128()
	defer putInt128(a)
	defer putInt128(b)

	x.loadBits(a)
	y.loadBits(b)
	a.Mul(a, b)
	a.Rsh(a, FracBits) // arithmetic shift
	return FromBits(a)
}

// Div returns x / y, truncated toward zero.
func (x I80F48) Div(y I80F48) (I80F48, error) {
	if y.IsZero() {
		return I80F48{}, ErrDivByZero
	}

	a, b := getInt128(), getInt128()
	defer putInt128(a)
	defer putInt128(b)

	x.loadBits(a)
	y.loadBits(b)
	a.Lsh(a, FracBits)
	a.Quo(a, b)
	return FromBits(a)
}

// Neg returns -x.
func (x I80F48) Neg() (I80F48, error) {
	return Zero.Sub(x)
}

// Cmp returns -1, 0 or +1 as x is less than, equal to, or greater than y.
func (x I80F48) Cmp(y I80F48) int {
	switch {
	case x.hi < y.hi:
		return -1
	case x.hi > y.hi:
		return 1
	case x.lo < y.lo:
		return -1
	case x.lo > y.lo:
		return 1
	default:
		return 0
	}
}

func (x I80F48) Sign() int {
	if x.hi < 0 {
		return -1
	}
	if x.hi == 0 && x.lo == 0 {
		return 0
	}
	return 1
}

func (x I80F48) IsZero() bool     { return x.hi == 0 && x.lo == 0 }
func (x I80F48) IsPositive() bool { return x.Sign() > 0 }

// Decimal returns the exact decimal value.
func (x I80F48) Decimal() decimal.Decimal {
	raw := x.Bits()
	raw.Mul(raw, fivePow48)
	return decimal.NewFromBigInt(raw, -FracBits)
}

func (x I80F48) String() string {
	return x.Decimal().String()
}

// Float64 is lossy and only meant for metrics and logs.
func (x I80F48) Float64() float64 {
	return x.Decimal().InexactFloat64()
}

// AppendLE appends the 16-byte little-endian two's complement encoding.
func (x I80F48) AppendLE(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, x.lo)
	return binary.LittleEndian.AppendUint64(buf, uint64(x.hi))
}

// ReadLE decodes the first 16 bytes of b.
func ReadLE(b []byte) (I80F48, error) {
	if len(b) < Size {
		return I80F48{}, fmt.Errorf("%w: got %d bytes", ErrShortInput, len(b))
	}
	return I80F48{
		lo: binary.LittleEndian.Uint64(b[0:8]),
		hi: int64(binary.LittleEndian.Uint64(b[8:16])),
	}, nil
}

// MarshalJSON encodes the value as a decimal string so no precision is lost.
func (x I80F48) MarshalJSON() ([]byte, error) {
	return []byte(`"` + x.String() + `"`), nil
}

// UnmarshalJSON accepts a decimal string or a bare JSON number.
func (x *I80F48) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("unmarshal fixed-point: %w", err)
	}
	v, err := FromDecimal(d, RoundHalfEven)
	if err != nil {
		return err
	}
	*x = v
	return nil
}
