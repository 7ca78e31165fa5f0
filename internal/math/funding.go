package math

import "fmt"

// FundingDelta returns the funding owed by a position since its last
// settlement: (current - recorded) * baseSize.
//
// A positive result means the position pays. The caller picks the long or
// short accumulator according to the position's side.
func FundingDelta(current, recorded, baseSize I80F48) (I80F48, error) {
	diff, err := current.Sub(recorded)
	if err != nil {
		return I80F48{}, fmt.Errorf("funding delta: %w", err)
	}
	owed, err := diff.Mul(baseSize)
	if err != nil {
		return I80F48{}, fmt.Errorf("funding delta: %w", err)
	}
	return owed, nil
}

// SharesToNative converts raw bank shares into native token units using an
// interest index.
func SharesToNative(shares, index I80F48) (I80F48, error) {
	native, err := shares.Mul(index)
	if err != nil {
		return I80F48{}, fmt.Errorf("shares to native: %w", err)
	}
	return native, nil
}

// Sum adds all values, failing on the first overflow.
func Sum(values ...I80F48) (I80F48, error) {
	total := Zero
	for _, v := range values {
		var err error
		total, err = total.Add(v)
		if err != nil {
			return I80F48{}, err
		}
	}
	return total, nil
}
