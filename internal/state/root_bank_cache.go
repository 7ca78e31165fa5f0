package state

import (
	fpmath "MangoCache/internal/math"
	"fmt"
)

// RootBankCache mirrors the interest indices of one lending token. Indices
// start at one when the token is listed and only ever grow.
type RootBankCache struct {
	DepositIndex fpmath.I80F48 `json:"deposit_index"`
	BorrowIndex  fpmath.I80F48 `json:"borrow_index"`
	LastUpdate   uint64        `json:"last_update"`
}

// NewRootBankCache returns a cache entry with both indices at one and no
// accrual applied yet.
func NewRootBankCache() RootBankCache {
	return RootBankCache{
		DepositIndex: fpmath.One,
		BorrowIndex:  fpmath.One,
	}
}

// Apply records an interest accrual. Either index moving backwards is
// rejected with ErrInvalidIndex.
func (r *RootBankCache) Apply(depositIndex, borrowIndex fpmath.I80F48, ts uint64) error {
	if depositIndex.Cmp(r.DepositIndex) < 0 {
		return fmt.Errorf("%w: deposit index %s < %s", ErrInvalidIndex, depositIndex, r.DepositIndex)
	}
	if borrowIndex.Cmp(r.BorrowIndex) < 0 {
		return fmt.Errorf("%w: borrow index %s < %s", ErrInvalidIndex, borrowIndex, r.BorrowIndex)
	}
	if ts < r.LastUpdate {
		return fmt.Errorf("%w: accrual ts %d < last update %d", ErrOutOfOrderUpdate, ts, r.LastUpdate)
	}

	*r = RootBankCache{
		DepositIndex: depositIndex,
		BorrowIndex:  borrowIndex,
		LastUpdate:   ts,
	}
	return nil
}

func (r RootBankCache) Age(now uint64) uint64 {
	return age(now, r.LastUpdate)
}

// NativeDeposits converts node bank deposit shares with this cache's
// deposit index. Freshness is the caller's concern; see
// MangoCache.CheckedNativeDeposits.
func (r RootBankCache) NativeDeposits(nb NodeBank) (fpmath.I80F48, error) {
	return fpmath.SharesToNative(nb.Deposits, r.DepositIndex)
}

// NativeBorrows converts node bank borrow shares with the borrow index.
func (r RootBankCache) NativeBorrows(nb NodeBank) (fpmath.I80F48, error) {
	return fpmath.SharesToNative(nb.Borrows, r.BorrowIndex)
}
