package query

import fpmath "MangoCache/internal/math"

// NativeBalanceResponse is the native deposits and borrows of one token
// summed over its NodeBanks. Share totals are converted with the token's
// cached indices, which must be fresh.
type NativeBalanceResponse struct {
	TokenSlot    int           `json:"token_slot"`
	NodeBanks    int           `json:"node_banks"`
	Deposits     fpmath.I80F48 `json:"deposits"`
	Borrows      fpmath.I80F48 `json:"borrows"`
	DepositIndex fpmath.I80F48 `json:"deposit_index"`
	BorrowIndex  fpmath.I80F48 `json:"borrow_index"`
	AsOfSequence int64         `json:"as_of_sequence"`
}
