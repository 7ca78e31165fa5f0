package event

import (
	fpmath "MangoCache/internal/math"
	"fmt"
)

// RootBankAccrual carries freshly accrued interest indices for a token slot.
type RootBankAccrual struct {
	UpdateID     string        `json:"update_id,omitempty"`
	Slot         int           `json:"slot"`
	DepositIndex fpmath.I80F48 `json:"deposit_index"`
	BorrowIndex  fpmath.I80F48 `json:"borrow_index"`
	Timestamp    uint64        `json:"timestamp"`
}

func (r *RootBankAccrual) IdempotencyKey() string {
	return recordKey("root_bank", r.Slot, r.UpdateID, r.Timestamp, r.DepositIndex, r.BorrowIndex)
}

func (r *RootBankAccrual) EventType() EventType {
	return EventTypeRootBankAccrual
}

func (r *RootBankAccrual) Partition() string {
	return fmt.Sprintf("root_bank:%d", r.Slot)
}

func (r *RootBankAccrual) EventTimestamp() uint64 {
	return r.Timestamp
}
