package state

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidPrice     = errors.New("invalid price")
	ErrInvalidIndex     = errors.New("invalid index")
	ErrOutOfOrderUpdate = errors.New("out of order update")
	ErrSlotNotListed    = errors.New("slot not listed")
	ErrSlotOutOfBounds  = errors.New("slot out of bounds")
	ErrSlotsExhausted   = errors.New("no free slots")
	ErrStaleData        = errors.New("stale data")
	ErrInvalidMetaData  = errors.New("invalid metadata")
	ErrInvalidLayout    = errors.New("invalid binary layout")
)

// RecordKind names one of the three cached record arrays.
type RecordKind uint8

const (
	KindPrice RecordKind = iota
	KindRootBank
	KindPerpMarket
)

func (k RecordKind) String() string {
	switch k {
	case KindPrice:
		return "price"
	case KindRootBank:
		return "root_bank"
	case KindPerpMarket:
		return "perp_market"
	default:
		return "unknown"
	}
}

func (k RecordKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// StaleRecord describes one record that failed a freshness check.
type StaleRecord struct {
	Kind   RecordKind `json:"kind"`
	Slot   int        `json:"slot"`
	Age    uint64     `json:"age"`
	MaxAge uint64     `json:"max_age"`
}

func (s StaleRecord) String() string {
	return fmt.Sprintf("%s[%d] age %d > %d", s.Kind, s.Slot, s.Age, s.MaxAge)
}

// StaleDataError lists every record that exceeded the allowed age.
// errors.Is(err, ErrStaleData) matches it.
type StaleDataError struct {
	Records []StaleRecord
}

func (e *StaleDataError) Error() string {
	parts := make([]string, len(e.Records))
	for i, r := range e.Records {
		parts[i] = r.String()
	}
	return fmt.Sprintf("stale data: %s", strings.Join(parts, ", "))
}

func (e *StaleDataError) Unwrap() error {
	return ErrStaleData
}
