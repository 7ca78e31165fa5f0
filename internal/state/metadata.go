package state

import "fmt"

const (
	MaxPairs  = 15
	MaxTokens = 16

	// CurrentVersion is the layout version written by this build.
	CurrentVersion uint8 = 0
)

// DataType tags the account layout stored behind a MetaData header.
type DataType uint8

const (
	DataTypeMangoGroup DataType = iota
	DataTypeMangoAccount
	DataTypeRootBank
	DataTypeNodeBank
	DataTypePerpMarket
	DataTypeBids
	DataTypeAsks
	DataTypeMangoCache
	DataTypeEventQueue
)

func (d DataType) String() string {
	switch d {
	case DataTypeMangoGroup:
		return "MangoGroup"
	case DataTypeMangoAccount:
		return "MangoAccount"
	case DataTypeRootBank:
		return "RootBank"
	case DataTypeNodeBank:
		return "NodeBank"
	case DataTypePerpMarket:
		return "PerpMarket"
	case DataTypeBids:
		return "Bids"
	case DataTypeAsks:
		return "Asks"
	case DataTypeMangoCache:
		return "MangoCache"
	case DataTypeEventQueue:
		return "EventQueue"
	default:
		return fmt.Sprintf("DataType(%d)", uint8(d))
	}
}

// MetaData is the 8-byte header in front of every persisted record.
//
// For a MangoCache the extra bytes carry the slot listing:
// ExtraInfo[0] pairs listed, ExtraInfo[1] tokens listed,
// ExtraInfo[2:4] little-endian bitmask of pairs with a perp market.
type MetaData struct {
	DataType      DataType `json:"data_type"`
	Version       uint8    `json:"version"`
	IsInitialized bool     `json:"is_initialized"`
	ExtraInfo     [5]byte  `json:"extra_info"`
}

func NewMetaData(dataType DataType, version uint8, isInitialized bool) MetaData {
	return MetaData{
		DataType:      dataType,
		Version:       version,
		IsInitialized: isInitialized,
	}
}

// Check verifies the header before a typed view of the bytes is used.
func (m MetaData) Check(want DataType) error {
	if !m.IsInitialized {
		return fmt.Errorf("%w: %s not initialized", ErrInvalidMetaData, want)
	}
	if m.DataType != want {
		return fmt.Errorf("%w: data type %s, want %s", ErrInvalidMetaData, m.DataType, want)
	}
	if m.Version > CurrentVersion {
		return fmt.Errorf("%w: version %d newer than %d", ErrInvalidMetaData, m.Version, CurrentVersion)
	}
	return nil
}
