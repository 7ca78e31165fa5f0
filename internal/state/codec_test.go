package state_test

import (
	fpmath "MangoCache/internal/math"
	"MangoCache/internal/state"
	"errors"
	"testing"
)

func TestLayoutSizes(t *testing.T) {
	if state.MangoCacheSize != 1608 {
		t.Errorf("MangoCacheSize = %d, want 1608", state.MangoCacheSize)
	}
	if state.NodeBankSize != 72 {
		t.Errorf("NodeBankSize = %d, want 72", state.NodeBankSize)
	}
}

func TestMangoCache_BinaryRoundTrip(t *testing.T) {
	c := listedCache(t, 3, 2)
	c.EnablePerpMarket(1)
	c.ApplyPrice(1, fx("27.5"), 1_700_000_000)
	c.ApplyRootBank(1, fx("1.0625"), fx("1.125"), 1_700_000_001)
	c.ApplyPerpMarket(2, fx("-4.5"), fx("4.5"), 1_700_000_002)

	data, err := c.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != state.MangoCacheSize {
		t.Fatalf("encoded %d bytes, want %d", len(data), state.MangoCacheSize)
	}

	var back state.MangoCache
	if err := back.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}
	if back != *c {
		t.Error("decoded cache differs from original")
	}
	if back.NumPairs() != 3 || back.NumTokens() != 2 || !back.IsPerpListed(2) {
		t.Error("listing lost in round trip")
	}
}

func TestMangoCache_PriceSlotOffset(t *testing.T) {
	c := listedCache(t, 1, 0)
	c.ApplyPrice(0, fpmath.One, 7)

	data, _ := c.MarshalBinary()
	// header, then price[0].price (2^48 -> byte 6), then last_update
	if data[state.MetaDataSize+6] != 1 {
		t.Errorf("price byte = %#x, want 0x01", data[state.MetaDataSize+6])
	}
	if data[state.MetaDataSize+fpmath.Size] != 7 {
		t.Errorf("last_update byte = %d, want 7", data[state.MetaDataSize+fpmath.Size])
	}
}

func TestMangoCache_UnmarshalRejects(t *testing.T) {
	good, _ := state.NewMangoCache().MarshalBinary()

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"short", func(b []byte) []byte { return b[:100] }, state.ErrInvalidLayout},
		{"wrong type", func(b []byte) []byte { b[0] = byte(state.DataTypeNodeBank); return b }, state.ErrInvalidMetaData},
		{"future version", func(b []byte) []byte { b[1] = 9; return b }, state.ErrInvalidMetaData},
		{"uninitialised", func(b []byte) []byte { b[2] = 0; return b }, state.ErrInvalidMetaData},
		{"too many pairs", func(b []byte) []byte { b[3] = state.MaxPairs + 1; return b }, state.ErrInvalidMetaData},
		{"perp beyond pairs", func(b []byte) []byte { b[5] = 0x01; return b }, state.ErrInvalidMetaData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte(nil), good...))
			var c state.MangoCache
			if err := c.UnmarshalBinary(data); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNodeBank_BinaryRoundTrip(t *testing.T) {
	nb := state.NewNodeBank(state.PublicKey{9, 8, 7})
	nb.Deposits = fx("1234.5")
	nb.Borrows = fx("-0")

	data, err := nb.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != state.NodeBankSize {
		t.Fatalf("encoded %d bytes, want %d", len(data), state.NodeBankSize)
	}

	var back state.NodeBank
	if err := back.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}
	if back != nb {
		t.Errorf("got %+v, want %+v", back, nb)
	}
}
