package state

import (
	fpmath "MangoCache/internal/math"
	"encoding/binary"
	"fmt"
)

// Fixed binary layout, little-endian, no padding.
const (
	MetaDataSize        = 8
	PriceCacheSize      = fpmath.Size + 8
	RootBankCacheSize   = 2*fpmath.Size + 8
	PerpMarketCacheSize = 2*fpmath.Size + 8
	PublicKeySize       = 32

	MangoCacheSize = MetaDataSize +
		MaxPairs*PriceCacheSize +
		MaxTokens*RootBankCacheSize +
		MaxPairs*PerpMarketCacheSize

	NodeBankSize = MetaDataSize + 2*fpmath.Size + PublicKeySize
)

func (m MetaData) appendBinary(buf []byte) []byte {
	initialized := byte(0)
	if m.IsInitialized {
		initialized = 1
	}
	buf = append(buf, byte(m.DataType), m.Version, initialized)
	return append(buf, m.ExtraInfo[:]...)
}

func decodeMetaData(b []byte) MetaData {
	m := MetaData{
		DataType:      DataType(b[0]),
		Version:       b[1],
		IsInitialized: b[2] != 0,
	}
	copy(m.ExtraInfo[:], b[3:MetaDataSize])
	return m
}

// reader walks a fixed-size buffer whose length was checked up front.
type reader struct {
	b   []byte
	off int
}

func (r *reader) fixed() fpmath.I80F48 {
	v, _ := fpmath.ReadLE(r.b[r.off:])
	r.off += fpmath.Size
	return v
}

func (r *reader) u64() uint64 {
	v := binary.LittleEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v
}

// MarshalBinary writes the MangoCacheSize-byte image of the cache.
func (c *MangoCache) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, MangoCacheSize)
	buf = c.MetaData.appendBinary(buf)
	for _, p := range c.PriceCache {
		buf = p.Price.AppendLE(buf)
		buf = binary.LittleEndian.AppendUint64(buf, p.LastUpdate)
	}
	for _, rb := range c.RootBankCache {
		buf = rb.DepositIndex.AppendLE(buf)
		buf = rb.BorrowIndex.AppendLE(buf)
		buf = binary.LittleEndian.AppendUint64(buf, rb.LastUpdate)
	}
	for _, pm := range c.PerpMarketCache {
		buf = pm.LongFunding.AppendLE(buf)
		buf = pm.ShortFunding.AppendLE(buf)
		buf = binary.LittleEndian.AppendUint64(buf, pm.LastUpdate)
	}
	return buf, nil
}

// UnmarshalBinary decodes a cache image and checks its header.
func (c *MangoCache) UnmarshalBinary(data []byte) error {
	if len(data) != MangoCacheSize {
		return fmt.Errorf("%w: mango cache is %d bytes, want %d", ErrInvalidLayout, len(data), MangoCacheSize)
	}

	var out MangoCache
	out.MetaData = decodeMetaData(data)
	if err := out.MetaData.Check(DataTypeMangoCache); err != nil {
		return err
	}
	if out.NumPairs() > MaxPairs || out.NumTokens() > MaxTokens {
		return fmt.Errorf("%w: listing %d pairs, %d tokens", ErrInvalidMetaData, out.NumPairs(), out.NumTokens())
	}
	if out.perpMask()>>out.NumPairs() != 0 {
		return fmt.Errorf("%w: perp mask %#x beyond %d pairs", ErrInvalidMetaData, out.perpMask(), out.NumPairs())
	}

	r := &reader{b: data, off: MetaDataSize}
	for i := range out.PriceCache {
		out.PriceCache[i] = PriceCache{Price: r.fixed(), LastUpdate: r.u64()}
	}
	for i := range out.RootBankCache {
		out.RootBankCache[i] = RootBankCache{DepositIndex: r.fixed(), BorrowIndex: r.fixed(), LastUpdate: r.u64()}
	}
	for i := range out.PerpMarketCache {
		out.PerpMarketCache[i] = PerpMarketCache{LongFunding: r.fixed(), ShortFunding: r.fixed(), LastUpdate: r.u64()}
	}

	*c = out
	return nil
}

// MarshalBinary writes the NodeBankSize-byte image of the bank.
func (nb NodeBank) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, NodeBankSize)
	buf = nb.MetaData.appendBinary(buf)
	buf = nb.Deposits.AppendLE(buf)
	buf = nb.Borrows.AppendLE(buf)
	return append(buf, nb.Vault[:]...), nil
}

func (nb *NodeBank) UnmarshalBinary(data []byte) error {
	if len(data) != NodeBankSize {
		return fmt.Errorf("%w: node bank is %d bytes, want %d", ErrInvalidLayout, len(data), NodeBankSize)
	}

	var out NodeBank
	out.MetaData = decodeMetaData(data)
	if err := out.MetaData.Check(DataTypeNodeBank); err != nil {
		return err
	}
	r := &reader{b: data, off: MetaDataSize}
	out.Deposits = r.fixed()
	out.Borrows = r.fixed()
	copy(out.Vault[:], data[r.off:])

	*nb = out
	return nil
}
