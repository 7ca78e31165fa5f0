package state

import (
	fpmath "MangoCache/internal/math"
	"encoding/binary"
	"fmt"
)

// MangoCache is the valuation snapshot shared by every risk check: one price
// and one perp funding record per pair slot, and one index record per token
// slot. Slot i of PriceCache and PerpMarketCache always refer to the same
// pair.
//
// Slots are handed out in order and never reused; the listing counters live
// in MetaData.ExtraInfo so they persist with the binary image.
type MangoCache struct {
	MetaData        MetaData                  `json:"meta_data"`
	PriceCache      [MaxPairs]PriceCache      `json:"price_cache"`
	RootBankCache   [MaxTokens]RootBankCache  `json:"root_bank_cache"`
	PerpMarketCache [MaxPairs]PerpMarketCache `json:"perp_market_cache"`
}

func NewMangoCache() *MangoCache {
	return &MangoCache{
		MetaData: NewMetaData(DataTypeMangoCache, CurrentVersion, true),
	}
}

func (c *MangoCache) NumPairs() int  { return int(c.MetaData.ExtraInfo[0]) }
func (c *MangoCache) NumTokens() int { return int(c.MetaData.ExtraInfo[1]) }

func (c *MangoCache) perpMask() uint16 {
	return binary.LittleEndian.Uint16(c.MetaData.ExtraInfo[2:4])
}

func (c *MangoCache) setPerpMask(mask uint16) {
	binary.LittleEndian.PutUint16(c.MetaData.ExtraInfo[2:4], mask)
}

// ListPair assigns the next pair slot. withPerp also enables the perp
// market on that slot.
func (c *MangoCache) ListPair(withPerp bool) (int, error) {
	slot := c.NumPairs()
	if slot >= MaxPairs {
		return 0, fmt.Errorf("%w: %d pairs listed", ErrSlotsExhausted, slot)
	}

	c.PriceCache[slot] = PriceCache{}
	c.PerpMarketCache[slot] = PerpMarketCache{}
	c.MetaData.ExtraInfo[0] = byte(slot + 1)
	if withPerp {
		c.setPerpMask(c.perpMask() | 1<<slot)
	}
	return slot, nil
}

// EnablePerpMarket turns on the perp funding record of a listed pair.
// Enabling twice is a no-op.
func (c *MangoCache) EnablePerpMarket(slot int) error {
	if err := c.checkPairSlot(slot); err != nil {
		return err
	}
	c.setPerpMask(c.perpMask() | 1<<slot)
	return nil
}

// ListToken assigns the next token slot with both indices at one.
func (c *MangoCache) ListToken() (int, error) {
	slot := c.NumTokens()
	if slot >= MaxTokens {
		return 0, fmt.Errorf("%w: %d tokens listed", ErrSlotsExhausted, slot)
	}

	c.RootBankCache[slot] = NewRootBankCache()
	c.MetaData.ExtraInfo[1] = byte(slot + 1)
	return slot, nil
}

func (c *MangoCache) IsPairListed(slot int) bool {
	return slot >= 0 && slot < c.NumPairs()
}

func (c *MangoCache) IsPerpListed(slot int) bool {
	return c.IsPairListed(slot) && c.perpMask()&(1<<slot) != 0
}

func (c *MangoCache) IsTokenListed(slot int) bool {
	return slot >= 0 && slot < c.NumTokens()
}

func (c *MangoCache) checkPairSlot(slot int) error {
	if slot < 0 || slot >= MaxPairs {
		return fmt.Errorf("%w: pair slot %d", ErrSlotOutOfBounds, slot)
	}
	if !c.IsPairListed(slot) {
		return fmt.Errorf("%w: pair slot %d", ErrSlotNotListed, slot)
	}
	return nil
}

func (c *MangoCache) checkPerpSlot(slot int) error {
	if err := c.checkPairSlot(slot); err != nil {
		return err
	}
	if !c.IsPerpListed(slot) {
		return fmt.Errorf("%w: perp slot %d", ErrSlotNotListed, slot)
	}
	return nil
}

func (c *MangoCache) checkTokenSlot(slot int) error {
	if slot < 0 || slot >= MaxTokens {
		return fmt.Errorf("%w: token slot %d", ErrSlotOutOfBounds, slot)
	}
	if !c.IsTokenListed(slot) {
		return fmt.Errorf("%w: token slot %d", ErrSlotNotListed, slot)
	}
	return nil
}

func (c *MangoCache) GetPrice(slot int) (PriceCache, error) {
	if err := c.checkPairSlot(slot); err != nil {
		return PriceCache{}, err
	}
	return c.PriceCache[slot], nil
}

func (c *MangoCache) GetRootBankCache(slot int) (RootBankCache, error) {
	if err := c.checkTokenSlot(slot); err != nil {
		return RootBankCache{}, err
	}
	return c.RootBankCache[slot], nil
}

func (c *MangoCache) GetPerpMarketCache(slot int) (PerpMarketCache, error) {
	if err := c.checkPerpSlot(slot); err != nil {
		return PerpMarketCache{}, err
	}
	return c.PerpMarketCache[slot], nil
}

func (c *MangoCache) ApplyPrice(slot int, price fpmath.I80F48, ts uint64) error {
	if err := c.checkPairSlot(slot); err != nil {
		return err
	}
	return c.PriceCache[slot].Apply(price, ts)
}

func (c *MangoCache) ApplyRootBank(slot int, depositIndex, borrowIndex fpmath.I80F48, ts uint64) error {
	if err := c.checkTokenSlot(slot); err != nil {
		return err
	}
	return c.RootBankCache[slot].Apply(depositIndex, borrowIndex, ts)
}

func (c *MangoCache) ApplyPerpMarket(slot int, longFunding, shortFunding fpmath.I80F48, ts uint64) error {
	if err := c.checkPerpSlot(slot); err != nil {
		return err
	}
	return c.PerpMarketCache[slot].Apply(longFunding, shortFunding, ts)
}

// CheckedNativeDeposits converts nb's deposit shares after checking that
// the token's root bank record is no older than maxAge.
func (c *MangoCache) CheckedNativeDeposits(nb NodeBank, tokenSlot int, now, maxAge uint64) (fpmath.I80F48, error) {
	rb, err := c.freshRootBank(nb, tokenSlot, now, maxAge)
	if err != nil {
		return fpmath.I80F48{}, err
	}
	return rb.NativeDeposits(nb)
}

// CheckedNativeBorrows is CheckedNativeDeposits for borrow shares.
func (c *MangoCache) CheckedNativeBorrows(nb NodeBank, tokenSlot int, now, maxAge uint64) (fpmath.I80F48, error) {
	rb, err := c.freshRootBank(nb, tokenSlot, now, maxAge)
	if err != nil {
		return fpmath.I80F48{}, err
	}
	return rb.NativeBorrows(nb)
}

func (c *MangoCache) freshRootBank(nb NodeBank, slot int, now, maxAge uint64) (RootBankCache, error) {
	if err := nb.MetaData.Check(DataTypeNodeBank); err != nil {
		return RootBankCache{}, err
	}
	var req RequiredSet
	req.AddToken(slot)
	if err := c.CheckFreshness(req, now, maxAge); err != nil {
		return RootBankCache{}, err
	}
	return c.RootBankCache[slot], nil
}
