package state_test

import (
	fpmath "MangoCache/internal/math"
	"MangoCache/internal/state"
	"errors"
	"testing"
)

// ============================================================================
// Test: listing
// ============================================================================

func TestNewMangoCache_Header(t *testing.T) {
	c := state.NewMangoCache()
	if err := c.MetaData.Check(state.DataTypeMangoCache); err != nil {
		t.Fatalf("check: %v", err)
	}
	if c.NumPairs() != 0 || c.NumTokens() != 0 {
		t.Errorf("got %d pairs %d tokens, want none", c.NumPairs(), c.NumTokens())
	}
}

func TestListPair_AppendOnly(t *testing.T) {
	c := state.NewMangoCache()
	for want := 0; want < state.MaxPairs; want++ {
		slot, err := c.ListPair(want%2 == 0)
		if err != nil {
			t.Fatalf("list %d: %v", want, err)
		}
		if slot != want {
			t.Fatalf("got slot %d, want %d", slot, want)
		}
	}
	if _, err := c.ListPair(false); !errors.Is(err, state.ErrSlotsExhausted) {
		t.Errorf("got %v, want ErrSlotsExhausted", err)
	}
	if !c.IsPerpListed(0) || c.IsPerpListed(1) {
		t.Error("perp flags do not follow listing")
	}
}

func TestListToken_IndicesStartAtOne(t *testing.T) {
	c := state.NewMangoCache()
	slot, err := c.ListToken()
	if err != nil {
		t.Fatal(err)
	}
	rb, err := c.GetRootBankCache(slot)
	if err != nil {
		t.Fatal(err)
	}
	if rb.DepositIndex != fpmath.One || rb.BorrowIndex != fpmath.One || rb.LastUpdate != 0 {
		t.Errorf("got %+v, want indices one at 0", rb)
	}

	for i := 1; i < state.MaxTokens; i++ {
		if _, err := c.ListToken(); err != nil {
			t.Fatalf("list %d: %v", i, err)
		}
	}
	if _, err := c.ListToken(); !errors.Is(err, state.ErrSlotsExhausted) {
		t.Errorf("got %v, want ErrSlotsExhausted", err)
	}
}

func TestEnablePerpMarket(t *testing.T) {
	c := state.NewMangoCache()
	slot, _ := c.ListPair(false)

	if _, err := c.GetPerpMarketCache(slot); !errors.Is(err, state.ErrSlotNotListed) {
		t.Errorf("got %v, want ErrSlotNotListed before enabling", err)
	}
	if err := c.EnablePerpMarket(slot); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetPerpMarketCache(slot); err != nil {
		t.Errorf("after enable: %v", err)
	}
	if err := c.EnablePerpMarket(slot + 1); !errors.Is(err, state.ErrSlotNotListed) {
		t.Errorf("got %v, want ErrSlotNotListed", err)
	}
}

// ============================================================================
// Test: slot addressing
// ============================================================================

func TestGetters_SlotErrors(t *testing.T) {
	c := state.NewMangoCache()
	c.ListPair(true)
	c.ListToken()

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"price negative", func() error { _, err := c.GetPrice(-1); return err }, state.ErrSlotOutOfBounds},
		{"price past max", func() error { _, err := c.GetPrice(state.MaxPairs); return err }, state.ErrSlotOutOfBounds},
		{"price unlisted", func() error { _, err := c.GetPrice(1); return err }, state.ErrSlotNotListed},
		{"root bank past max", func() error { _, err := c.GetRootBankCache(state.MaxTokens); return err }, state.ErrSlotOutOfBounds},
		{"root bank unlisted", func() error { _, err := c.GetRootBankCache(1); return err }, state.ErrSlotNotListed},
		{"perp unlisted", func() error { _, err := c.GetPerpMarketCache(3); return err }, state.ErrSlotNotListed},
		{"price listed", func() error { _, err := c.GetPrice(0); return err }, nil},
		{"root bank listed", func() error { _, err := c.GetRootBankCache(0); return err }, nil},
		{"perp listed", func() error { _, err := c.GetPerpMarketCache(0); return err }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestApplyPrice_RejectedLeavesSlotUnchanged(t *testing.T) {
	c := state.NewMangoCache()
	for i := 0; i < 4; i++ {
		c.ListPair(false)
	}
	if err := c.ApplyPrice(3, fx("50"), 100); err != nil {
		t.Fatal(err)
	}

	before := *c
	if err := c.ApplyPrice(3, fx("-1"), 120); !errors.Is(err, state.ErrInvalidPrice) {
		t.Fatalf("got %v, want ErrInvalidPrice", err)
	}
	if *c != before {
		t.Error("cache changed after rejected price")
	}
	pc, _ := c.GetPrice(3)
	if pc.Price != fx("50") || pc.LastUpdate != 100 {
		t.Errorf("got %+v, want price 50 at 100", pc)
	}
}

// ============================================================================
// Test: checked native amounts
// ============================================================================

func TestCheckedNativeDeposits_Accrual(t *testing.T) {
	c := state.NewMangoCache()
	token, _ := c.ListToken()
	if err := c.ApplyRootBank(token, fpmath.One, fpmath.One, 100); err != nil {
		t.Fatal(err)
	}

	nb := state.NewNodeBank(state.PublicKey{1})
	nb.Deposits = fpmath.FromInt64(1000)

	got, err := c.CheckedNativeDeposits(nb, token, 105, 10)
	if err != nil {
		t.Fatal(err)
	}
	if got != fpmath.FromInt64(1000) {
		t.Errorf("got %s, want 1000", got)
	}

	if err := c.ApplyRootBank(token, fx("1.05"), fx("1.07"), 200); err != nil {
		t.Fatal(err)
	}
	got, err = c.CheckedNativeDeposits(nb, token, 210, 10)
	if err != nil {
		t.Fatal(err)
	}
	if got.Decimal().Round(6).String() != "1050" {
		t.Errorf("got %s, want 1050 to 6 places", got)
	}

	if _, err := c.CheckedNativeDeposits(nb, token, 211, 10); !errors.Is(err, state.ErrStaleData) {
		t.Errorf("got %v, want ErrStaleData at age 11", err)
	}
}

func TestCheckedNativeBorrows_RejectsBadHeader(t *testing.T) {
	c := state.NewMangoCache()
	token, _ := c.ListToken()

	var nb state.NodeBank // never initialised
	if _, err := c.CheckedNativeBorrows(nb, token, 0, 10); !errors.Is(err, state.ErrInvalidMetaData) {
		t.Errorf("got %v, want ErrInvalidMetaData", err)
	}
}
