package state_test

import (
	"MangoCache/internal/state"
	"errors"
	"testing"
)

func listedCache(t *testing.T, pairs, tokens int) *state.MangoCache {
	t.Helper()
	c := state.NewMangoCache()
	for i := 0; i < pairs; i++ {
		if _, err := c.ListPair(true); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < tokens; i++ {
		if _, err := c.ListToken(); err != nil {
			t.Fatal(err)
		}
	}
	return c
}

func TestCheckFreshness_StalePriceReported(t *testing.T) {
	c := listedCache(t, 4, 0)
	if err := c.ApplyPrice(3, fx("50"), 100); err != nil {
		t.Fatal(err)
	}

	var req state.RequiredSet
	req.AddSpot(3)
	err := c.CheckFreshness(req, 110, 5)

	var stale *state.StaleDataError
	if !errors.As(err, &stale) {
		t.Fatalf("got %v, want *StaleDataError", err)
	}
	if !errors.Is(err, state.ErrStaleData) {
		t.Error("StaleDataError should match ErrStaleData")
	}
	want := state.StaleRecord{Kind: state.KindPrice, Slot: 3, Age: 10, MaxAge: 5}
	if len(stale.Records) != 1 || stale.Records[0] != want {
		t.Errorf("got %+v, want [%+v]", stale.Records, want)
	}
}

func TestCheckFreshness_Boundary(t *testing.T) {
	c := listedCache(t, 1, 0)
	c.ApplyPrice(0, fx("1"), 100)

	var req state.RequiredSet
	req.AddSpot(0)
	if err := c.CheckFreshness(req, 105, 5); err != nil {
		t.Errorf("age == max_age should pass: %v", err)
	}
	if err := c.CheckFreshness(req, 106, 5); !errors.Is(err, state.ErrStaleData) {
		t.Errorf("got %v, want ErrStaleData", err)
	}
}

func TestCheckFreshness_ConjunctiveAcrossKinds(t *testing.T) {
	c := listedCache(t, 3, 3)
	for i := 0; i < 3; i++ {
		c.ApplyPrice(i, fx("10"), 100)
		c.ApplyRootBank(i, fx("1"), fx("1"), 100)
		c.ApplyPerpMarket(i, fx("0"), fx("0"), 100)
	}
	// one lagging updater per kind
	c.ApplyPrice(2, fx("11"), 100)
	c.ApplyRootBank(0, fx("1.1"), fx("1.1"), 200)
	c.ApplyRootBank(2, fx("1.1"), fx("1.1"), 200)
	c.ApplyPerpMarket(0, fx("1"), fx("1"), 200)
	c.ApplyPerpMarket(2, fx("1"), fx("1"), 200)
	c.ApplyPrice(0, fx("10"), 200)
	c.ApplyPrice(1, fx("10"), 200)

	var req state.RequiredSet
	req.AddPerp(2)
	req.AddPerp(1)
	req.AddPerp(0)
	req.AddToken(0)
	req.AddToken(1)
	req.AddToken(2)
	req.AddSpot(2) // duplicate collapses

	err := c.CheckFreshness(req, 205, 10)
	var stale *state.StaleDataError
	if !errors.As(err, &stale) {
		t.Fatalf("got %v, want *StaleDataError", err)
	}

	want := []state.StaleRecord{
		{Kind: state.KindPrice, Slot: 2, Age: 105, MaxAge: 10},
		{Kind: state.KindRootBank, Slot: 1, Age: 105, MaxAge: 10},
		{Kind: state.KindPerpMarket, Slot: 1, Age: 105, MaxAge: 10},
	}
	if len(stale.Records) != len(want) {
		t.Fatalf("got %+v, want %+v", stale.Records, want)
	}
	for i := range want {
		if stale.Records[i] != want[i] {
			t.Errorf("record %d: got %+v, want %+v", i, stale.Records[i], want[i])
		}
	}
}

func TestCheckFreshness_AllFresh(t *testing.T) {
	c := listedCache(t, 2, 2)
	c.ApplyPrice(0, fx("10"), 100)
	c.ApplyPrice(1, fx("10"), 100)
	c.ApplyRootBank(1, fx("1"), fx("1"), 98)

	var req state.RequiredSet
	req.AddSpot(0)
	req.AddSpot(1)
	req.AddToken(1)
	if err := c.CheckFreshness(req, 100, 2); err != nil {
		t.Errorf("got %v, want nil", err)
	}
}

func TestCheckFreshness_NeverWrittenPrice(t *testing.T) {
	c := listedCache(t, 1, 0)

	var req state.RequiredSet
	req.AddSpot(0)
	// age 0 is within bound, but the price was never written
	if err := c.CheckFreshness(req, 0, 100); !errors.Is(err, state.ErrStaleData) {
		t.Errorf("got %v, want ErrStaleData", err)
	}
}

func TestCheckFreshness_UnlistedSlot(t *testing.T) {
	c := listedCache(t, 1, 1)

	tests := []struct {
		name string
		req  state.RequiredSet
		want error
	}{
		{"price", state.RequiredSet{Prices: []int{5}}, state.ErrSlotNotListed},
		{"root bank", state.RequiredSet{RootBanks: []int{99}}, state.ErrSlotOutOfBounds},
		{"perp", state.RequiredSet{PerpMarkets: []int{-1}}, state.ErrSlotOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.CheckFreshness(tt.req, 0, 10); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCheckFreshness_DoesNotMutate(t *testing.T) {
	c := listedCache(t, 2, 2)
	c.ApplyPrice(0, fx("3"), 10)
	before := *c

	var req state.RequiredSet
	req.AddPerp(0)
	req.AddPerp(1)
	req.AddToken(0)
	_ = c.CheckFreshness(req, 1000, 1)

	if *c != before {
		t.Error("validation mutated the cache")
	}
}

func TestCheckFreshness_EmptySet(t *testing.T) {
	c := state.NewMangoCache()
	if err := c.CheckFreshness(state.RequiredSet{}, 500, 0); err != nil {
		t.Errorf("got %v, want nil", err)
	}
}
