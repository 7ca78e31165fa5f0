package query_test

import (
	fpmath "MangoCache/internal/math"
	"MangoCache/internal/query"
	"MangoCache/internal/state"
	"context"
	"errors"
	"testing"
)

// ============================================================================
// Fakes
// ============================================================================

type fakeCache struct {
	cache state.MangoCache
	seq   int64
}

func (f *fakeCache) View() state.MangoCache { return f.cache }
func (f *fakeCache) GetSequence() int64     { return f.seq }
func (f *fakeCache) CheckFreshness(req state.RequiredSet, now, maxAge uint64) error {
	return f.cache.CheckFreshness(req, now, maxAge)
}

type fakeBanks struct {
	banks map[int][]state.NodeBank
	err   error
}

func (f *fakeBanks) ListByToken(_ context.Context, token int) ([]state.NodeBank, error) {
	return f.banks[token], f.err
}

func fx(s string) fpmath.I80F48 { return fpmath.MustFromString(s) }

const now = 1_000

// one spot pair (0), one perp pair (1), one token (0)
func newFixture(t *testing.T) (*fakeCache, *fakeBanks, *query.QueryService) {
	t.Helper()
	c := state.NewMangoCache()
	if _, err := c.ListPair(false); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ListPair(true); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ListToken(); err != nil {
		t.Fatal(err)
	}
	mustNoErr(t, c.ApplyPrice(0, fx("20"), 995))
	mustNoErr(t, c.ApplyPrice(1, fx("30000"), 900))
	mustNoErr(t, c.ApplyRootBank(0, fx("1.5"), fx("2"), 990))
	mustNoErr(t, c.ApplyPerpMarket(1, fx("0.25"), fx("-0.25"), 999))

	src := &fakeCache{cache: *c, seq: 41}
	banks := &fakeBanks{banks: map[int][]state.NodeBank{}}
	svc := query.NewQueryService(src, banks, 60, query.WithClock(func() uint64 { return now }))
	return src, banks, svc
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

// ============================================================================
// Test: record reads
// ============================================================================

func TestGetPrice(t *testing.T) {
	_, _, svc := newFixture(t)

	got, err := svc.GetPrice(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Price.String() != "30000" || got.LastUpdate != 900 || got.Age != 100 || got.AsOfSequence != 41 {
		t.Errorf("got %+v", got)
	}

	if _, err := svc.GetPrice(context.Background(), 5); !errors.Is(err, state.ErrSlotNotListed) {
		t.Errorf("got %v, want ErrSlotNotListed", err)
	}
	if _, err := svc.GetPrice(context.Background(), 15); !errors.Is(err, state.ErrSlotOutOfBounds) {
		t.Errorf("got %v, want ErrSlotOutOfBounds", err)
	}
}

func TestGetRootBankAndPerpMarket(t *testing.T) {
	_, _, svc := newFixture(t)

	rb, err := svc.GetRootBank(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if rb.DepositIndex.String() != "1.5" || rb.BorrowIndex.String() != "2" || rb.Age != 10 {
		t.Errorf("got %+v", rb)
	}

	pm, err := svc.GetPerpMarket(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if pm.LongFunding.String() != "0.25" || pm.ShortFunding.String() != "-0.25" || pm.Age != 1 {
		t.Errorf("got %+v", pm)
	}

	// pair 0 is spot only
	if _, err := svc.GetPerpMarket(context.Background(), 0); !errors.Is(err, state.ErrSlotNotListed) {
		t.Errorf("got %v, want ErrSlotNotListed", err)
	}
}

func TestGetCache_ListsOnlyListedRecords(t *testing.T) {
	_, _, svc := newFixture(t)

	got, err := svc.GetCache(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.NumPairs != 2 || got.NumTokens != 1 {
		t.Fatalf("got %d pairs %d tokens, want 2 and 1", got.NumPairs, got.NumTokens)
	}
	if len(got.Prices) != 2 || len(got.RootBanks) != 1 || len(got.PerpMarkets) != 1 {
		t.Errorf("got %d prices %d root banks %d perps", len(got.Prices), len(got.RootBanks), len(got.PerpMarkets))
	}
	if got.PerpMarkets[0].Slot != 1 {
		t.Errorf("got perp slot %d, want 1", got.PerpMarkets[0].Slot)
	}
}

// ============================================================================
// Test: freshness
// ============================================================================

func TestCheckFreshness_DefaultMaxAge(t *testing.T) {
	_, _, svc := newFixture(t)

	// price 1 is 100s old, default max age is 60
	got, err := svc.CheckFreshness(context.Background(), query.FreshnessRequest{
		Prices:      []int{0, 1},
		RootBanks:   []int{0},
		PerpMarkets: []int{1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Fresh {
		t.Fatal("expected stale report")
	}
	if got.MaxAge != 60 || got.Now != now {
		t.Errorf("got now %d max age %d", got.Now, got.MaxAge)
	}
	if len(got.Stale) != 1 || got.Stale[0].Kind != state.KindPrice || got.Stale[0].Slot != 1 || got.Stale[0].Age != 100 {
		t.Errorf("got %+v", got.Stale)
	}
}

func TestCheckFreshness_ExplicitMaxAge(t *testing.T) {
	_, _, svc := newFixture(t)

	got, err := svc.CheckFreshness(context.Background(), query.FreshnessRequest{
		Prices: []int{1},
		MaxAge: 100,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !got.Fresh || len(got.Stale) != 0 {
		t.Errorf("got %+v, want fresh", got)
	}
}

func TestCheckFreshness_SlotErrorIsError(t *testing.T) {
	_, _, svc := newFixture(t)

	_, err := svc.CheckFreshness(context.Background(), query.FreshnessRequest{RootBanks: []int{3}})
	if !errors.Is(err, state.ErrSlotNotListed) {
		t.Errorf("got %v, want ErrSlotNotListed", err)
	}
	if query.ErrorCode(err) != "not_listed" {
		t.Errorf("got code %q, want not_listed", query.ErrorCode(err))
	}
}

// ============================================================================
// Test: native balances
// ============================================================================

func TestNativeBalances(t *testing.T) {
	_, banks, svc := newFixture(t)

	var v1, v2 state.PublicKey
	v1[0], v2[0] = 1, 2
	a := state.NewNodeBank(v1)
	a.Deposits, a.Borrows = fx("100"), fx("10")
	b := state.NewNodeBank(v2)
	b.Deposits, b.Borrows = fx("50"), fx("5")
	banks.banks[0] = []state.NodeBank{a, b}

	got, err := svc.NativeBalances(context.Background(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	// 150 shares * 1.5, 15 shares * 2
	if got.Deposits.String() != "225" || got.Borrows.String() != "30" {
		t.Errorf("got deposits %s borrows %s, want 225 and 30", got.Deposits, got.Borrows)
	}
	if got.NodeBanks != 2 || got.AsOfSequence != 41 {
		t.Errorf("got %+v", got)
	}
}

func TestNativeBalances_StaleIndex(t *testing.T) {
	_, _, svc := newFixture(t)

	// root bank is 10s old
	_, err := svc.NativeBalances(context.Background(), 0, 5)
	var stale *state.StaleDataError
	if !errors.As(err, &stale) {
		t.Fatalf("got %v, want *StaleDataError", err)
	}
	if len(stale.Records) != 1 || stale.Records[0].Kind != state.KindRootBank {
		t.Errorf("got %+v", stale.Records)
	}
	if query.ErrorCode(err) != "stale" {
		t.Errorf("got code %q, want stale", query.ErrorCode(err))
	}
}

func TestNativeBalances_BadNodeBank(t *testing.T) {
	_, banks, svc := newFixture(t)
	banks.banks[0] = []state.NodeBank{{}} // uninitialized metadata

	if _, err := svc.NativeBalances(context.Background(), 0, 0); !errors.Is(err, state.ErrInvalidMetaData) {
		t.Errorf("got %v, want ErrInvalidMetaData", err)
	}
}

func TestNativeBalances_StoreError(t *testing.T) {
	_, banks, svc := newFixture(t)
	banks.err = errors.New("db down")

	if _, err := svc.NativeBalances(context.Background(), 0, 0); err == nil {
		t.Error("expected store error")
	}
}
