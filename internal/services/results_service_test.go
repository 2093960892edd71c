package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"

	"github.com/tbourn/match-results-backend/internal/cache"
	"github.com/tbourn/match-results-backend/internal/domain"
	"github.com/tbourn/match-results-backend/internal/query"
	"github.com/tbourn/match-results-backend/internal/repo"
)

// ----- Fakes -----

type fakeResultRepo struct {
	items []domain.MatchResult
	total int64

	countErr error
	findErr  error
	pairErr  error

	// gate, when set, blocks FindResults until closed.
	gate chan struct{}

	counts atomic.Int32
	finds  atomic.Int32
	pairs  atomic.Int32

	mu         sync.Mutex
	lastPred   query.Predicate
	lastOffset int
	lastLimit  int
}

func (r *fakeResultRepo) FindResults(ctx context.Context, _ *gorm.DB, p query.Predicate, offset, limit int) ([]domain.MatchResult, error) {
	r.finds.Add(1)
	if r.gate != nil {
		<-r.gate
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.lastPred, r.lastOffset, r.lastLimit = p, offset, limit
	r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.items, nil
}

func (r *fakeResultRepo) CountResults(ctx context.Context, _ *gorm.DB, _ query.Predicate) (int64, error) {
	r.counts.Add(1)
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if r.countErr != nil {
		return 0, r.countErr
	}
	return r.total, nil
}

func (r *fakeResultRepo) FindResultsByNames(ctx context.Context, _ *gorm.DB, a, b string) ([]domain.MatchResult, error) {
	r.pairs.Add(1)
	if r.pairErr != nil {
		return nil, r.pairErr
	}
	return r.items, nil
}

// downStore simulates an unreachable cache.
type downStore struct{ calls atomic.Int32 }

func (d *downStore) Get(context.Context, string) ([]byte, bool, error) {
	d.calls.Add(1)
	return nil, false, fmt.Errorf("%w: connection refused", cache.ErrUnavailable)
}

func (d *downStore) Set(context.Context, string, []byte, time.Duration) error {
	d.calls.Add(1)
	return fmt.Errorf("%w: connection refused", cache.ErrUnavailable)
}

func (d *downStore) Delete(context.Context, string) error {
	d.calls.Add(1)
	return fmt.Errorf("%w: connection refused", cache.ErrUnavailable)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func sampleResult(id string, score float64) domain.MatchResult {
	return domain.MatchResult{
		ID:          id,
		Score:       score,
		Analysis:    "analysis " + id,
		Suggestions: []string{"talk more"},
		Timestamp:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		TestType:    domain.TestTypeBasic,
		User1:       domain.Person{Name: "Ann"},
		User2:       domain.Person{Name: "Bob"},
	}
}

func intp(v int) *int { return &v }

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

// ----- Cache-aside behaviour -----

func TestGetResults_MissThenHit_ByteIdentical(t *testing.T) {
	r := &fakeResultRepo{items: []domain.MatchResult{sampleResult("r1", 85)}, total: 1}
	store := cache.NewMemoryStore()
	svc := NewResultService(nil, r, store, nil)
	ctx := context.Background()

	first, err := svc.GetResults(ctx, query.Filter{})
	if err != nil {
		t.Fatalf("GetResults (miss): %v", err)
	}
	if r.counts.Load() != 1 || r.finds.Load() != 1 {
		t.Fatalf("miss must run exactly one count and one find; got %d/%d", r.counts.Load(), r.finds.Load())
	}
	if store.Len() != 1 {
		t.Fatalf("cache not populated, len=%d", store.Len())
	}

	second, err := svc.GetResults(ctx, query.Filter{Page: intp(1), PageSize: intp(10), TestType: "all"})
	if err != nil {
		t.Fatalf("GetResults (hit): %v", err)
	}
	if r.counts.Load() != 1 || r.finds.Load() != 1 {
		t.Fatalf("hit must not touch the store; got %d/%d", r.counts.Load(), r.finds.Load())
	}
	if !bytes.Equal(mustJSON(t, first), mustJSON(t, second)) {
		t.Fatalf("hit differs from miss:\n%s\n%s", mustJSON(t, first), mustJSON(t, second))
	}
	if first.Total != 1 || first.Page != 1 || first.PageSize != 10 || len(first.Results) != 1 {
		t.Fatalf("page = %+v", first)
	}
}

func TestGetResults_PassesPredicateAndPaging(t *testing.T) {
	r := &fakeResultRepo{}
	svc := NewResultService(nil, r, nil, nil)
	fixed := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	_, err := svc.GetResults(context.Background(), query.Filter{
		Page: intp(3), PageSize: intp(20), ScoreRange: []float64{70, 100}, TimeRange: "week", TestType: "basic",
	})
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if r.lastOffset != 40 || r.lastLimit != 20 {
		t.Fatalf("offset/limit = %d/%d; want 40/20", r.lastOffset, r.lastLimit)
	}
	p := r.lastPred
	if p.ScoreMin == nil || *p.ScoreMin != 70 || p.ScoreMax == nil || *p.ScoreMax != 100 {
		t.Fatalf("score predicate = %+v", p)
	}
	if p.Since == nil || !p.Since.Equal(fixed.Add(-7*24*time.Hour)) {
		t.Fatalf("since = %v", p.Since)
	}
	if p.TestType != domain.TestTypeBasic {
		t.Fatalf("test type = %q", p.TestType)
	}
}

func TestGetResults_ValidationFailsBeforeIO(t *testing.T) {
	r := &fakeResultRepo{}
	store := &downStore{}
	svc := NewResultService(nil, r, store, nil)

	_, err := svc.GetResults(context.Background(), query.Filter{Page: intp(0), TestType: "premium"})
	var ve *query.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v; want ValidationError", err)
	}
	if len(ve.Violations) != 2 {
		t.Fatalf("violations = %+v; want 2", ve.Violations)
	}
	if store.calls.Load() != 0 || r.counts.Load() != 0 || r.finds.Load() != 0 {
		t.Fatalf("validation error must not reach cache or store")
	}
}

func TestGetResults_DegradesWhenCacheUnavailable(t *testing.T) {
	r := &fakeResultRepo{items: []domain.MatchResult{sampleResult("r1", 90)}, total: 1}
	store := &downStore{}
	svc := NewResultService(nil, r, store, nil)

	for i := 0; i < 3; i++ {
		page, err := svc.GetResults(context.Background(), query.Filter{})
		if err != nil {
			t.Fatalf("request %d failed with cache down: %v", i, err)
		}
		if page.Total != 1 || len(page.Results) != 1 || page.Results[0].ID != "r1" {
			t.Fatalf("request %d returned %+v", i, page)
		}
	}
	if r.finds.Load() != 3 || r.counts.Load() != 3 {
		t.Fatalf("every request must read through; finds=%d counts=%d", r.finds.Load(), r.counts.Load())
	}
}

func TestGetResults_CountsUnavailableSeparately(t *testing.T) {
	r := &fakeResultRepo{items: []domain.MatchResult{sampleResult("r1", 90)}, total: 1}
	unavailable := cacheRequests.WithLabelValues("unavailable")
	before := testutil.ToFloat64(unavailable)

	svc := NewResultService(nil, r, &downStore{}, nil)
	if _, err := svc.GetResults(context.Background(), query.Filter{}); err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if got := testutil.ToFloat64(unavailable); got != before+1 {
		t.Fatalf("outcome=unavailable = %v; want %v", got, before+1)
	}
	if got := Collectors(); len(got) != 1 || got[0] != prometheus.Collector(cacheRequests) {
		t.Fatalf("Collectors() = %v", got)
	}
}

func TestGetResults_StoreErrorPropagates(t *testing.T) {
	boom := errors.New("disk I/O error")
	cases := []struct {
		name string
		repo *fakeResultRepo
		op   string
	}{
		{"count", &fakeResultRepo{countErr: boom}, "count"},
		{"find", &fakeResultRepo{findErr: boom}, "find"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := cache.NewMemoryStore()
			svc := NewResultService(nil, tc.repo, store, nil)

			page, err := svc.GetResults(context.Background(), query.Filter{})
			if page != nil {
				t.Fatalf("partial page returned: %+v", page)
			}
			var se *StoreError
			if !errors.As(err, &se) || se.Op != tc.op {
				t.Fatalf("err = %v; want StoreError op=%s", err, tc.op)
			}
			if !errors.Is(err, boom) {
				t.Fatalf("StoreError must unwrap to the cause")
			}
			if store.Len() != 0 {
				t.Fatalf("failed load must not be cached")
			}
		})
	}
}

func TestGetResults_TTLExpiry(t *testing.T) {
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := &fakeResultRepo{total: 0}
	svc := NewResultService(nil, r, cache.NewMemoryStoreWithClock(clk.Now), nil)
	ctx := context.Background()

	if _, err := svc.GetResults(ctx, query.Filter{}); err != nil {
		t.Fatal(err)
	}
	clk.Advance(DefaultCacheTTL - time.Second)
	if _, err := svc.GetResults(ctx, query.Filter{}); err != nil {
		t.Fatal(err)
	}
	if r.finds.Load() != 1 {
		t.Fatalf("within TTL: finds = %d; want 1", r.finds.Load())
	}

	clk.Advance(time.Second)
	if _, err := svc.GetResults(ctx, query.Filter{}); err != nil {
		t.Fatal(err)
	}
	if r.finds.Load() != 2 {
		t.Fatalf("after TTL: finds = %d; want 2", r.finds.Load())
	}
}

func TestGetResults_UndecodableEntryIsReplaced(t *testing.T) {
	r := &fakeResultRepo{items: []domain.MatchResult{sampleResult("r1", 50)}, total: 1}
	store := cache.NewMemoryStore()
	svc := NewResultService(nil, r, store, nil)
	ctx := context.Background()

	n, _ := svc.Normalizer.Normalize(query.Filter{})
	key := n.CacheKey()
	_ = store.Set(ctx, key, []byte("{not json"), time.Minute)

	page, err := svc.GetResults(ctx, query.Filter{})
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if page.Total != 1 || r.finds.Load() != 1 {
		t.Fatalf("expected read-through, got %+v finds=%d", page, r.finds.Load())
	}
	b, found, _ := store.Get(ctx, key)
	if !found || !json.Valid(b) {
		t.Fatalf("corrupt entry not replaced: %q", b)
	}
}

func TestGetResults_NilCacheAlwaysReadsThrough(t *testing.T) {
	r := &fakeResultRepo{}
	svc := NewResultService(nil, r, nil, nil)
	for i := 0; i < 2; i++ {
		page, err := svc.GetResults(context.Background(), query.Filter{})
		if err != nil {
			t.Fatal(err)
		}
		if page.Results == nil {
			t.Fatalf("results must be an empty list, not null")
		}
	}
	if r.finds.Load() != 2 {
		t.Fatalf("finds = %d; want 2", r.finds.Load())
	}
}

func TestGetResults_CancelledContextReturnsNoPage(t *testing.T) {
	r := &fakeResultRepo{items: []domain.MatchResult{sampleResult("r1", 50)}, total: 1}
	store := cache.NewMemoryStore()
	svc := NewResultService(nil, r, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	page, err := svc.GetResults(ctx, query.Filter{})
	if page != nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("page=%v err=%v; want nil, context.Canceled", page, err)
	}
	var se *StoreError
	if errors.As(err, &se) {
		t.Fatalf("cancellation must not be reported as a store failure")
	}
	if store.Len() != 0 {
		t.Fatalf("cancelled request must not populate the cache")
	}
}

func TestGetResults_CoalescesConcurrentMisses(t *testing.T) {
	r := &fakeResultRepo{items: []domain.MatchResult{sampleResult("r1", 50)}, total: 1, gate: make(chan struct{})}
	svc := NewResultService(nil, r, cache.NewMemoryStore(), nil)
	svc.Coalesce = true

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			page, err := svc.GetResults(context.Background(), query.Filter{})
			if err == nil && page.Total != 1 {
				err = fmt.Errorf("total = %d", page.Total)
			}
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(r.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("caller failed: %v", err)
		}
	}
	if got := r.finds.Load(); got != 1 {
		t.Fatalf("finds = %d; want 1 shared load", got)
	}
}

// ----- Pair lookup -----

func TestFindPair(t *testing.T) {
	r := &fakeResultRepo{items: []domain.MatchResult{sampleResult("r1", 50)}}
	svc := NewResultService(nil, r, nil, nil)
	ctx := context.Background()

	got, err := svc.FindPair(ctx, " Ann ", "Bob")
	if err != nil || len(got) != 1 {
		t.Fatalf("FindPair = %v, %v", got, err)
	}

	_, err = svc.FindPair(ctx, "", "  ")
	var ve *query.ValidationError
	if !errors.As(err, &ve) || len(ve.Violations) != 2 {
		t.Fatalf("err = %v; want two violations", err)
	}
	if r.pairs.Load() != 1 {
		t.Fatalf("validation failure reached the store")
	}

	r.pairErr = errors.New("locked")
	_, err = svc.FindPair(ctx, "Ann", "Bob")
	var se *StoreError
	if !errors.As(err, &se) || se.Op != "find_pair" {
		t.Fatalf("err = %v; want StoreError find_pair", err)
	}
}

// ----- Against a real record store -----

type storeRepo struct{}

func (storeRepo) FindResults(ctx context.Context, db *gorm.DB, p query.Predicate, offset, limit int) ([]domain.MatchResult, error) {
	return repo.FindResults(ctx, db, p, offset, limit)
}

func (storeRepo) CountResults(ctx context.Context, db *gorm.DB, p query.Predicate) (int64, error) {
	return repo.CountResults(ctx, db, p)
}

func (storeRepo) FindResultsByNames(ctx context.Context, db *gorm.DB, a, b string) ([]domain.MatchResult, error) {
	return repo.FindResultsByNames(ctx, db, a, b)
}

func newStoreDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func insert(t *testing.T, db *gorm.DB, score float64, tt domain.TestType, ts time.Time) *domain.MatchResult {
	t.Helper()
	m, err := repo.CreateResult(context.Background(), db, domain.MatchResult{
		Score: score, Analysis: "a", Suggestions: []string{"s"}, Timestamp: ts, TestType: tt,
		User1: domain.Person{Name: "Ann"}, User2: domain.Person{Name: "Bob"},
	})
	if err != nil {
		t.Fatalf("CreateResult: %v", err)
	}
	return m
}

func TestGetResults_EndToEndExample(t *testing.T) {
	db := newStoreDB(t)
	now := time.Now().UTC()

	match := insert(t, db, 85, domain.TestTypeBasic, now.Add(-time.Hour))
	for i := 0; i < 5; i++ {
		insert(t, db, float64(10+i*10), domain.TestTypeBasic, now.Add(-time.Duration(i+2)*time.Hour))
	}
	for i := 0; i < 4; i++ {
		insert(t, db, 90, domain.TestTypeAdvanced, now.Add(-time.Duration(i+10)*time.Hour))
	}

	svc := NewResultService(db, storeRepo{}, cache.NewMemoryStore(), nil)
	page, err := svc.GetResults(context.Background(), query.Filter{
		Page: intp(1), PageSize: intp(10), ScoreRange: []float64{70, 100}, TestType: "basic",
	})
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if page.Total != 1 || page.Page != 1 || page.PageSize != 10 || len(page.Results) != 1 {
		t.Fatalf("page = %+v", page)
	}
	if page.Results[0].ID != match.ID || page.Results[0].Score != 85 {
		t.Fatalf("wrong record: %+v", page.Results[0])
	}
}

func TestGetResults_PaginationCoversAllRecords(t *testing.T) {
	db := newStoreDB(t)
	base := time.Now().UTC().Add(-48 * time.Hour)
	want := make(map[string]time.Time)
	for i := 0; i < 23; i++ {
		m := insert(t, db, float64(i*4), domain.TestTypeAdvanced, base.Add(time.Duration(i)*time.Minute))
		want[m.ID] = m.Timestamp
	}

	svc := NewResultService(db, storeRepo{}, cache.NewMemoryStore(), nil)
	const size = 5
	seen := make(map[string]bool)
	var prev time.Time
	var total int64 = -1
	for p := 1; ; p++ {
		page, err := svc.GetResults(context.Background(), query.Filter{Page: intp(p), PageSize: intp(size)})
		if err != nil {
			t.Fatalf("page %d: %v", p, err)
		}
		if len(page.Results) > size {
			t.Fatalf("page %d has %d results", p, len(page.Results))
		}
		total = page.Total
		if len(page.Results) == 0 {
			break
		}
		for _, r := range page.Results {
			if seen[r.ID] {
				t.Fatalf("duplicate %s on page %d", r.ID, p)
			}
			seen[r.ID] = true
			if !prev.IsZero() && r.Timestamp.After(prev) {
				t.Fatalf("not sorted newest first at %s", r.ID)
			}
			prev = r.Timestamp
		}
	}
	if total != int64(len(want)) || len(seen) != len(want) {
		t.Fatalf("seen %d of %d (total=%d)", len(seen), len(want), total)
	}
}
