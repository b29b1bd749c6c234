package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lazypower/recall/internal/config"
)

func mustStore(t *testing.T, db *DB, p StoreParams) string {
	t.Helper()
	id, err := db.Store(context.Background(), p)
	if err != nil {
		t.Fatalf("Store(%q): %v", p.Content, err)
	}
	return id
}

func TestStoreAndGet(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id := mustStore(t, db, StoreParams{
		Content:    "sqlite busy_timeout avoids SQLITE_BUSY under WAL",
		Category:   "discovery",
		Importance: 0.8,
		Trust:      0.9,
		Tags:       []string{"sqlite", " wal ", "sqlite", ""},
		FilesRead:  []string{"internal/store/db.go"},
	})
	if id == "" {
		t.Fatal("empty id")
	}

	recs, err := db.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Get returned %d records", len(recs))
	}
	r := recs[0]
	if r.Category != "discovery" || r.Importance != 0.8 || r.Trust != 0.9 {
		t.Errorf("record = %+v", r)
	}
	if r.Sensitivity != Public {
		t.Errorf("Sensitivity = %q, want public", r.Sensitivity)
	}
	if strings.Join(r.Tags, ",") != "sqlite,wal" {
		t.Errorf("Tags = %v, want [sqlite wal]", r.Tags)
	}
	if len(r.FilesRead) != 1 || len(r.FilesModified) != 0 {
		t.Errorf("files = %v / %v", r.FilesRead, r.FilesModified)
	}
	if r.ContentHash != ContentHash(r.Content) {
		t.Error("content hash mismatch")
	}
	if r.ExpiresAt != nil {
		t.Errorf("ExpiresAt = %v, want nil", r.ExpiresAt)
	}
}

func TestStoreDefaults(t *testing.T) {
	db := testDB(t)
	id := mustStore(t, db, StoreParams{Content: "plain note", Importance: 7, Trust: -2})

	recs, _ := db.Get(context.Background(), id)
	r := recs[0]
	if r.Category != "general" {
		t.Errorf("Category = %q, want general", r.Category)
	}
	if r.Importance != 1 || r.Trust != 0 {
		t.Errorf("importance/trust = %v/%v, want clamped 1/0", r.Importance, r.Trust)
	}

	id = mustStore(t, db, StoreParams{Content: "unscored note"})
	recs, _ = db.Get(context.Background(), id)
	if r := recs[0]; r.Importance != 0.5 || r.Trust != 0.5 || r.Sensitivity != Public {
		t.Errorf("defaults = %v/%v/%q, want 0.5/0.5/public", r.Importance, r.Trust, r.Sensitivity)
	}
}

func TestStoreRejects(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.Store(ctx, StoreParams{Content: "   "}); err == nil {
		t.Error("expected error for empty content")
	}
	_, err := db.Store(ctx, StoreParams{Content: "x", Sensitivity: "classified"})
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestStoreDedup(t *testing.T) {
	clock := newFakeClock()
	db := testDB(t, WithClock(clock.Now))
	ctx := context.Background()

	p := StoreParams{Content: "the cache key includes the tenant id", Importance: 0.5}
	first := mustStore(t, db, p)
	before, _ := db.Get(ctx, first)

	clock.Advance(time.Minute)
	second := mustStore(t, db, p)
	if first != second {
		t.Fatalf("dedup returned %q, want %q", second, first)
	}

	n, _ := db.Count(ctx)
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	after, _ := db.Get(ctx, first)
	if !after[0].UpdatedAt.After(before[0].UpdatedAt) {
		t.Errorf("updated_at not refreshed: %v -> %v", before[0].UpdatedAt, after[0].UpdatedAt)
	}
	if after[0].AccessedCount != 0 {
		t.Errorf("AccessedCount = %d, want 0", after[0].AccessedCount)
	}
}

func TestTTLExpiry(t *testing.T) {
	clock := newFakeClock()
	db := testDB(t, WithClock(clock.Now))
	ctx := context.Background()

	id := mustStore(t, db, StoreParams{
		Content: "temporary deploy freeze until friday", Importance: 0.9, TTLDays: 1,
	})
	mustStore(t, db, StoreParams{Content: "permanent deploy checklist lives in the wiki", Importance: 0.9})

	search := func() []Ranked {
		res, err := db.SearchV2(ctx, SearchParams{Query: "deploy", Scoring: zeroMin()})
		if err != nil {
			t.Fatalf("SearchV2: %v", err)
		}
		return res
	}
	if got := search(); len(got) != 2 {
		t.Fatalf("before expiry: %d results, want 2", len(got))
	}

	clock.Advance(48 * time.Hour)
	for _, r := range search() {
		if r.ID == id {
			t.Error("expired record returned by search")
		}
	}
	if recs, _ := db.Get(ctx, id); len(recs) != 0 {
		t.Error("expired record returned by Get")
	}

	n, err := db.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("PurgeExpired = %d, want 1", n)
	}
	if n, _ := db.PurgeExpired(ctx); n != 0 {
		t.Errorf("second PurgeExpired = %d, want 0", n)
	}
}

func TestStoreRevivesExpiredDuplicate(t *testing.T) {
	clock := newFakeClock()
	db := testDB(t, WithClock(clock.Now))
	ctx := context.Background()

	p := StoreParams{Content: "flaky test quarantine list", TTLDays: 1}
	id := mustStore(t, db, p)
	clock.Advance(48 * time.Hour)

	if again := mustStore(t, db, p); again != id {
		t.Fatalf("id = %q, want %q", again, id)
	}
	recs, _ := db.Get(ctx, id)
	if len(recs) != 1 {
		t.Fatal("duplicate store did not revive expired record")
	}
	if !recs[0].ExpiresAt.After(clock.Now()) {
		t.Errorf("ExpiresAt = %v, want future", recs[0].ExpiresAt)
	}
}

func TestDelete(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	id := mustStore(t, db, StoreParams{Content: "delete me"})

	ok, err := db.Delete(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	ok, err = db.Delete(ctx, id)
	if err != nil {
		t.Fatalf("Delete unknown: %v", err)
	}
	if ok {
		t.Error("Delete of unknown id returned true")
	}
}

func TestListAll(t *testing.T) {
	clock := newFakeClock()
	db := testDB(t, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		mustStore(t, db, StoreParams{Content: fmt.Sprintf("note %d %s", i, strings.Repeat("x", 200))})
		clock.Advance(time.Second)
	}

	page, err := db.ListAll(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page size = %d", len(page))
	}
	if !strings.HasPrefix(page[0].Preview, "note 4") {
		t.Errorf("first preview = %q, want newest", page[0].Preview)
	}
	if len([]rune(page[0].Preview)) > previewLen+3 {
		t.Errorf("preview too long: %d", len(page[0].Preview))
	}

	rest, _ := db.ListAll(ctx, 10, 2)
	if len(rest) != 3 {
		t.Errorf("offset page size = %d, want 3", len(rest))
	}
}

func TestRecordAccess(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a := mustStore(t, db, StoreParams{Content: "a"})
	b := mustStore(t, db, StoreParams{Content: "b"})

	db.RecordAccess(ctx, a, b)
	db.RecordAccess(ctx, a)

	recs, _ := db.Get(ctx, a, b)
	if recs[0].AccessedCount != 2 || recs[1].AccessedCount != 1 {
		t.Errorf("counts = %d, %d", recs[0].AccessedCount, recs[1].AccessedCount)
	}
}

func TestSetImportance(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	id := mustStore(t, db, StoreParams{Content: "a", Importance: 0.2})

	if err := db.SetImportance(ctx, id, 1.7); err != nil {
		t.Fatalf("SetImportance: %v", err)
	}
	recs, _ := db.Get(ctx, id)
	if recs[0].Importance != 1 {
		t.Errorf("Importance = %v, want 1", recs[0].Importance)
	}

	err := db.SetImportance(ctx, "nope", 0.5)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListBatchPagesEverything(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		mustStore(t, db, StoreParams{Content: fmt.Sprintf("record %d", i)})
	}

	seen := 0
	after := ""
	for {
		batch, err := db.ListBatch(ctx, after, 3)
		if err != nil {
			t.Fatalf("ListBatch: %v", err)
		}
		if len(batch) == 0 {
			break
		}
		seen += len(batch)
		after = batch[len(batch)-1].ID
	}
	if seen != 7 {
		t.Errorf("paged %d records, want 7", seen)
	}
}

func TestCompressionCandidates(t *testing.T) {
	clock := newFakeClock()
	db := testDB(t, WithClock(clock.Now))
	ctx := context.Background()

	old := mustStore(t, db, StoreParams{Content: "old bugfix", Category: "bugfix"})
	mustStore(t, db, StoreParams{Content: "old summary", Category: "session_summary"})
	clock.Advance(10 * 24 * time.Hour)
	mustStore(t, db, StoreParams{Content: "fresh note"})

	cands, err := db.CompressionCandidates(ctx, clock.Now().Add(-7*24*time.Hour), []string{"session_summary"}, 10)
	if err != nil {
		t.Fatalf("CompressionCandidates: %v", err)
	}
	if len(cands) != 1 || cands[0].ID != old {
		t.Errorf("candidates = %+v, want only %s", cands, old)
	}
}

func TestReplaceWithSummary(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, mustStore(t, db, StoreParams{Content: fmt.Sprintf("original %d", i)}))
	}
	if err := db.AddFacts(ctx, Fact{Subject: "s", Predicate: "p", Object: "o", SourceID: ids[0]}); err != nil {
		t.Fatalf("AddFacts: %v", err)
	}

	sid, err := db.ReplaceWithSummary(ctx, StoreParams{Content: "summary", Category: "compressed_summary"}, ids)
	if err != nil {
		t.Fatalf("ReplaceWithSummary: %v", err)
	}
	if n, _ := db.Count(ctx); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	facts, _ := db.FactsBySource(ctx, sid)
	if len(facts) != 1 {
		t.Errorf("facts moved to summary = %d, want 1", len(facts))
	}
	recs, _ := db.Get(ctx, sid)
	if len(recs) != 1 || recs[0].Importance != 0 || recs[0].Trust != 0 {
		t.Errorf("summary scores should be stored as given: %+v", recs)
	}
}

func TestConcurrentStores(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				// Half the writes collide on content across workers.
				content := fmt.Sprintf("shared %d", i)
				if i%2 == 1 {
					content = fmt.Sprintf("worker %d item %d", w, i)
				}
				if _, err := db.Store(ctx, StoreParams{Content: content}); err != nil {
					t.Errorf("Store: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	n, _ := db.Count(ctx)
	if want := 5 + 4*5; n != want {
		t.Errorf("Count = %d, want %d", n, want)
	}
}

func zeroMin() config.ScoringConfig {
	sc := config.DefaultScoring()
	sc.MinScore = 0
	return sc
}
