package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"rule-persistence/internal/models"
	"rule-persistence/internal/publisher"
)

var loginFail = models.Rule{Name: "login-fail", StatisticSpanSeconds: 3}

func newReconciler(store *memSortedSets, sink *fakeOffenderSink, pub *fakePublisher) *OffenderReconciler {
	var p publisher.OffenderPublisher
	if pub != nil {
		p = pub
	}
	return NewOffenderReconciler(store, sink, p, testKeys, 0, 0, newTestMetrics())
}

func seedLoginFailBlacklist(store *memSortedSets) string {
	key := testKeys.OffenderSet("login-fail")
	store.zadd(key, "userB", float64(tickTime.Unix()-10))
	store.zadd(key, "userC", float64(tickTime.Unix()+100))
	return key
}

func TestReconcile_LoginFailScenario(t *testing.T) {
	store := newMemSortedSets()
	sink := newFakeOffenderSink()
	key := seedLoginFailBlacklist(store)

	persisted, pruned, err := newReconciler(store, sink, nil).Reconcile(context.Background(), loginFail, tickTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if persisted != 2 || pruned != 1 {
		t.Fatalf("expected persisted=2 pruned=1, got %d/%d", persisted, pruned)
	}

	for _, want := range []models.OffenderKey{
		{RuleName: "login-fail", Sample: "userB", RejectTime: tickTime.Unix() - 10},
		{RuleName: "login-fail", Sample: "userC", RejectTime: tickTime.Unix() + 100},
	} {
		rec, ok := sink.records[want]
		if !ok {
			t.Fatalf("missing durable record %+v", want)
		}
		if !rec.AddedAt.Equal(tickTime) {
			t.Fatalf("expected added_at %s, got %s", tickTime, rec.AddedAt)
		}
	}

	if _, ok := store.score(key, "userB"); ok {
		t.Fatal("expired userB should be pruned")
	}
	if _, ok := store.score(key, "userC"); !ok {
		t.Fatal("active userC should remain")
	}
}

func TestReconcile_SkipsRecordsAlreadyStored(t *testing.T) {
	store := newMemSortedSets()
	sink := newFakeOffenderSink()
	seedLoginFailBlacklist(store)
	existing := models.OffenderRecord{RuleName: "login-fail", Sample: "userC", RejectTime: tickTime.Unix() + 100}
	sink.records[existing.Key()] = existing

	persisted, _, err := newReconciler(store, sink, nil).Reconcile(context.Background(), loginFail, tickTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if persisted != 1 || sink.count() != 2 {
		t.Fatalf("expected only userB to be added, persisted=%d stored=%d", persisted, sink.count())
	}
}

func TestReconcile_IsIdempotent(t *testing.T) {
	store := newMemSortedSets()
	sink := newFakeOffenderSink()
	seedLoginFailBlacklist(store)
	r := newReconciler(store, sink, nil)

	if _, _, err := r.Reconcile(context.Background(), loginFail, tickTime); err != nil {
		t.Fatal(err)
	}
	persisted, pruned, err := r.Reconcile(context.Background(), loginFail, tickTime)
	if err != nil {
		t.Fatal(err)
	}
	if persisted != 0 || pruned != 0 {
		t.Fatalf("second run should be a no-op, got persisted=%d pruned=%d", persisted, pruned)
	}
	if sink.count() != 2 || sink.saveCalls != 1 {
		t.Fatalf("expected 2 records from one save, got %d records over %d saves", sink.count(), sink.saveCalls)
	}
}

func TestReconcile_PrunesEntriesExactlyAtNow(t *testing.T) {
	store := newMemSortedSets()
	key := testKeys.OffenderSet("login-fail")
	store.zadd(key, "early", float64(tickTime.Unix()-1))
	store.zadd(key, "boundary", float64(tickTime.Unix()))
	store.zadd(key, "late", float64(tickTime.Unix()+1))

	_, pruned, err := newReconciler(store, newFakeOffenderSink(), nil).Reconcile(context.Background(), loginFail, tickTime)
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 2 {
		t.Fatalf("expected 2 pruned, got %d", pruned)
	}
	if _, ok := store.score(key, "boundary"); ok {
		t.Fatal("entry scored exactly now must be removed")
	}
	if store.card(key) != 1 {
		t.Fatalf("expected only the later entry to remain, got %d", store.card(key))
	}
}

func TestReconcile_EmptyBlacklistStillPrunes(t *testing.T) {
	store := newMemSortedSets()
	sink := newFakeOffenderSink()

	persisted, pruned, err := newReconciler(store, sink, nil).Reconcile(context.Background(), loginFail, tickTime)
	if err != nil {
		t.Fatal(err)
	}
	if persisted != 0 || pruned != 0 {
		t.Fatalf("expected zero counts, got %d/%d", persisted, pruned)
	}
	if sink.existsCalls != 0 || sink.saveCalls != 0 {
		t.Fatal("durable store should not be touched for an empty blacklist")
	}
	if store.removeCalls != 1 {
		t.Fatalf("expected prune to run once, got %d", store.removeCalls)
	}
}

func TestReconcile_PrunesEvenWhenPersistFails(t *testing.T) {
	for name, setup := range map[string]func(*memSortedSets, *fakeOffenderSink){
		"read":   func(s *memSortedSets, _ *fakeOffenderSink) { s.readErr = errors.New("timeout") },
		"exists": func(_ *memSortedSets, d *fakeOffenderSink) { d.existsErr = errors.New("scylla down") },
		"save":   func(_ *memSortedSets, d *fakeOffenderSink) { d.saveErr = errors.New("write timeout") },
	} {
		t.Run(name, func(t *testing.T) {
			store := newMemSortedSets()
			sink := newFakeOffenderSink()
			key := seedLoginFailBlacklist(store)
			setup(store, sink)

			_, pruned, err := newReconciler(store, sink, nil).Reconcile(context.Background(), loginFail, tickTime)
			if err == nil {
				t.Fatal("expected an error")
			}
			if pruned != 1 {
				t.Fatalf("expected prune to still remove userB, got %d", pruned)
			}
			if _, ok := store.score(key, "userB"); ok {
				t.Fatal("userB should be pruned")
			}
		})
	}
}

func TestReconcile_PartialSaveIsReported(t *testing.T) {
	store := newMemSortedSets()
	sink := newFakeOffenderSink()
	sink.saveErr = errors.New("batch 2 failed")
	sink.saveLimit = 1
	seedLoginFailBlacklist(store)
	pub := &fakePublisher{}

	persisted, _, err := newReconciler(store, sink, pub).Reconcile(context.Background(), loginFail, tickTime)
	if !errors.Is(err, ErrPartialPersist) {
		t.Fatalf("expected ErrPartialPersist, got %v", err)
	}
	if persisted != 1 {
		t.Fatalf("expected 1 persisted, got %d", persisted)
	}
	if len(pub.records) != 1 {
		t.Fatalf("only saved records should be published, got %d", len(pub.records))
	}
}

func TestReconcile_ReadFailureIsStoreUnavailable(t *testing.T) {
	store := newMemSortedSets()
	store.readErr = errors.New("connection reset")

	_, _, err := newReconciler(store, newFakeOffenderSink(), nil).Reconcile(context.Background(), loginFail, tickTime)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestReconcile_PublishesNewRecordsBestEffort(t *testing.T) {
	store := newMemSortedSets()
	sink := newFakeOffenderSink()
	seedLoginFailBlacklist(store)
	pub := &fakePublisher{err: errors.New("kafka unreachable")}

	persisted, _, err := newReconciler(store, sink, pub).Reconcile(context.Background(), loginFail, tickTime)
	if err != nil {
		t.Fatalf("publish failure must not fail the rule, got %v", err)
	}
	if persisted != 2 || len(pub.records) != 2 {
		t.Fatalf("expected 2 persisted and published, got %d/%d", persisted, len(pub.records))
	}
}

func TestReconcile_ThrottleHonoursCancellation(t *testing.T) {
	store := newMemSortedSets()
	seedLoginFailBlacklist(store)
	r := NewOffenderReconciler(store, newFakeOffenderSink(), nil, testKeys, 0.001, 0, newTestMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := r.Reconcile(ctx, loginFail, tickTime)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReconcile_PruneSurvivesHungDurableStore(t *testing.T) {
	store := newMemSortedSets()
	sink := newFakeOffenderSink()
	sink.blockExists = true
	key := seedLoginFailBlacklist(store)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, pruned, err := newReconciler(store, sink, nil).Reconcile(ctx, loginFail, tickTime)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the hung existence check to time out, got %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected userB to be pruned, got %d", pruned)
	}
	if _, ok := store.score(key, "userB"); ok {
		t.Fatal("expired userB should be pruned while the durable store hangs")
	}
	if sink.saveCalls != 0 {
		t.Fatalf("nothing was checked, expected no save, got %d", sink.saveCalls)
	}
}

func TestReconcile_ThrottledPassSavesCheckedAndResumes(t *testing.T) {
	const total = 30
	store := newMemSortedSets()
	sink := newFakeOffenderSink()
	key := testKeys.OffenderSet("login-fail")
	for i := 0; i < total; i++ {
		store.zadd(key, fmt.Sprintf("user%02d", i), float64(tickTime.Unix()+100+int64(i)))
	}
	r := NewOffenderReconciler(store, sink, nil, testKeys, 20, 0, newTestMetrics())

	reconcile := func() (int64, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		persisted, _, err := r.Reconcile(ctx, loginFail, tickTime)
		return persisted, err
	}

	persisted, err := reconcile()
	if !errors.Is(err, ErrPartialPersist) {
		t.Fatalf("expected ErrPartialPersist once the check budget runs out, got %v", err)
	}
	if kind := errorKind(err); kind != "partial_persist" && kind != "timeout" {
		t.Fatalf("throttle stop should be classified, got %q", kind)
	}
	if persisted == 0 || persisted >= total {
		t.Fatalf("expected a partial pass, persisted=%d", persisted)
	}
	if sink.saveCalls != 1 || sink.count() != int(persisted) {
		t.Fatalf("checked records should be saved in one batch, saves=%d stored=%d", sink.saveCalls, sink.count())
	}

	for pass := 0; pass < 20 && sink.count() < total; pass++ {
		before := sink.count()
		if _, err := reconcile(); err != nil && !errors.Is(err, ErrPartialPersist) {
			t.Fatalf("unexpected error: %v", err)
		}
		if sink.count() == before && sink.count() < total {
			t.Fatalf("pass %d made no progress at %d records", pass, before)
		}
	}
	if sink.count() != total {
		t.Fatalf("expected every offender stored eventually, got %d", sink.count())
	}
	if store.card(key) != total {
		t.Fatal("active entries must stay in the blacklist")
	}
}
