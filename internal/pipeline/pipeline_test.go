package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"newsbot/internal/dedup"
	"newsbot/internal/dispatch"
	"newsbot/internal/eventbus"
	"newsbot/internal/failure"
	"newsbot/internal/fetcher"
	"newsbot/internal/format"
	"newsbot/internal/news"
	"newsbot/internal/transport"
	"newsbot/pkg/logx"
)

type recorder struct {
	mu   sync.Mutex
	sent []string // item IDs, one entry per SendAll
}

func (r *recorder) SendAll(_ context.Context, msg format.Message) []dispatch.DeliveryResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg.ItemID)
	return []dispatch.DeliveryResult{{ItemID: msg.ItemID}}
}

func items(ids ...string) []news.Item {
	out := make([]news.Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, news.Item{ID: id, Title: "title " + id, Body: "body", Link: id})
	}
	return out
}

func static(its []news.Item) fetcher.Fetcher {
	return fetcher.Func(func(context.Context) ([]news.Item, error) { return its, nil })
}

func newTest(f fetcher.Fetcher, store dedup.Store, d Dispatcher, cfg Config) *Pipeline {
	p := New(cfg, f, store, format.New(format.Config{}, format.FixedPicker(0)), d, nil, logx.Nop())
	p.newID = func() string { return "run-1" }
	return p
}

func TestRunDuplicateWithinBatch(t *testing.T) {
	t.Parallel()
	store := dedup.NewMemStore(10)
	rec := &recorder{}
	p := newTest(static(items("u1", "u1", "u2")), store, rec, Config{})

	rep := p.Run(context.Background())

	if diff := cmp.Diff([]string{"u1", "u2"}, rec.sent); diff != "" {
		t.Fatalf("sent (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"u1", "u2"}, store.IDs()); diff != "" {
		t.Fatalf("store (-want +got):\n%s", diff)
	}
	if rep.RunID != "run-1" || rep.Fetched != 3 || rep.Fresh != 2 || rep.Delivered != 2 || rep.Recorded != 2 || !rep.OK() {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()
	store := dedup.NewMemStore(10)
	rec := &recorder{}
	p := newTest(static(items("a", "b", "c")), store, rec, Config{})

	p.Run(context.Background())
	second := p.Run(context.Background())

	if len(rec.sent) != 3 {
		t.Fatalf("want 3 sends total, got %v", rec.sent)
	}
	if second.Fresh != 0 || second.Delivered != 0 {
		t.Fatalf("second run should deliver nothing: %+v", second)
	}
}

func TestRunSkipsStoredAndCaps(t *testing.T) {
	t.Parallel()
	store := dedup.NewMemStore(10, "a", "c")
	rec := &recorder{}
	p := newTest(static(items("a", "b", "c", "d", "e", "f")), store, rec, Config{MaxPerRun: 2})

	rep := p.Run(context.Background())
	if diff := cmp.Diff([]string{"b", "d"}, rec.sent); diff != "" {
		t.Fatalf("sent (-want +got):\n%s", diff)
	}
	if rep.Fresh != 2 {
		t.Fatalf("fresh = %d", rep.Fresh)
	}
	if diff := cmp.Diff([]string{"a", "c", "b", "d"}, store.IDs()); diff != "" {
		t.Fatalf("store (-want +got):\n%s", diff)
	}
}

func TestRunFetchFailure(t *testing.T) {
	t.Parallel()
	store := dedup.NewMemStore(10)
	rec := &recorder{}
	f := fetcher.Func(func(context.Context) ([]news.Item, error) {
		return nil, failure.Fetch("fetch.status", errors.New("502"))
	})
	rep := newTest(f, store, rec, Config{}).Run(context.Background())

	if !errors.Is(rep.FetchErr, failure.Fetch("", nil)) {
		t.Fatalf("FetchErr = %v", rep.FetchErr)
	}
	if len(rec.sent) != 0 || store.Len() != 0 {
		t.Fatal("nothing should be sent or recorded")
	}
}

type chatSender struct {
	mu   sync.Mutex
	fail int64
	got  map[int64][]string
}

func (s *chatSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	if to.ChatID == s.fail {
		return transport.MessageRef{}, errors.New("forbidden")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.got == nil {
		s.got = map[int64][]string{}
	}
	s.got[to.ChatID] = append(s.got[to.ChatID], text)
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func TestRunDestinationIsolation(t *testing.T) {
	t.Parallel()
	sender := &chatSender{fail: -100}
	d := dispatch.New(dispatch.Config{
		Targets: []dispatch.Target{
			{Name: "channel", Chat: transport.ChatTarget{ChatID: -100}, Role: dispatch.RolePrimary},
			{Name: "owner", Chat: transport.ChatTarget{ChatID: 7}, Role: dispatch.RoleSecondary},
		},
		RatePerSec: 1000,
		Burst:      100,
	}, sender, nil, logx.Nop())
	store := dedup.NewMemStore(10)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	p := New(Config{}, static(items("u1", "u2")), store, format.New(format.Config{}, format.FixedPicker(0)), d, bus, logx.Nop())
	rep := p.Run(context.Background())

	if n := len(sender.got[7]); n != 2 {
		t.Fatalf("owner got %d messages, want 2", n)
	}
	if rep.Delivered != 2 || len(rep.Failures) != 2 {
		t.Fatalf("report %+v", rep)
	}
	for _, err := range rep.Failures {
		if failure.KindOf(err) != failure.KindDelivery {
			t.Fatalf("unexpected failure kind: %v", err)
		}
	}
	if diff := cmp.Diff([]string{"u1", "u2"}, store.IDs()); diff != "" {
		t.Fatalf("failed delivery must still record (-want +got):\n%s", diff)
	}

	var sawRun bool
	for len(events) > 0 {
		ev := <-events
		if ev.Type == eventbus.TypeRunFinished {
			sawRun = ev.Data.(RunReport).Delivered == 2
		}
	}
	if !sawRun {
		t.Fatal("run event not published")
	}
}

type brokenStore struct{ *dedup.MemStore }

func (brokenStore) Record(context.Context, string) error {
	return failure.Persistence("dedup.flush", errors.New("disk full"))
}

func TestRunContinuesOnPersistenceFailure(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	p := newTest(static(items("u1", "u2")), brokenStore{dedup.NewMemStore(10)}, rec, Config{})
	rep := p.Run(context.Background())

	if len(rec.sent) != 2 {
		t.Fatalf("sent %v", rec.sent)
	}
	if rep.Recorded != 0 || len(rep.Failures) != 2 || failure.KindOf(rep.Failures[0]) != failure.KindPersistence {
		t.Fatalf("report %+v", rep)
	}
}

type cancelingDispatcher struct {
	cancel context.CancelFunc
	sent   []string
}

func (c *cancelingDispatcher) SendAll(_ context.Context, msg format.Message) []dispatch.DeliveryResult {
	c.sent = append(c.sent, msg.ItemID)
	c.cancel()
	return []dispatch.DeliveryResult{{ItemID: msg.ItemID}}
}

func TestRunRecordsAttemptedItemOnShutdown(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := dedup.NewMemStore(10)
	d := &cancelingDispatcher{cancel: cancel}
	p := newTest(static(items("u1", "u2")), store, d, Config{})
	p.Run(ctx)

	if diff := cmp.Diff([]string{"u1"}, d.sent); diff != "" {
		t.Fatalf("sent (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"u1"}, store.IDs()); diff != "" {
		t.Fatalf("attempted item must be recorded (-want +got):\n%s", diff)
	}
	if rep, ok := p.LastReport(); !ok || rep.Recorded != 1 {
		t.Fatalf("last report %+v", rep)
	}
}

func TestLatestLeavesStoreAlone(t *testing.T) {
	t.Parallel()
	store := dedup.NewMemStore(10, "u1")
	p := newTest(static(items("u1", "u1", "u2", "u3")), store, &recorder{}, Config{})

	msgs, err := p.Latest(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, m := range msgs {
		got = append(got, m.ItemID)
	}
	if diff := cmp.Diff([]string{"u1", "u2"}, got); diff != "" {
		t.Fatalf("latest (-want +got):\n%s", diff)
	}
	if store.Len() != 1 {
		t.Fatal("Latest must not record")
	}
}
