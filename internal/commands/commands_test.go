package commands

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"newsbot/internal/dispatch"
	"newsbot/internal/format"
	"newsbot/internal/scheduler"
	"newsbot/internal/status"
	"newsbot/internal/transport"
	"newsbot/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeSender) SendText(_ context.Context, _ transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return transport.MessageRef{}, nil
}

func (f *fakeSender) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

func msg(from int64, text string) transport.Update {
	return transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: 10, FromID: from, Text: text}}
}

type fakeNews struct {
	msgs []format.Message
	err  error
	n    int
}

func (f *fakeNews) Latest(_ context.Context, n int) ([]format.Message, error) {
	f.n = n
	return f.msgs, f.err
}

type fakeReplies struct {
	sent []string
	to   []int64
}

func (f *fakeReplies) Send(_ context.Context, t dispatch.Target, m format.Message) dispatch.DeliveryResult {
	f.sent = append(f.sent, m.ItemID)
	f.to = append(f.to, t.Chat.ChatID)
	return dispatch.DeliveryResult{Target: t, ItemID: m.ItemID}
}

type staticSched scheduler.Snapshot

func (s staticSched) Snapshot() scheduler.Snapshot { return scheduler.Snapshot(s) }

type storeLen int

func (n storeLen) Len() int { return int(n) }

func newRouter(sender *fakeSender, d Deps) *Router {
	r := NewRouter(sender, []int64{42}, logx.Nop())
	r.Register(Builtin(d)...)
	return r
}

func TestRouterIgnoresPlainText(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	r := newRouter(s, Deps{})
	if err := r.Serve(context.Background(), msg(1, "hello")); err != nil {
		t.Fatal(err)
	}
	if len(s.texts) != 0 {
		t.Fatalf("unexpected replies: %v", s.texts)
	}
}

func TestRouterStartAndUnknown(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	r := newRouter(s, Deps{Welcome: "hi <there>"})

	_ = r.Serve(context.Background(), msg(1, "/start@news_bot"))
	if got := s.last(); got != "hi &lt;there&gt;" {
		t.Fatalf("start reply = %q", got)
	}
	_ = r.Serve(context.Background(), msg(1, "/nope"))
	if got := s.last(); !strings.Contains(got, "unknown command") {
		t.Fatalf("unknown reply = %q", got)
	}
}

func TestStatusOwnerOnly(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	tr := status.New(logx.Nop())
	r := newRouter(s, Deps{
		Store:    storeLen(7),
		Capacity: 100,
		Status:   tr,
		Scheduler: staticSched{
			Timezone: "UTC",
			Skipped:  3,
			Rules:    []scheduler.RuleInfo{{Rule: "*/30 * * * *", Next: time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC)}},
		},
	})

	_ = r.Serve(context.Background(), msg(1, "/status"))
	if got := s.last(); got != "unauthorized" {
		t.Fatalf("non-owner reply = %q", got)
	}

	_ = r.Serve(context.Background(), msg(42, "/status"))
	got := s.last()
	for _, want := range []string{"seen: 7/100", "skipped triggers: 3", "<code>*/30 * * * *</code> 2024-01-01 12:30:00", "runs: 0"} {
		if !strings.Contains(got, want) {
			t.Fatalf("status missing %q:\n%s", want, got)
		}
	}
}

func TestNewsRepliesWithoutRecording(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	src := &fakeNews{msgs: []format.Message{{ItemID: "u1"}, {ItemID: "u2"}}}
	rep := &fakeReplies{}
	r := newRouter(s, Deps{News: src, Replies: rep, MaxNews: 3})

	if err := r.Serve(context.Background(), msg(1, "/latest")); err != nil {
		t.Fatal(err)
	}
	if src.n != 3 {
		t.Fatalf("Latest n = %d", src.n)
	}
	if diff := cmp.Diff([]string{"u1", "u2"}, rep.sent); diff != "" {
		t.Fatalf("replies (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{10, 10}, rep.to); diff != "" {
		t.Fatalf("reply chats (-want +got):\n%s", diff)
	}
}

func TestNewsProviderFailure(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	r := newRouter(s, Deps{News: &fakeNews{err: errors.New("502")}, Replies: &fakeReplies{}})
	if err := r.Serve(context.Background(), msg(1, "/news")); err == nil {
		t.Fatal("want error")
	}
	if got := s.last(); !strings.Contains(got, "unavailable") {
		t.Fatalf("reply = %q", got)
	}
}

func TestPanicRecovered(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	r := NewRouter(s, nil, logx.Nop())
	r.Register(Command{Name: "boom", Handle: func(context.Context, *Request) error { panic("x") }})
	if err := r.Serve(context.Background(), msg(1, "/boom")); err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("err = %v", err)
	}
}

func TestMenuAndRun(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	r := newRouter(s, Deps{})
	var names []string
	for _, c := range r.Menu() {
		names = append(names, c.Command)
	}
	if diff := cmp.Diff([]string{"start", "news", "status", "help"}, names); diff != "" {
		t.Fatalf("menu (-want +got):\n%s", diff)
	}

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan transport.Update, 1)
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, updates) }()
	updates <- msg(1, "/help")

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(s.last(), "/news - latest headlines") {
		if time.Now().After(deadline) {
			t.Fatalf("help reply not seen: %q", s.last())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
