package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"newsbot/internal/config"
	"newsbot/internal/transport"
	"newsbot/pkg/logx"
)

type sent struct {
	Chat int64
	Text string
}

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []sent
	out     chan<- transport.Update
	started bool
	stopped bool
}

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{Chat: to.ChatID, Text: text})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) SendPhoto(ctx context.Context, to transport.ChatTarget, _, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return f.SendText(ctx, to, caption, opt)
}

func (f *fakeAdapter) Start(_ context.Context, out chan<- transport.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	f.out = out
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeAdapter) snapshot() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func (f *fakeAdapter) push(up transport.Update) {
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	out <- up
}

const configTmpl = `telegram:
  token: "123:abc"
  owner_user_ids: [42]
  commands: %t
provider:
  endpoint: %q
  api_key: secret
  query: tech
dedup:
  driver: memory
  capacity: 10
format:
  picker: fixed
dispatch:
  rate_per_sec: 100
  burst: 10
  targets:
    - name: owner
      chat_id: "42"
      role: secondary
    - name: channel
      chat_id: -1001
      role: primary
scheduler:
  rules: ["1h"]
`

func newsServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api-key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"news":[
			{"title":"One","text":"first","url":"https://x/1","source":"Wire"},
			{"title":"One again","text":"dup","url":"https://x/1","source":{"name":"Wire"}},
			{"title":"Two","text":"second","url":"https://x/2"}
		]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T, commands bool) (*App, *fakeAdapter) {
	t.Helper()
	srv := newsServer(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(fmt.Sprintf(configTmpl, commands, srv.URL)), 0o600); err != nil {
		t.Fatal(err)
	}
	cfgm := config.NewManager(path)
	cfg, err := cfgm.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ad := &fakeAdapter{}
	a, err := build(context.Background(), cfg, cfgm, ad, logx.Nop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return a, ad
}

func TestRunOnceDeliversFreshItemsToEveryTarget(t *testing.T) {
	t.Parallel()
	a, ad := newTestApp(t, false)
	defer a.Close()

	rep, err := a.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Fetched != 3 || rep.Fresh != 2 || rep.Delivered != 2 || rep.Recorded != 2 {
		t.Fatalf("report = %+v", rep)
	}

	var chats []int64
	for _, s := range ad.snapshot() {
		chats = append(chats, s.Chat)
	}
	if diff := cmp.Diff([]int64{-1001, 42, -1001, 42}, chats); diff != "" {
		t.Fatalf("delivery order (-want +got):\n%s", diff)
	}
	if got := ad.snapshot()[0].Text; !strings.Contains(got, "<b>One</b>") || !strings.Contains(got, `href="https://x/1"`) {
		t.Fatalf("first message = %q", got)
	}

	rep, err = a.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if rep.Fresh != 0 || len(ad.snapshot()) != 4 {
		t.Fatalf("second run re-sent items: %+v, sent=%d", rep, len(ad.snapshot()))
	}
	if diff := cmp.Diff([]string{"https://x/1", "https://x/2"}, a.store.IDs()); diff != "" {
		t.Fatalf("store (-want +got):\n%s", diff)
	}
}

func TestStartServesCommandsAndStops(t *testing.T) {
	t.Parallel()
	a, ad := newTestApp(t, true)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ad.mu.Lock()
	started := ad.started
	ad.mu.Unlock()
	if !started {
		t.Fatal("adapter not started")
	}

	ad.push(transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: 7, FromID: 7, Text: "/start"}})
	deadline := time.Now().Add(2 * time.Second)
	for {
		if msgs := ad.snapshot(); len(msgs) > 0 {
			if msgs[0].Chat != 7 || !strings.Contains(msgs[0].Text, "Daily News Bot") {
				t.Fatalf("reply = %+v", msgs[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no reply to /start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopSignal); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	ad.mu.Lock()
	stopped := ad.stopped
	ad.mu.Unlock()
	if !stopped {
		t.Fatal("adapter not stopped")
	}
	if a.Scheduler().Snapshot().Running {
		t.Fatal("scheduler still running")
	}
}

func TestStartWithoutCommandsSkipsPolling(t *testing.T) {
	t.Parallel()
	a, ad := newTestApp(t, false)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Stop(ctx, StopSignal)

	ad.mu.Lock()
	defer ad.mu.Unlock()
	if ad.started {
		t.Fatal("adapter polled with commands disabled")
	}
}
