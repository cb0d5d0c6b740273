// Package commands routes chat commands (/start, /news, /status) to
// handlers through a small middleware chain and a bounded worker pool.
package commands

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"newsbot/internal/transport"
	"newsbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Request struct {
	Update  transport.Update
	Chat    transport.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger
	Sender  transport.Sender
}

// Reply sends an HTML text to the chat the request came from.
func (r *Request) Reply(ctx context.Context, html string) error {
	_, err := r.Sender.SendText(ctx, r.Chat, html, &transport.SendOptions{ParseMode: transport.ParseModeHTML, DisablePreview: true})
	return err
}

const defaultCommandTimeout = 30 * time.Second

type Router struct {
	log     logx.Logger
	sender  transport.Sender
	owners  []int64
	workers int

	mu    sync.RWMutex
	cmds  map[string]Command
	order []string
}

func NewRouter(sender transport.Sender, owners []int64, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:     log.With(logx.String("comp", "commands")),
		sender:  sender,
		owners:  append([]int64(nil), owners...),
		workers: 2,
		cmds:    map[string]Command{},
	}
}

// Register adds or replaces commands by name.
func (r *Router) Register(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		name := normalize(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		if _, exists := r.cmds[name]; !exists {
			r.order = append(r.order, name)
		}
		c.Name = name
		r.cmds[name] = c
		for _, a := range c.Aliases {
			if a = normalize(a); a != "" {
				r.cmds[a] = c
			}
		}
	}
}

// Menu lists registered commands for the platform command menu.
func (r *Router) Menu() []transport.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]transport.BotCommand, 0, len(r.order))
	for _, name := range r.order {
		c := r.cmds[name]
		out = append(out, transport.BotCommand{Command: name, Description: c.Description})
	}
	return out
}

// Run consumes updates until ctx is done or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Update) error {
	jobs := make(chan func(), 64)
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				job()
			}
		}()
	}
	defer func() {
		close(jobs)
		wg.Wait()
		r.log.Info("command router stopped")
	}()

	r.log.Info("command router started", logx.Int("workers", r.workers))
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			h, req := r.route(up)
			if h == nil {
				continue
			}
			select {
			case jobs <- func() { _ = h(ctx, req) }:
			default:
				_ = req.Reply(ctx, "busy, try again")
			}
		}
	}
}

// Serve handles one update synchronously.
func (r *Router) Serve(ctx context.Context, up transport.Update) error {
	h, req := r.route(up)
	if h == nil {
		return nil
	}
	return h(ctx, req)
}

func (r *Router) route(up transport.Update) (HandlerFunc, *Request) {
	if up.Kind != transport.UpdateMessage || up.Message == nil {
		return nil, nil
	}
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return nil, nil
	}
	parts := strings.Fields(text)
	word := normalize(parts[0])

	rid := uuid.NewString()[:8]
	req := &Request{
		Update:  up,
		Chat:    transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:  msg.FromID,
		Command: word,
		Args:    parts[1:],
		ReqID:   rid,
		Sender:  r.sender,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", word),
		),
	}

	r.mu.RLock()
	cmd, ok := r.cmds[word]
	r.mu.RUnlock()
	if !ok {
		return func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, "unknown command. try /help")
		}, req
	}
	if cmd.Access == AccessOwnerOnly && !slices.Contains(r.owners, msg.FromID) {
		return func(ctx context.Context, req *Request) error {
			req.Logger.Warn("unauthorized command")
			return req.Reply(ctx, "unauthorized")
		}, req
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return Chain(cmd.Handle, MWPanicRecover(), MWRequestLog(), MWTimeout(timeout)), req
}

// normalize turns "/News@my_bot" into "news".
func normalize(word string) string {
	word = strings.TrimPrefix(strings.TrimSpace(word), "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	return strings.ToLower(word)
}

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					req.Logger.Error("panic recovered", logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", rec)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			if err != nil {
				req.Logger.Warn("request failed", logx.Duration("dur", time.Since(start)), logx.Err(err))
			} else {
				req.Logger.Info("request ok", logx.Duration("dur", time.Since(start)))
			}
			return err
		}
	}
}
