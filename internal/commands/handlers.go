package commands

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"newsbot/internal/dispatch"
	"newsbot/internal/format"
	"newsbot/internal/pipeline"
	"newsbot/internal/scheduler"
	"newsbot/internal/status"
)

type NewsSource interface {
	Latest(ctx context.Context, n int) ([]format.Message, error)
}

type ReplySender interface {
	Send(ctx context.Context, t dispatch.Target, msg format.Message) dispatch.DeliveryResult
}

// Deps are the services the built-in commands read from. Nil members
// disable the parts of /status that need them.
type Deps struct {
	News      NewsSource
	Replies   ReplySender
	Store     interface{ Len() int }
	Capacity  int
	Scheduler interface{ Snapshot() scheduler.Snapshot }
	Status    interface{ Snapshot() status.Snapshot }
	MaxNews   int
	Welcome   string
}

const defaultWelcome = "👋 Hello! I'm a Daily News Bot.\nUse /news to get the latest headlines."

// Builtin returns /start, /help, /news and /status.
func Builtin(d Deps) []Command {
	if d.MaxNews <= 0 {
		d.MaxNews = pipeline.DefaultMaxPerRun
	}
	if strings.TrimSpace(d.Welcome) == "" {
		d.Welcome = defaultWelcome
	}
	cmds := []Command{
		{
			Name:        "start",
			Description: "welcome message",
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, html.EscapeString(d.Welcome))
			},
		},
		{
			Name:        "news",
			Aliases:     []string{"latest"},
			Description: "latest headlines",
			Timeout:     time.Minute,
			Handle:      newsHandler(d),
		},
		{
			Name:        "status",
			Description: "pipeline status (owners)",
			Access:      AccessOwnerOnly,
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, renderStatus(d, time.Now()))
			},
		},
	}
	help := Command{
		Name:        "help",
		Description: "list commands",
		Handle: func(ctx context.Context, req *Request) error {
			var b strings.Builder
			b.WriteString("<b>Commands</b>")
			for _, c := range cmds {
				fmt.Fprintf(&b, "\n/%s - %s", c.Name, html.EscapeString(c.Description))
			}
			return req.Reply(ctx, b.String())
		},
	}
	return append(cmds, help)
}

func newsHandler(d Deps) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		if d.News == nil || d.Replies == nil {
			return req.Reply(ctx, "news is not available")
		}
		msgs, err := d.News.Latest(ctx, d.MaxNews)
		if err != nil {
			_ = req.Reply(ctx, "news provider unavailable, try again later")
			return err
		}
		if len(msgs) == 0 {
			return req.Reply(ctx, "no news right now")
		}
		to := dispatch.Target{Name: "reply", Chat: req.Chat, Role: dispatch.RoleReply}
		var firstErr error
		for _, m := range msgs {
			if res := d.Replies.Send(ctx, to, m); res.Err != nil && firstErr == nil {
				firstErr = res.Err
			}
		}
		return firstErr
	}
}

func renderStatus(d Deps, now time.Time) string {
	var b strings.Builder
	b.WriteString("<b>newsbot status</b>")

	if d.Status != nil {
		s := d.Status.Snapshot()
		fmt.Fprintf(&b, "\nuptime: %s", now.Sub(s.Since).Round(time.Second))
		fmt.Fprintf(&b, "\nruns: %d (%d with failures), delivered: %d", s.Runs, s.FailedRuns, s.Delivered)
		if r := s.LastRun; r != nil {
			fmt.Fprintf(&b, "\nlast run: %s (%s) fetched %d, fresh %d, delivered %d",
				r.Started.Format("2006-01-02 15:04:05"), r.Took.Round(time.Millisecond), r.Fetched, r.Fresh, r.Delivered)
			if r.FetchErr != nil {
				fmt.Fprintf(&b, "\nlast fetch error: <code>%s</code>", html.EscapeString(r.FetchErr.Error()))
			}
		}
		fmt.Fprintf(&b, "\ndelivery failures: %d", s.DeliveryFailures)
		if f := s.LastFailure; f != nil {
			fmt.Fprintf(&b, " (last: %s, %s)", html.EscapeString(f.Target), html.EscapeString(f.ItemID))
		}
	}

	if d.Store != nil {
		if d.Capacity > 0 {
			fmt.Fprintf(&b, "\nseen: %d/%d", d.Store.Len(), d.Capacity)
		} else {
			fmt.Fprintf(&b, "\nseen: %d", d.Store.Len())
		}
	}

	if d.Scheduler != nil {
		snap := d.Scheduler.Snapshot()
		fmt.Fprintf(&b, "\nskipped triggers: %d", snap.Skipped)
		if snap.Busy {
			b.WriteString("\nrun in progress")
		}
		fmt.Fprintf(&b, "\n<b>next (%s)</b>", html.EscapeString(snap.Timezone))
		for _, r := range snap.Rules {
			next := "-"
			if !r.Next.IsZero() {
				next = r.Next.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(&b, "\n- <code>%s</code> %s", html.EscapeString(r.Rule), next)
		}
	}
	return b.String()
}
