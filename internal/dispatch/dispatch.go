// Package dispatch delivers formatted messages to the configured chats.
//
// Every (target, message) pair is attempted independently: a failure is
// logged, published on the event bus and returned in a DeliveryResult, but
// it never prevents delivery to the remaining targets. Sends share one
// token-bucket limiter and each call is bounded by a timeout.
package dispatch

import (
	"context"
	"errors"
	"math/rand/v2"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"newsbot/internal/eventbus"
	"newsbot/internal/failure"
	"newsbot/internal/format"
	"newsbot/internal/transport"
	"newsbot/pkg/logx"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultRatePerSec = 1.0
	DefaultBurst      = 3
)

var (
	ErrNoSender = errors.New("dispatch: no sender")
	errPanic    = errors.New("panic in sender")
)

type Role string

const (
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
	// RoleReply marks an ad-hoc target such as the chat a command came from.
	RoleReply Role = "reply"
)

type Target struct {
	Name string
	Chat transport.ChatTarget
	Role Role
}

func (t Target) String() string {
	if t.Name != "" {
		return t.Name
	}
	s := strconv.FormatInt(t.Chat.ChatID, 10)
	if t.Chat.ThreadID != 0 {
		s += "/" + strconv.Itoa(t.Chat.ThreadID)
	}
	return s
}

type DeliveryResult struct {
	Target Target
	ItemID string
	Ref    transport.MessageRef
	Photo  bool
	Err    error
	Took   time.Duration
}

func (r DeliveryResult) OK() bool { return r.Err == nil }

// FailedEvent is the payload of eventbus.TypeDeliveryFailed.
type FailedEvent struct {
	Target string
	Role   Role
	ItemID string
	Error  string
	At     time.Time
}

type Config struct {
	Targets        []Target
	DisablePreview bool
	// Photos sends items with an image as a photo with caption. A failed
	// photo send falls back to plain text.
	Photos     bool
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
	RetryMax   int
	RetryBase  time.Duration
}

type Dispatcher struct {
	log     logx.Logger
	sender  transport.Sender
	bus     eventbus.Bus
	cfg     Config
	targets []Target
	limiter *rate.Limiter

	mu        sync.Mutex
	delivered uint64
	failed    uint64
}

func New(cfg Config, sender transport.Sender, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = DefaultRatePerSec
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	return &Dispatcher{
		log:     log.With(logx.String("comp", "dispatch")),
		sender:  sender,
		bus:     bus,
		cfg:     cfg,
		targets: orderTargets(cfg.Targets),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
	}
}

// orderTargets puts primary targets first, keeping config order within a role.
func orderTargets(in []Target) []Target {
	out := append([]Target(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Role == RolePrimary && out[j].Role != RolePrimary
	})
	return out
}

// Targets returns the delivery order.
func (d *Dispatcher) Targets() []Target { return append([]Target(nil), d.targets...) }

// Stats returns the number of successful and failed sends so far.
func (d *Dispatcher) Stats() (delivered, failed uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delivered, d.failed
}

// SendAll delivers msg to every configured target in order.
func (d *Dispatcher) SendAll(ctx context.Context, msg format.Message) []DeliveryResult {
	out := make([]DeliveryResult, 0, len(d.targets))
	for _, t := range d.targets {
		out = append(out, d.Send(ctx, t, msg))
	}
	return out
}

// Send delivers msg to one target. It never panics; any error is carried in
// the result as a *failure.Error of kind delivery.
func (d *Dispatcher) Send(ctx context.Context, t Target, msg format.Message) (res DeliveryResult) {
	start := time.Now()
	res = DeliveryResult{Target: t, ItemID: msg.ItemID}
	defer func() {
		if r := recover(); r != nil {
			res.Err = failure.Delivery("dispatch.send", errPanic)
			d.log.Error("send panic", logx.String("target", t.String()), logx.Any("panic", r))
		}
		res.Took = time.Since(start)
		d.finish(res)
	}()

	if d.sender == nil {
		res.Err = failure.Delivery("dispatch.send", ErrNoSender)
		return res
	}

	var lastErr error
	attempts := 1 + d.cfg.RetryMax
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}
		ref, photo, err := d.sendOnce(ctx, t, msg)
		if err == nil {
			res.Ref, res.Photo = ref, photo
			return res
		}
		lastErr = err
		d.log.Debug("send attempt failed", logx.String("target", t.String()), logx.Int("attempt", attempt), logx.Err(err))
		if attempt < attempts && !sleepCtx(ctx, retryDelay(d.cfg.RetryBase, attempt)) {
			break
		}
	}
	res.Err = failure.Delivery("dispatch.send", lastErr)
	return res
}

func (d *Dispatcher) sendOnce(ctx context.Context, t Target, msg format.Message) (transport.MessageRef, bool, error) {
	opt := &transport.SendOptions{ParseMode: msg.ParseMode, DisablePreview: d.cfg.DisablePreview}

	if ps, ok := d.sender.(transport.PhotoSender); ok && d.cfg.Photos && msg.PhotoURL != "" {
		ref, err := d.bounded(ctx, t, func(c context.Context) (transport.MessageRef, error) {
			return ps.SendPhoto(c, t.Chat, msg.PhotoURL, msg.Caption, opt)
		})
		if err == nil {
			return ref, true, nil
		}
		d.log.Warn("photo send failed, falling back to text", logx.String("target", t.String()), logx.String("item", msg.ItemID), logx.Err(err))
	}

	ref, err := d.bounded(ctx, t, func(c context.Context) (transport.MessageRef, error) {
		return d.sender.SendText(c, t.Chat, msg.Text, opt)
	})
	return ref, false, err
}

// bounded runs one transport call under the per-call timeout. A sender that
// ignores its context is abandoned when the timeout fires and its late
// result is dropped.
func (d *Dispatcher) bounded(ctx context.Context, t Target, call func(context.Context) (transport.MessageRef, error)) (transport.MessageRef, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	type result struct {
		ref transport.MessageRef
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("send panic", logx.String("target", t.String()), logx.Any("panic", r))
				done <- result{err: errPanic}
			}
		}()
		ref, err := call(callCtx)
		done <- result{ref: ref, err: err}
	}()

	select {
	case r := <-done:
		return r.ref, r.err
	case <-callCtx.Done():
		return transport.MessageRef{}, callCtx.Err()
	}
}

// finish logs res. Command replies (RoleReply) are kept out of the counters
// and the event bus, which describe pipeline deliveries.
func (d *Dispatcher) finish(res DeliveryResult) {
	if res.Target.Role == RoleReply {
		if !res.OK() {
			d.log.Warn("reply failed", logx.String("target", res.Target.String()), logx.String("item", res.ItemID), logx.Err(res.Err))
		}
		return
	}
	d.mu.Lock()
	if res.OK() {
		d.delivered++
	} else {
		d.failed++
	}
	d.mu.Unlock()

	if res.OK() {
		d.log.Debug("delivered", logx.String("target", res.Target.String()), logx.String("item", res.ItemID), logx.Bool("photo", res.Photo), logx.Duration("took", res.Took))
		return
	}
	d.log.Warn("delivery failed", logx.String("target", res.Target.String()), logx.String("role", string(res.Target.Role)), logx.String("item", res.ItemID), logx.Err(res.Err))
	if d.bus != nil {
		now := time.Now()
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeDeliveryFailed, Time: now, Data: FailedEvent{
			Target: res.Target.String(),
			Role:   res.Target.Role,
			ItemID: res.ItemID,
			Error:  res.Err.Error(),
			At:     now,
		}})
	}
}

func retryDelay(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	if ceiling := 10 * time.Second; d > ceiling || d <= 0 {
		d = ceiling
	}
	// +/-10% jitter
	j := time.Duration(rand.Int64N(int64(d)/5 + 1))
	return d - d/10 + j
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
