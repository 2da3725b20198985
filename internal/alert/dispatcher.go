// Package alert fans violation notifications out to the configured
// instructor roster. Delivery is best-effort observability: no outcome here
// ever affects the exam session itself.
package alert

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Channel identifies a delivery channel.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

// Recipient is one roster entry. Only active recipients are notified.
type Recipient struct {
	Name    string
	Address string
	Channel Channel
	Active  bool
}

// Notification is the channel-independent message payload.
type Notification struct {
	Subject             string
	StudentIdentity     string
	ActivityDescription string
	Timestamp           time.Time
}

// Record tracks one delivery attempt. Ephemeral; not persisted.
type Record struct {
	Recipient string  `json:"recipient"`
	Channel   Channel `json:"channel"`
	Delivered bool    `json:"delivered"`
	Error     string  `json:"error,omitempty"`
}

// Result aggregates a fan-out. SuccessCount == 0 is reportable, not fatal.
type Result struct {
	SuccessCount int      `json:"success_count"`
	TotalCount   int      `json:"total_count"`
	Records      []Record `json:"records"`
	// Hint explains a zero-success outcome caused by configuration
	// (e.g. no active recipients) rather than delivery failure.
	Hint string `json:"hint,omitempty"`
}

// ErrConfigRejected marks a delivery failure caused by channel
// configuration (e.g. unverified sender domain) rather than a transient
// fault. Only this class of failure is eligible for the fallback inbox.
var ErrConfigRejected = errors.New("delivery rejected for configuration reason")

// Sender delivers a notification over one channel.
type Sender interface {
	Channel() Channel

	// Send delivers to a single address. A configuration-class rejection
	// is wrapped with ErrConfigRejected.
	Send(ctx context.Context, n Notification, address string) error

	// FallbackAddress returns the channel's single fallback destination,
	// or "" if the channel has none. Tried at most once per dispatch,
	// and only after a config-class rejection.
	FallbackAddress() string
}

// Dispatcher fans one notification out to every active roster entry.
type Dispatcher struct {
	senders map[Channel]Sender
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher over the given channel senders.
func NewDispatcher(senders []Sender, logger *zap.Logger) *Dispatcher {
	m := make(map[Channel]Sender, len(senders))
	for _, s := range senders {
		m[s.Channel()] = s
	}
	return &Dispatcher{senders: m, logger: logger}
}

// Dispatch attempts delivery to every active recipient concurrently. One
// recipient's failure never aborts the others; attempts are independent and
// order-insensitive.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification, roster []Recipient) Result {
	var active []Recipient
	for _, r := range roster {
		if r.Active {
			active = append(active, r)
		}
	}

	if len(active) == 0 {
		return Result{Hint: "no active alert recipients configured"}
	}

	records := make([]Record, len(active))
	var wg sync.WaitGroup
	for i, rec := range active {
		wg.Add(1)
		go func(i int, rec Recipient) {
			defer wg.Done()
			records[i] = d.deliver(ctx, n, rec)
		}(i, rec)
	}
	wg.Wait()

	res := Result{TotalCount: len(active), Records: records}
	for _, r := range records {
		if r.Delivered {
			res.SuccessCount++
		}
	}
	if res.SuccessCount == 0 {
		res.Hint = "all delivery attempts failed"
	}

	d.logger.Info("alert dispatched",
		zap.String("student", n.StudentIdentity),
		zap.Int("delivered", res.SuccessCount),
		zap.Int("total", res.TotalCount),
	)
	return res
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification, rec Recipient) Record {
	record := Record{Recipient: rec.Address, Channel: rec.Channel}

	sender, ok := d.senders[rec.Channel]
	if !ok {
		record.Error = "no sender configured for channel " + string(rec.Channel)
		return record
	}

	err := sender.Send(ctx, n, rec.Address)
	if err == nil {
		record.Delivered = true
		return record
	}

	// One fallback attempt, config rejections only. Transient errors are
	// never retried anywhere.
	if fb := sender.FallbackAddress(); fb != "" && errors.Is(err, ErrConfigRejected) {
		if fbErr := sender.Send(ctx, n, fb); fbErr == nil {
			record.Delivered = true
			d.logger.Warn("primary recipient rejected, delivered to fallback",
				zap.String("recipient", rec.Address),
				zap.String("fallback", fb),
			)
			return record
		}
	}

	record.Error = err.Error()
	d.logger.Warn("alert delivery failed",
		zap.String("recipient", rec.Address),
		zap.String("channel", string(rec.Channel)),
		zap.Error(err),
	)
	return record
}
