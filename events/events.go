// Package events describes affiliate programme events and how they leave
// the service that produced them.
package events

import (
	"context"
	"sync"
	"time"

	"genify/models"
)

type Kind string

const (
	ClickTracked       Kind = "affiliate.click"
	ReferralSignup     Kind = "affiliate.signup"
	ReferralConverted  Kind = "affiliate.conversion"
	PayoutRequested    Kind = "payout.requested"
	PayoutStatusChange Kind = "payout.status"
)

// Event is published after the change it describes has been committed.
// UserID is always the affiliate the event belongs to.
type Event struct {
	Kind     Kind                `json:"kind"`
	UserID   string              `json:"userId"`
	Amount   models.Money        `json:"amount,omitempty"`
	PayoutID string              `json:"payoutId,omitempty"`
	Status   models.PayoutStatus `json:"status,omitempty"`
	Notes    string              `json:"notes,omitempty"`
	At       time.Time           `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Handler consumes published events.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Direct hands events straight to a handler on its own goroutine. It is
// used when no broker is configured.
type Direct struct {
	Handler Handler
	Timeout time.Duration
	OnError func(ev Event, err error)
}

func (d Direct) Publish(_ context.Context, ev Event) error {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := d.Handler.Handle(ctx, ev); err != nil && d.OnError != nil {
			d.OnError(ev, err)
		}
	}()
	return nil
}

// Recorder keeps published events in memory. Tests use it.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds lists the kinds recorded so far, in order.
func (r *Recorder) Kinds() []Kind {
	evs := r.Events()
	out := make([]Kind, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Kind)
	}
	return out
}
