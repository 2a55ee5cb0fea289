package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectHandsEventToHandler(t *testing.T) {
	got := make(chan Event, 1)
	d := Direct{Handler: HandlerFunc(func(_ context.Context, ev Event) error {
		got <- ev
		return nil
	})}

	require.NoError(t, d.Publish(context.Background(), Event{Kind: ClickTracked, UserID: "u1"}))
	select {
	case ev := <-got:
		assert.Equal(t, ClickTracked, ev.Kind)
		assert.Equal(t, "u1", ev.UserID)
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
}

func TestDirectReportsHandlerErrors(t *testing.T) {
	failed := make(chan error, 1)
	d := Direct{
		Handler: HandlerFunc(func(context.Context, Event) error { return errors.New("smtp down") }),
		OnError: func(_ Event, err error) { failed <- err },
	}

	require.NoError(t, d.Publish(context.Background(), Event{Kind: PayoutStatusChange, UserID: "u1"}))
	select {
	case err := <-failed:
		assert.EqualError(t, err, "smtp down")
	case <-time.After(time.Second):
		t.Fatal("OnError not called")
	}
}

func TestRecorderKeepsOrder(t *testing.T) {
	var r Recorder
	ctx := context.Background()
	require.NoError(t, r.Publish(ctx, Event{Kind: ReferralSignup}))
	require.NoError(t, r.Publish(ctx, Event{Kind: ReferralConverted}))

	assert.Equal(t, []Kind{ReferralSignup, ReferralConverted}, r.Kinds())
	assert.Len(t, r.Events(), 2)
	assert.NoError(t, Nop{}.Publish(ctx, Event{}))
}
