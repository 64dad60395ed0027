package events

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"discussion-agent/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func drain(s *ChannelSink) []domain.StreamEvent {
	var out []domain.StreamEvent
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPublish_WithoutSinksIsNoop(t *testing.T) {
	r := NewRegistry(quietLogger())
	require.NotPanics(t, func() {
		r.Publish("d1", domain.TokenEvent("p1", "m1", "hi"))
	})

	// late subscribers never see earlier events
	sink := NewChannelSink(4)
	r.Attach("d1", sink)
	require.Empty(t, drain(sink))
}

func TestPublish_BroadcastsToEverySink(t *testing.T) {
	r := NewRegistry(quietLogger())
	a := NewChannelSink(4)
	b := NewChannelSink(4)
	other := NewChannelSink(4)
	r.Attach("d1", a)
	r.Attach("d1", b)
	r.Attach("d2", other)

	r.Publish("d1", domain.TokenEvent("p1", "m1", "Hello"))
	r.Publish("d1", domain.CompleteEvent("p1", "m1"))

	for _, s := range []*ChannelSink{a, b} {
		got := drain(s)
		require.Len(t, got, 2)
		require.Equal(t, domain.EventToken, got[0].Type)
		require.Equal(t, "Hello", got[0].Token)
		require.Equal(t, domain.EventComplete, got[1].Type)
	}
	require.Empty(t, drain(other))
}

func TestDetach_StopsDelivery(t *testing.T) {
	r := NewRegistry(quietLogger())
	a := NewChannelSink(4)
	r.Attach("d1", a)
	require.Equal(t, 1, r.Subscribers("d1"))

	require.True(t, r.Detach("d1", a))
	require.False(t, r.Detach("d1", a))
	require.Equal(t, 0, r.Subscribers("d1"))

	r.Publish("d1", domain.TokenEvent("p1", "m1", "x"))
	require.Empty(t, drain(a))
}

func TestPublish_DropsFullSink(t *testing.T) {
	r := NewRegistry(quietLogger())
	slow := NewChannelSink(1)
	fast := NewChannelSink(8)
	r.Attach("d1", slow)
	r.Attach("d1", fast)

	r.Publish("d1", domain.TokenEvent("p1", "m1", "a"))
	r.Publish("d1", domain.TokenEvent("p1", "m1", "b"))

	require.Equal(t, 1, r.Subscribers("d1"))
	require.Len(t, drain(fast), 2)

	got := []domain.StreamEvent{}
	for ev := range slow.Events() {
		got = append(got, ev)
	}
	require.Len(t, got, 1, "slow sink keeps what it buffered and is then closed")
}

func TestChannelSink_DeliverAfterClose(t *testing.T) {
	s := NewChannelSink(1)
	s.Close()
	s.Close()
	require.ErrorIs(t, s.Deliver(domain.CompleteEvent("p1", "m1")), ErrSinkClosed)
}
