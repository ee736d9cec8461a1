package stream_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"counsel/internal/stream"
)

func drain(ch <-chan stream.Event) []stream.Event {
	var out []stream.Event
	for event := range ch {
		out = append(out, event)
	}
	return out
}

func countTerminal(events []stream.Event) int {
	n := 0
	for _, event := range events {
		if event.Kind.Terminal() {
			n++
		}
	}
	return n
}

func TestPublisherSequencesAndClosesAfterTerminal(t *testing.T) {
	ctx := context.Background()
	pub := stream.NewPublisher("s1", 8)

	require.NoError(t, pub.Progress(ctx, stream.ProgressPayload{State: "received", Percent: 5}))
	require.NoError(t, pub.Partial(ctx, stream.PartialPayload{Field: "risk_level", Value: "High"}))
	require.NoError(t, pub.Progress(ctx, stream.ProgressPayload{State: "deserializing", Percent: 95}))
	require.NoError(t, pub.Complete(ctx, map[string]string{"brief": "done"}))

	assert.True(t, pub.Terminated())
	assert.ErrorIs(t, pub.Fail(ctx, stream.ErrorPayload{Reason: "Internal"}), stream.ErrTerminated)
	assert.ErrorIs(t, pub.Progress(ctx, stream.ProgressPayload{}), stream.ErrTerminated)

	events := drain(pub.Events())
	require.Len(t, events, 4)
	for i, event := range events {
		assert.Equal(t, uint64(i+1), event.Sequence)
		assert.Equal(t, "s1", event.SessionID)
	}
	assert.Equal(t, stream.KindPartial, events[1].Kind)
	assert.Equal(t, stream.KindComplete, events[3].Kind)
	assert.Equal(t, uint64(4), pub.Sequence())

	pub.Cancel()
	pub.Cancel()
}

func TestPartialNeverBlocksWithoutConsumer(t *testing.T) {
	ctx := context.Background()
	pub := stream.NewPublisher("s1", 8)

	var dropped int
	for i := 0; i < 40; i++ {
		err := pub.Partial(ctx, stream.PartialPayload{Field: "risk_level", Value: "High"})
		if err != nil {
			require.ErrorIs(t, err, stream.ErrBufferFull)
			dropped++
		}
	}
	assert.Equal(t, 36, dropped)

	done := make(chan error, 1)
	go func() {
		if err := pub.Progress(ctx, stream.ProgressPayload{State: "chat_ready", Percent: 100}); err != nil {
			done <- err
			return
		}
		done <- pub.Complete(ctx, map[string]string{"brief": "done"})
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("terminal event blocked behind partial events")
	}

	events := drain(pub.Events())
	require.Len(t, events, 6)
	for i, event := range events {
		assert.Equal(t, uint64(i+1), event.Sequence)
	}
	assert.Equal(t, stream.KindComplete, events[5].Kind)
}

func TestPublisherCancelStopsEvents(t *testing.T) {
	ctx := context.Background()
	pub := stream.NewPublisher("s1", 4)
	require.NoError(t, pub.Progress(ctx, stream.ProgressPayload{State: "received"}))

	pub.Cancel()
	assert.True(t, pub.Cancelled())
	assert.ErrorIs(t, pub.Progress(ctx, stream.ProgressPayload{}), stream.ErrCancelled)
	assert.ErrorIs(t, pub.Complete(ctx, nil), stream.ErrCancelled)
	assert.False(t, pub.Terminated())

	events := drain(pub.Events())
	require.Len(t, events, 1)
	assert.Zero(t, countTerminal(events))
}

func TestPublisherCancelUnblocksFullBuffer(t *testing.T) {
	ctx := context.Background()
	pub := stream.NewPublisher("s1", 1)
	require.NoError(t, pub.Progress(ctx, stream.ProgressPayload{}))

	errs := make(chan error, 1)
	go func() { errs <- pub.Progress(ctx, stream.ProgressPayload{}) }()

	time.Sleep(10 * time.Millisecond)
	pub.Cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, stream.ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("blocked send did not observe cancel")
	}
}

func TestPublisherSendHonoursContext(t *testing.T) {
	pub := stream.NewPublisher("s1", 1)
	require.NoError(t, pub.Progress(context.Background(), stream.ProgressPayload{}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pub.Progress(ctx, stream.ProgressPayload{}), context.DeadlineExceeded)
	assert.Equal(t, uint64(1), pub.Sequence(), "failed sends do not consume a sequence number")
}

func TestExactlyOnceTerminalUnderCancelRaces(t *testing.T) {
	for i := range 200 {
		pub := stream.NewPublisher("race", 2)
		ctx := context.Background()

		var g errgroup.Group
		received := make(chan []stream.Event, 1)
		go func() { received <- drain(pub.Events()) }()

		g.Go(func() error {
			_ = pub.Progress(ctx, stream.ProgressPayload{Percent: 5})
			_ = pub.Progress(ctx, stream.ProgressPayload{Percent: 40})
			if i%2 == 0 {
				_ = pub.Complete(ctx, "ok")
			} else {
				_ = pub.Fail(ctx, stream.ErrorPayload{Reason: "InferenceTimeout"})
			}
			_ = pub.Fail(ctx, stream.ErrorPayload{Reason: "Internal"})
			return nil
		})
		g.Go(func() error {
			if i%3 != 0 {
				pub.Cancel()
			}
			return nil
		})
		require.NoError(t, g.Wait())
		pub.Cancel()

		events := <-received
		terminal := countTerminal(events)
		require.LessOrEqual(t, terminal, 1, "iteration %d", i)
		for j, event := range events {
			require.Equal(t, uint64(j+1), event.Sequence)
		}
		if terminal == 1 {
			assert.True(t, events[len(events)-1].Kind.Terminal(), "terminal event is last")
		}
	}
}
