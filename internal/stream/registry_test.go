package stream_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"counsel/internal/stream"
)

func TestRegistrySingleConsumer(t *testing.T) {
	reg := stream.NewRegistry(4)
	pub, err := reg.Open("s1")
	require.NoError(t, err)
	_, err = reg.Open("s1")
	assert.ErrorIs(t, err, stream.ErrExists)

	events, detach, err := reg.Attach("s1")
	require.NoError(t, err)
	assert.True(t, reg.Attached("s1"))

	_, _, err = reg.Attach("s1")
	assert.ErrorIs(t, err, stream.ErrAttached)

	ctx := context.Background()
	require.NoError(t, pub.Progress(ctx, stream.ProgressPayload{Percent: 5}))
	require.NoError(t, pub.Progress(ctx, stream.ProgressPayload{Percent: 30}))
	first := <-events
	assert.Equal(t, uint64(1), first.Sequence)

	detach()
	detach()
	assert.False(t, reg.Attached("s1"))

	// reconnect continues with the next unread event
	events, detach, err = reg.Attach("s1")
	require.NoError(t, err)
	defer detach()
	require.NoError(t, pub.Complete(ctx, nil))
	rest := drain(events)
	require.Len(t, rest, 2)
	assert.Equal(t, uint64(2), rest[0].Sequence)
	assert.Equal(t, stream.KindComplete, rest[1].Kind)
}

func TestRegistryGoneAfterDrain(t *testing.T) {
	reg := stream.NewRegistry(4)
	pub, err := reg.Open("s1")
	require.NoError(t, err)
	require.NoError(t, pub.Complete(context.Background(), nil))

	events, detach, err := reg.Attach("s1")
	require.NoError(t, err)
	assert.Len(t, drain(events), 1)
	detach()

	_, _, err = reg.Attach("s1")
	assert.ErrorIs(t, err, stream.ErrGone)
}

func TestRegistryRemoveCancels(t *testing.T) {
	reg := stream.NewRegistry(4)
	pub, err := reg.Open("s1")
	require.NoError(t, err)

	_, ok := reg.Get("s1")
	assert.True(t, ok)
	assert.Equal(t, 1, reg.Len())

	reg.Remove("s1")
	assert.True(t, pub.Cancelled())
	_, ok = reg.Get("s1")
	assert.False(t, ok)
	_, _, err = reg.Attach("s1")
	assert.ErrorIs(t, err, stream.ErrNotFound)
	reg.Remove("s1")
}
