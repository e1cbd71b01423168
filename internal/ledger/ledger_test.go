package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/quakerisk/internal/apperr"
	"github.com/gyaneshwarpardhi/quakerisk/internal/event"
)

func sampleEvent(id string) event.Event {
	return event.Event{
		ID: id, Place: "Tokyo Bay", Magnitude: 7.2, Depth: 35,
		Latitude: 35.5, Longitude: 139.8,
		Time:   time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
		Source: "usgs",
	}
}

func TestDigest(t *testing.T) {
	a, err := Digest(sampleEvent("evt-1"))
	require.NoError(t, err)
	assert.Regexp(t, `^0x[0-9a-f]{64}$`, a)

	verified := sampleEvent("evt-1")
	verified.Verified = true
	b, err := Digest(verified)
	require.NoError(t, err)
	assert.Equal(t, a, b, "verification flag is not part of the anchor")

	c, err := Digest(sampleEvent("evt-2"))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestMemory_PublishVerify(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	r1, err := m.Publish(ctx, sampleEvent("evt-1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r1.Block)

	again, err := m.Publish(ctx, sampleEvent("evt-1"))
	require.NoError(t, err)
	assert.Equal(t, r1, again)
	assert.Equal(t, uint64(1), m.Height())

	r2, err := m.Publish(ctx, sampleEvent("evt-2"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r2.Block)

	ok, err := m.Verify(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, found := m.Receipt("evt-2")
	assert.True(t, found)
	assert.Equal(t, r2.TxHash, got.TxHash)
}

func TestMemory_Errors(t *testing.T) {
	m := NewMemory()
	_, err := m.Verify(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = m.Publish(context.Background(), event.Event{})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Publish(ctx, sampleEvent("evt-1"))
	assert.ErrorIs(t, err, context.Canceled)
}
