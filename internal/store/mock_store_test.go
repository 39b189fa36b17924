// ABOUTME: Tests for MockStore to ensure it behaves like the SQLite store
// ABOUTME: Covers window truncation, isolation, timestamp ordering and failure injection

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_ReadWindow(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 12; i++ {
		require.NoError(t, m.AppendTurn(ctx, &Turn{
			ID:        fmt.Sprintf("t%d", i),
			FarmerID:  "farmer-a",
			Speaker:   SpeakerFarmer,
			Text:      fmt.Sprintf("%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, m.AppendTurn(ctx, &Turn{ID: "other", FarmerID: "farmer-b", CreatedAt: base}))

	window, err := m.ReadWindow(ctx, "farmer-a", 10)
	require.NoError(t, err)
	require.Len(t, window, 10)
	assert.Equal(t, "2", window[0].Text)
	assert.Equal(t, "11", window[9].Text)
	for _, turn := range window {
		assert.Equal(t, "farmer-a", turn.FarmerID)
	}
	assert.Equal(t, 1, m.WindowReads())
}

func TestMockStore_AppendTurn_MonotonicTimestamps(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()
	stamp := time.Now()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.AppendTurn(ctx, &Turn{ID: fmt.Sprintf("t%d", i), FarmerID: "f", CreatedAt: stamp}))
	}

	turns := m.AllTurns("f")
	require.Len(t, turns, 3)
	assert.True(t, turns[1].CreatedAt.After(turns[0].CreatedAt))
	assert.True(t, turns[2].CreatedAt.After(turns[1].CreatedAt))
}

func TestMockStore_FailureInjection(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	m.SetFailReads(true)
	_, err := m.ReadWindow(ctx, "f", 10)
	assert.ErrorIs(t, err, ErrInjected)
	assert.ErrorIs(t, m.Ping(ctx), ErrInjected)

	m.SetFailReads(false)
	m.SetFailWrites(true)
	assert.ErrorIs(t, m.AppendTurn(ctx, &Turn{ID: "t", FarmerID: "f"}), ErrInjected)
	_, err = m.UpsertProfile(ctx, "f", ProfileUpdate{})
	assert.ErrorIs(t, err, ErrInjected)
	assert.Empty(t, m.AllTurns("f"))
}

func TestMockStore_UpsertProfile(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	_, err := m.GetProfile(ctx, "f")
	assert.ErrorIs(t, err, ErrNotFound)

	p, err := m.UpsertProfile(ctx, "f", ProfileUpdate{Region: "Kiambu"})
	require.NoError(t, err)
	assert.Equal(t, "Kiambu", p.Region)

	p, err = m.UpsertProfile(ctx, "f", ProfileUpdate{})
	require.NoError(t, err)
	assert.Equal(t, "Kiambu", p.Region, "empty update keeps region")
	assert.False(t, p.LastSeenAt.Before(p.CreatedAt))
}

func TestMockStore_ProfileFactsAndRegionChange(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	_, err := m.UpsertProfile(ctx, "f", ProfileUpdate{
		Region:      "Nyeri",
		Coordinates: &Coordinates{Lat: -0.42, Lon: 36.95},
		Crops:       []string{"coffee"},
	})
	require.NoError(t, err)

	p, err := m.UpsertProfile(ctx, "f", ProfileUpdate{Region: "Kisumu", Crops: []string{"maize", "coffee"}, Name: "Otieno"})
	require.NoError(t, err)
	assert.Equal(t, "Kisumu", p.Region)
	assert.Nil(t, p.Coordinates, "new region drops old coordinates")
	assert.Equal(t, []string{"coffee", "maize"}, p.Crops)
	assert.Equal(t, "Otieno", p.Name)

	// Returned profiles are copies
	p.Crops[0] = "tea"
	again, err := m.GetProfile(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, "coffee", again.Crops[0])
}

func TestMockStore_FindReplyAndSearch(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, m.AppendTurn(ctx, &Turn{ID: "f1", FarmerID: "f", MessageID: "m1", Speaker: SpeakerFarmer, Text: "Rain in Nyeri?", CreatedAt: now}))
	require.NoError(t, m.AppendTurn(ctx, &Turn{ID: "a1", FarmerID: "f", MessageID: "m1", Speaker: SpeakerAssistant, Text: "Light rain", CreatedAt: now}))

	reply, err := m.FindReply(ctx, "f", "m1")
	require.NoError(t, err)
	assert.Equal(t, "a1", reply.ID)

	_, err = m.FindReply(ctx, "f", "m2")
	assert.ErrorIs(t, err, ErrNotFound)

	hits, err := m.SearchTurns(ctx, "nyeri", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.NotNil(t, hits[0].Reply)
	assert.Equal(t, "Light rain", hits[0].Reply.Text)

	m.SetFailReads(true)
	_, err = m.FindReply(ctx, "f", "m1")
	assert.ErrorIs(t, err, ErrInjected)
}
