package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ptduy/livecount/internal/core/domain"
)

func TestMirrorGetReturnsCopies(t *testing.T) {
	m := NewMirror()
	m.Upsert(domain.Entity{
		ID: "tee",
		Static: domain.StaticFields{
			DisplayName: "Limited Tee",
			Attributes:  map[string]string{"price": "25"},
		},
		CounterValue: 3,
	})

	got, ok := m.Get("tee")
	require.True(t, ok)
	got.Static.Attributes["price"] = "999"
	got.CounterValue = 99

	again, ok := m.Get("tee")
	require.True(t, ok)
	assert.Equal(t, "25", again.Static.Attributes["price"], "readers must not reach the stored value")
	assert.Equal(t, 3, again.CounterValue)
}

func TestMirrorRemoveAndLen(t *testing.T) {
	m := NewMirror()
	m.Upsert(domain.Entity{ID: "a"})
	m.Upsert(domain.Entity{ID: "b"})
	require.Equal(t, 2, m.Len())

	m.Remove("a")
	assert.Equal(t, 1, m.Len())
	_, ok := m.Get("a")
	assert.False(t, ok)

	all := m.All()
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].ID)
}

func TestMirrorUpsertOverwrites(t *testing.T) {
	m := NewMirror()
	m.Upsert(domain.Entity{ID: "tee", CounterValue: 1})
	m.Upsert(domain.Entity{ID: "tee", CounterValue: 5})

	got, ok := m.Get("tee")
	require.True(t, ok)
	assert.Equal(t, 5, got.CounterValue)
	assert.Equal(t, 1, m.Len())
}
