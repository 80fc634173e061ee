package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(ms int64) Clock { return func() int64 { return ms } }

func TestSetGetRoundTrip(t *testing.T) {
	s := New(fixedClock(1000))
	s.Set([]byte("x"), []byte("100"), 0, false)
	v, ok := s.Get([]byte("x"))
	require.True(t, ok)
	assert.Equal(t, []byte("100"), v)
}

func TestGetMissing(t *testing.T) {
	s := New(fixedClock(0))
	_, ok := s.Get([]byte("nope"))
	assert.False(t, ok)
}

func TestSetWithTTLExpires(t *testing.T) {
	clock := int64(1000)
	s := New(func() int64 { return clock })
	s.Set([]byte("x"), []byte("100"), 50, true)

	v, ok := s.Get([]byte("x"))
	require.True(t, ok)
	assert.Equal(t, []byte("100"), v)

	clock += 60
	_, ok = s.Get([]byte("x"))
	assert.False(t, ok)
}

func TestSetWithoutTTLClearsPriorDeadline(t *testing.T) {
	clock := int64(0)
	s := New(func() int64 { return clock })
	s.Set([]byte("x"), []byte("v1"), 10, true)
	s.Set([]byte("x"), []byte("v2"), 0, false)

	clock += 100
	v, ok := s.Get([]byte("x"))
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), v)
}

func TestIncrNewThenExisting(t *testing.T) {
	s := New(fixedClock(0))
	n, err := s.Incr([]byte("counter"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Incr([]byte("counter"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestIncrNonInteger(t *testing.T) {
	s := New(fixedClock(0))
	s.Set([]byte("counter"), []byte("abc"), 0, false)
	_, err := s.Incr([]byte("counter"))
	assert.ErrorIs(t, err, ErrNotInteger)
}

func TestKeysSkipsExpired(t *testing.T) {
	clock := int64(0)
	s := New(func() int64 { return clock })
	s.Set([]byte("a"), []byte("1"), 0, false)
	s.Set([]byte("b"), []byte("2"), 10, true)
	clock += 20

	keys := s.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, []byte("a"), keys[0])
}

func TestContains(t *testing.T) {
	s := New(fixedClock(0))
	assert.False(t, s.Contains([]byte("x")))
	s.Set([]byte("x"), []byte("v"), 0, false)
	assert.True(t, s.Contains([]byte("x")))
}

func TestLoadSnapshotDropsAlreadyExpiredEntry(t *testing.T) {
	s := New(fixedClock(1000))
	s.LoadSnapshot([]byte("stale"), []byte("v"), 500, true)
	assert.False(t, s.Contains([]byte("stale")))

	s.LoadSnapshot([]byte("fresh"), []byte("v"), 2000, true)
	v, ok := s.Get([]byte("fresh"))
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}
