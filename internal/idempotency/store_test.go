package idempotency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRememberFirstAckWins(t *testing.T) {
	s, err := OpenInMemory(time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	stored, err := s.Remember("batch-1", []byte("ack-a"))
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = s.Remember("batch-1", []byte("ack-b"))
	require.NoError(t, err)
	assert.False(t, stored)

	ack, ok, err := s.Lookup("batch-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ack-a", string(ack))
}

func TestLookupMissing(t *testing.T) {
	s, err := OpenInMemory(0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, ok, err := s.Lookup("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestForget(t *testing.T) {
	s, err := OpenInMemory(time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.Remember("batch-1", []byte("ack"))
	require.NoError(t, err)
	require.NoError(t, s.Forget("batch-1"))

	_, ok, err := s.Lookup("batch-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenOnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, time.Hour)
	require.NoError(t, err)

	_, err = s.Remember("k", []byte("v"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(dir, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, ok, err := s.Lookup("k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaim(t *testing.T) {
	s, err := OpenInMemory(time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ack, claimed, err := s.Claim("batch-1")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Nil(t, ack)

	ack, claimed, err = s.Claim("batch-1")
	require.NoError(t, err)
	assert.False(t, claimed, "a pending key must not be claimed twice")
	assert.Nil(t, ack)

	_, ok, err := s.Lookup("batch-1")
	require.NoError(t, err)
	assert.False(t, ok, "a pending claim is not an ack")

	stored, err := s.Remember("batch-1", []byte("ack-a"))
	require.NoError(t, err)
	assert.True(t, stored)

	ack, claimed, err = s.Claim("batch-1")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "ack-a", string(ack))
}

func TestForgetReleasesClaim(t *testing.T) {
	s, err := OpenInMemory(time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, claimed, err := s.Claim("batch-1")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, s.Forget("batch-1"))

	_, claimed, err = s.Claim("batch-1")
	require.NoError(t, err)
	assert.True(t, claimed)
}
