package filter

import (
	"strconv"
	"testing"

	"github.com/migadu/filter-contentstrings/consts"
	"github.com/migadu/filter-contentstrings/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_Lifecycle(t *testing.T) {
	s := NewSessionStore(Limits{})

	_, ok := s.Get("a")
	assert.False(t, ok, "no buffer before tx-begin")

	require.NoError(t, s.Append("a", []byte("dropped\n")), "append without buffer is a no-op")
	_, ok = s.Get("a")
	assert.False(t, ok)

	require.NoError(t, s.Reset("a"))
	require.NoError(t, s.Append("a", []byte("Subject: one\n")))
	require.NoError(t, s.Append("a", []byte("\n")))

	data, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "Subject: one\n\n", string(data))

	data, ok = s.Get("a")
	require.True(t, ok, "reading does not consume the buffer")
	assert.Equal(t, "Subject: one\n\n", string(data))

	s.Remove("a")
	_, ok = s.Get("a")
	assert.False(t, ok)
	assert.Zero(t, s.Len())
	assert.Zero(t, s.BufferedBytes())

	s.Remove("a") // removing twice is harmless
}

func TestSessionStore_ResetDiscardsPreviousContent(t *testing.T) {
	s := NewSessionStore(Limits{})

	require.NoError(t, s.Reset("a"))
	require.NoError(t, s.Append("a", []byte("old\n")))
	require.NoError(t, s.Reset("a"))

	data, ok := s.Get("a")
	require.True(t, ok)
	assert.Empty(t, data)
	assert.Equal(t, 1, s.Len())
	assert.Zero(t, s.BufferedBytes())
}

func TestSessionStore_IdsAreByteExact(t *testing.T) {
	s := NewSessionStore(Limits{})
	require.NoError(t, s.Reset("abc"))

	_, ok := s.Get("ABC")
	assert.False(t, ok)
	_, ok = s.Get("abc ")
	assert.False(t, ok)
}

func TestSessionStore_UnlimitedByDefault(t *testing.T) {
	s := NewSessionStore(Limits{})
	for i := 0; i < 1000; i++ {
		require.NoError(t, s.Reset(strconv.Itoa(i)))
	}
	require.NoError(t, s.Reset("big"))
	chunk := make([]byte, 64*1024)
	for i := 0; i < 64; i++ {
		require.NoError(t, s.Append("big", chunk))
	}
	data, _ := s.Get("big")
	assert.Len(t, data, 64*64*1024)
	assert.False(t, s.Truncated("big"))
}

func TestSessionStore_MaxSessions(t *testing.T) {
	s := NewSessionStore(Limits{MaxSessions: 2})
	before := testutil.ToFloat64(metrics.SessionLimitEventsTotal.WithLabelValues("sessions"))

	require.NoError(t, s.Reset("a"))
	require.NoError(t, s.Reset("b"))
	assert.ErrorIs(t, s.Reset("c"), consts.ErrTooManySessions)
	require.NoError(t, s.Reset("a"), "an open session can always be reset")

	_, ok := s.Get("c")
	assert.False(t, ok)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SessionLimitEventsTotal.WithLabelValues("sessions")))

	s.Remove("b")
	require.NoError(t, s.Reset("c"), "room frees up after a disconnect")
}

func TestSessionStore_MaxMessageSize(t *testing.T) {
	s := NewSessionStore(Limits{MaxMessageSize: 20})
	require.NoError(t, s.Reset("a"))

	require.NoError(t, s.Append("a", []byte("Subject: spam\n"))) // 14 bytes
	assert.ErrorIs(t, s.Append("a", []byte("0123456789\n")), consts.ErrMessageTooLarge)
	assert.NoError(t, s.Append("a", []byte("x\n")), "only the first dropped line reports the limit")

	data, _ := s.Get("a")
	assert.Equal(t, "Subject: spam\n", string(data), "lines are dropped whole, later lines too")
	assert.True(t, s.Truncated("a"))

	require.NoError(t, s.Reset("a"))
	assert.False(t, s.Truncated("a"), "a new transaction starts untruncated")
}
