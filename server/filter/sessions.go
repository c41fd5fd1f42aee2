package filter

import (
	"github.com/migadu/filter-contentstrings/consts"
	"github.com/migadu/filter-contentstrings/pkg/metrics"
)

// Limits caps the memory held by a SessionStore. Zero means unlimited.
type Limits struct {
	MaxMessageSize int64
	MaxSessions    int
}

type sessionBuffer struct {
	data      []byte
	truncated bool
}

// SessionStore maps session ids to the message bytes accumulated for their
// current transaction. It is owned by a single Dispatcher and is not safe for
// concurrent use.
type SessionStore struct {
	buffers map[string]*sessionBuffer
	limits  Limits
	total   int64
}

func NewSessionStore(limits Limits) *SessionStore {
	return &SessionStore{
		buffers: make(map[string]*sessionBuffer),
		limits:  limits,
	}
}

// Reset starts an empty buffer for id, discarding any previous one. When the
// store is full a new id is refused with ErrTooManySessions; an id that is
// already open can always be reset.
func (s *SessionStore) Reset(id string) error {
	if old, ok := s.buffers[id]; ok {
		s.release(int64(len(old.data)))
		s.buffers[id] = &sessionBuffer{}
		return nil
	}

	if s.limits.MaxSessions > 0 && len(s.buffers) >= s.limits.MaxSessions {
		metrics.SessionLimitEventsTotal.WithLabelValues("sessions").Inc()
		return consts.ErrTooManySessions
	}

	s.buffers[id] = &sessionBuffer{}
	metrics.SessionsOpen.Inc()
	return nil
}

// Append adds data to the buffer of id. It is a no-op when id has no buffer.
// Once a line would push the buffer past MaxMessageSize, that line and all
// later ones for the transaction are dropped; ErrMessageTooLarge is returned
// only for the first dropped line.
func (s *SessionStore) Append(id string, data []byte) error {
	buf, ok := s.buffers[id]
	if !ok {
		return nil
	}
	if buf.truncated {
		return nil
	}

	if s.limits.MaxMessageSize > 0 && int64(len(buf.data)+len(data)) > s.limits.MaxMessageSize {
		buf.truncated = true
		metrics.SessionLimitEventsTotal.WithLabelValues("message_size").Inc()
		return consts.ErrMessageTooLarge
	}

	buf.data = append(buf.data, data...)
	s.total += int64(len(data))
	metrics.BufferedBytes.Add(float64(len(data)))
	return nil
}

// Remove drops the buffer of id, if any.
func (s *SessionStore) Remove(id string) {
	buf, ok := s.buffers[id]
	if !ok {
		return
	}
	delete(s.buffers, id)
	s.release(int64(len(buf.data)))
	metrics.SessionsOpen.Dec()
}

// Get returns the bytes accumulated for id. The slice is only valid until the
// next mutation of id.
func (s *SessionStore) Get(id string) ([]byte, bool) {
	buf, ok := s.buffers[id]
	if !ok {
		return nil, false
	}
	return buf.data, true
}

// Truncated reports whether the buffer of id hit MaxMessageSize.
func (s *SessionStore) Truncated(id string) bool {
	buf, ok := s.buffers[id]
	return ok && buf.truncated
}

// Len returns the number of open buffers.
func (s *SessionStore) Len() int {
	return len(s.buffers)
}

// BufferedBytes returns the number of bytes held across all buffers.
func (s *SessionStore) BufferedBytes() int64 {
	return s.total
}

func (s *SessionStore) release(n int64) {
	s.total -= n
	metrics.BufferedBytes.Sub(float64(n))
}
