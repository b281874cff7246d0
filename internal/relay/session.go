package relay

import (
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/ride-relay/internal/models"
)

// frameWriter is the write half of a websocket connection.
type frameWriter interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
}

// Session is the relay's view of one client connection. Reads happen on a
// single goroutine; writes are serialized by mu.
type Session struct {
	ID     string
	Remote string

	w            frameWriter
	closer       io.Closer
	writeTimeout time.Duration
	mu           sync.Mutex

	// owned by the read goroutine
	role     string
	driverID string
	lastPos  models.DriverPosition

	log zerolog.Logger
}

func newSession(id, remote string, w frameWriter, writeTimeout time.Duration, log zerolog.Logger) *Session {
	return &Session{
		ID:           id,
		Remote:       remote,
		w:            w,
		writeTimeout: writeTimeout,
		log:          log.With().Str("conn_id", id).Str("remote_addr", remote).Logger(),
	}
}

// Send writes one JSON frame.
func (s *Session) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeTimeout > 0 {
		if err := s.w.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	return s.w.WriteJSON(v)
}

// Role is the role declared by the most recent role-carrying message.
func (s *Session) Role() string { return s.role }

// DriverID is the driver bound by the first accepted location update.
func (s *Session) DriverID() string { return s.driverID }

func (s *Session) declare(role string) {
	if role != "" && role != s.role {
		s.role = role
		s.log = s.log.With().Str("role", role).Logger()
	}
}

func (s *Session) recordPosition(p models.DriverPosition) {
	if s.driverID == "" {
		s.driverID = p.DriverID
		s.log = s.log.With().Str("driver_id", p.DriverID).Logger()
	}
	if p.DriverID == s.driverID {
		s.lastPos = p
	}
}
