package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

// EventStream destination of the server-sent-event frames
type EventStream interface {
	io.Writer
	http.Flusher
}

// SessionState streaming session lifecycle state
type SessionState int

// Session states
const (
	SessionConnecting SessionState = iota
	SessionActive
	SessionDraining
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionActive:
		return "active"
	case SessionDraining:
		return "draining"
	case SessionClosed:
		return "closed"
	}
	return "unknown"
}

// SessionManager opens streaming sessions against a registry
type SessionManager struct {
	goutils.Component
	registry  *Registry
	heartbeat time.Duration
}

// GetSessionManager define a session manager
//
// heartbeat is the max idle time before a ping frame is sent.
func GetSessionManager(registry *Registry, heartbeat time.Duration) (*SessionManager, error) {
	if registry == nil {
		return nil, fmt.Errorf("subscriber registry is required")
	}
	if heartbeat <= 0 {
		return nil, fmt.Errorf("heartbeat interval must be positive, got %s", heartbeat)
	}
	return &SessionManager{
		Component: goutils.Component{
			LogTags: log.Fields{"module": "realtime", "component": "session-manager"},
		},
		registry:  registry,
		heartbeat: heartbeat,
	}, nil
}

// Open register a new subscriber for a streaming session
//
// Returns ErrTooManySubscribers when the registry is full, and ErrRegistryClosed once it is
// closed. The caller must Run or Close the returned session.
func (m *SessionManager) Open() (*Session, error) {
	sub, err := m.registry.Register()
	if err != nil {
		return nil, err
	}
	logTags := log.Fields{}
	for k, v := range m.LogTags {
		logTags[k] = v
	}
	logTags["component"] = "session"
	logTags["subscriber"] = sub.ID()
	return &Session{
		Component: goutils.Component{LogTags: logTags},
		registry:  m.registry,
		sub:       sub,
		heartbeat: m.heartbeat,
		state:     SessionConnecting,
	}, nil
}

// Session one streaming connection
type Session struct {
	goutils.Component
	registry  *Registry
	sub       *Subscriber
	heartbeat time.Duration

	lock  sync.Mutex
	state SessionState
}

// Subscriber the session's subscriber
func (s *Session) Subscriber() *Subscriber {
	return s.sub
}

// State the current session state
func (s *Session) State() SessionState {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.state = state
}

// Run send a hello frame, then queued events or ping frames until ctxt ends
//
// The subscriber is always unregistered on return. Returns nil when ctxt ends, which is how a
// client disconnect is observed. Returns ErrSubscriberGone if the service removed the
// subscriber, or the error from writing to the stream.
func (s *Session) Run(ctxt context.Context, stream EventStream) error {
	defer s.Close()
	if s.State() != SessionConnecting {
		return fmt.Errorf("session already %s", s.State())
	}
	s.setState(SessionActive)
	log.WithFields(s.LogTags).Debug("Session active")

	if err := s.send(stream, NewHeartbeatEvent(EventHello, time.Now())); err != nil {
		return err
	}
	for {
		if ctxt.Err() != nil {
			log.WithFields(s.LogTags).Debug("Client disconnected")
			return nil
		}
		evt, err := s.sub.Next(ctxt, s.heartbeat)
		switch {
		case err == nil:
		case errors.Is(err, ErrHeartbeatDue):
			evt = NewHeartbeatEvent(EventPing, time.Now())
		case errors.Is(err, ErrSubscriberGone):
			log.WithFields(s.LogTags).Info("Subscriber removed by service")
			return err
		default:
			log.WithFields(s.LogTags).Debug("Client disconnected")
			return nil
		}
		if err := s.send(stream, evt); err != nil {
			return err
		}
	}
}

func (s *Session) send(stream EventStream, evt Event) error {
	written, err := WriteFrame(stream, evt)
	stream.Flush()
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf("Failed to transmit '%s'", evt.Type)
		return err
	}
	log.WithFields(s.LogTags).Debugf("Written %dB for '%s'", written, evt.Type)
	return nil
}

// Close unregister the subscriber. Safe to call repeatedly.
func (s *Session) Close() {
	if s.State() == SessionClosed {
		return
	}
	s.setState(SessionDraining)
	s.registry.Unregister(s.sub)
	s.setState(SessionClosed)
	log.WithFields(s.LogTags).Debug("Session closed")
}
