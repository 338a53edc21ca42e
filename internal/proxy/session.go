package proxy

import (
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

type sessionState int

const (
	stateAwaitingHello sessionState = iota
	stateStreaming
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateAwaitingHello:
		return "awaiting-hello"
	case stateStreaming:
		return "streaming"
	default:
		return "closed"
	}
}

// viewerSession is one accepted viewer connection. Apart from inbound, which
// belongs to the connection's reader goroutine, every field is owned by the
// server event loop.
type viewerSession struct {
	id        string
	conn      net.Conn
	remote    string
	connected time.Time
	log       *log.Entry

	state    sessionState
	hello    Hello
	universe uint16
	attached bool

	pendingWrites int
	out           chan []byte

	// bytes received but not yet consumed as a hello line
	inbound []byte
}

func newViewerSession(id string, conn net.Conn) *viewerSession {
	remote := conn.RemoteAddr().String()
	return &viewerSession{
		id:        id,
		conn:      conn,
		remote:    remote,
		connected: time.Now(),
		log:       log.WithFields(log.Fields{"session": shortID(id), "remote": remote}),
		state:     stateAwaitingHello,
	}
}

// SessionStatus describes one viewer for status reporting.
type SessionStatus struct {
	ID            string    `json:"id"`
	Remote        string    `json:"remote"`
	State         string    `json:"state"`
	ViewerName    string    `json:"viewer_name,omitempty"`
	ViewerVersion string    `json:"viewer_version,omitempty"`
	Universe      uint16    `json:"universe,omitempty"`
	PendingWrites int       `json:"pending_writes"`
	Connected     time.Time `json:"connected"`
}

func (s *viewerSession) status() SessionStatus {
	return SessionStatus{
		ID:            s.id,
		Remote:        s.remote,
		State:         s.state.String(),
		ViewerName:    s.hello.ViewerName,
		ViewerVersion: s.hello.ViewerVersion,
		Universe:      s.universe,
		PendingWrites: s.pendingWrites,
		Connected:     s.connected,
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
