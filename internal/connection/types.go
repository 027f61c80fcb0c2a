package connection

import (
	"errors"
	"net/http"
	"time"

	"github.com/rickgao/threatstream/internal/apperr"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrManagerClosed   = errors.New("manager closed")
)

// State is the lifecycle state of a managed stream.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var stateNames = []string{
	StateClosed.String(),
	StateConnecting.String(),
	StateOpen.String(),
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// CloseInfo describes why a stream closed.
type CloseInfo struct {
	Code        int    // WebSocket close code, 0 if none was received
	Reason      string // Close reason text
	Intentional bool   // Closed by Disconnect or Close
	Err         error  // Transport error that ended the stream, if any
}

// Hooks are optional lifecycle callbacks. They run on manager goroutines and
// must not block for long.
type Hooks struct {
	OnOpen        func()
	OnClose       func(CloseInfo)
	OnError       func(*apperr.Error)
	OnStateChange func(from, to State)
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., ws://localhost:8000/ws)
	Header           http.Header   // Extra handshake headers
	HandshakeTimeout time.Duration // Max time for the opening handshake
	PingInterval     time.Duration // How often to send keepalive pings
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1024,
	}
}

// ManagerConfig configures the Manager.
type ManagerConfig struct {
	ReconnectAttempts int           // Max automatic reconnects after an unintended close
	ReconnectInterval time.Duration // Fixed wait before each automatic reconnect
	ConnectTimeout    time.Duration // Bound on a single dial (0 = no bound beyond the transport's own)
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectAttempts: 10,
		ReconnectInterval: 2 * time.Second,
		ConnectTimeout:    15 * time.Second,
	}
}

// Stats are running counters for a manager.
type Stats struct {
	FramesReceived uint64
	ParseErrors    uint64
	Sent           uint64
	Reconnects     uint64
	LastMessageAt  time.Time
}

// Status is a point-in-time view of a manager.
type Status struct {
	State    State
	Errored  bool // Set by a transport error, cleared on the next successful open
	Attempts int  // Automatic reconnects since the last successful open
	Stats    Stats
}
