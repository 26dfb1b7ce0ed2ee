package swarm

import (
	"time"
)

// ManualDisconnectReason marks drops initiated by the orchestrator's own
// shutdown path, as opposed to drops the server or network caused.
const ManualDisconnectReason = "manual_disconnect"

// lifecycle is the terminal-classification state of a connected slot. The
// disconnect callback and the shutdown routine race over the same record;
// the state transition under the orchestrator mutex guarantees exactly one
// of them wins.
type lifecycle int

const (
	lifeLive lifecycle = iota
	lifeDisconnected
)

// Config drives a single swarm run.
type Config struct {
	ServerURL string `json:"server_url"`

	// TargetConnections is the number of connection slots to fill.
	TargetConnections int `json:"target_connections"`

	// ConnectionRate is the chunk size: that many attempt units are launched
	// concurrently, then the orchestrator waits for the whole chunk and
	// pauses ChunkPause before the next one.
	ConnectionRate int `json:"connection_rate"`

	// HoldDuration keeps established connections open after ramp-up.
	HoldDuration time.Duration `json:"hold_duration"`

	// ProbeInterval enables the liveness prober during the hold phase when
	// positive.
	ProbeInterval   time.Duration `json:"probe_interval"`
	ProbeSampleSize int           `json:"probe_sample_size"`

	MaxRetries     int           `json:"max_retries"`
	RetryBaseDelay time.Duration `json:"retry_base_delay"`

	// RetryMaxDelay caps the exponential backoff. Zero means uncapped.
	RetryMaxDelay time.Duration `json:"retry_max_delay"`

	AuthHeaders map[string]string `json:"auth_headers,omitempty"`

	HandshakeTimeout  time.Duration `json:"handshake_timeout"`
	DisconnectStagger time.Duration `json:"disconnect_stagger"`
	ChunkPause        time.Duration `json:"chunk_pause"`
}

func (c *Config) applyDefaults() {
	if c.ConnectionRate <= 0 {
		c.ConnectionRate = 50
	}
	if c.ProbeSampleSize <= 0 {
		c.ProbeSampleSize = 5
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 90 * time.Second
	}
	if c.ChunkPause <= 0 {
		c.ChunkPause = time.Second
	}
	if c.DisconnectStagger < 0 {
		c.DisconnectStagger = 0
	}
}

// ConnectionOutcome is the terminal record for one connection slot. Records
// are appended to the orchestrator's list once the attempt unit resolves and
// are never removed; only the disconnect callback and the shutdown routine
// mutate them afterwards.
type ConnectionOutcome struct {
	Slot    int  `json:"slot"`
	Success bool `json:"success"`

	// ConnectionTime spans the first attempt's start to final resolution.
	ConnectionTime time.Duration `json:"connection_time"`

	ErrorMessage string `json:"error_message,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`

	// RetryCount is attempts beyond the first. Never exceeds MaxRetries.
	RetryCount   int  `json:"retry_count"`
	FinalAttempt bool `json:"final_attempt"`

	IsActive              bool          `json:"is_active"`
	DisconnectedAt        time.Time     `json:"disconnected_at,omitzero"`
	DisconnectionReason   string        `json:"disconnection_reason,omitempty"`
	ConnectionDuration    time.Duration `json:"connection_duration"`
	SpontaneousDisconnect bool          `json:"spontaneous_disconnect"`

	state       lifecycle
	connectedAt time.Time
}

// Snapshot is pushed over the updates channel for live reporting.
type Snapshot struct {
	Target      int
	Resolved    int
	Successful  int
	Failed      int
	Active      int
	Spontaneous int

	Phase string

	P50ProbeMs    float64
	P90ProbeMs    float64
	P99ProbeMs    float64
	ProbeFailures uint64
}

// SnapshotChan is the channel type for live updates.
type SnapshotChan chan Snapshot
