// Package graph provides the core graph execution engine for WeaveGraph-Go.
package graph

import (
	"errors"
	"runtime"
	"time"
)

// CheckpointerType selects which Checkpointer backend a RuntimeConfig
// wires up when the App is compiled. The concrete store types live in
// graph/store; GraphBuilder.Compile resolves this enum to one of them.
type CheckpointerType int

const (
	// InMemory uses store.MemoryCheckpointer — no persistence across
	// process restarts, suitable for tests and ephemeral runs.
	InMemory CheckpointerType = iota
	// SQLite uses store.SQLiteCheckpointer (modernc.org/sqlite, WAL mode).
	SQLite
	// MySQL uses store.MySQLCheckpointer (go-sql-driver/mysql).
	MySQL
)

// BusBuilder constructs the EventBus a compiled App wires into every
// NodeContext it creates. Supplying a custom builder lets callers tune
// buffer size or substitute a bus with additional instrumentation.
type BusBuilder func() *EventBus

// RuntimeConfig is the session-level configuration a GraphBuilder
// attaches before Compile.
type RuntimeConfig struct {
	SessionID        string
	Checkpointer     CheckpointerType
	BackendDSN       string
	ConcurrencyLimit int

	// PersistCheckpoints enables the Checkpointer backend selection
	// above. It is set by WithCheckpointer; the zero value runs without
	// persistence.
	PersistCheckpoints bool

	EventBus           BusBuilder
	DefaultNodeTimeout time.Duration

	// MaxSteps bounds RunUntilComplete as a safety net against graphs
	// whose frontier never empties (missing exit edge, broken
	// conditional routing). Zero means unbounded.
	MaxSteps int
}

// Option configures a RuntimeConfig.
type Option func(*RuntimeConfig) error

// ErrInvalidOption is returned by NewRuntimeConfig when an Option rejects
// its argument (e.g. a negative ConcurrencyLimit).
var ErrInvalidOption = errors.New("invalid option value")

// NewRuntimeConfig applies opts over a RuntimeConfig seeded with defaults:
// ConcurrencyLimit = runtime.NumCPU(), Checkpointer = InMemory, no
// timeout, no step limit, a default-sized EventBus.
func NewRuntimeConfig(opts ...Option) (RuntimeConfig, error) {
	cfg := RuntimeConfig{
		Checkpointer:     InMemory,
		ConcurrencyLimit: runtime.NumCPU(),
		EventBus:         func() *EventBus { return NewEventBus(64) },
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return RuntimeConfig{}, err
		}
	}
	return cfg, nil
}

// WithSessionID sets an explicit session id, overriding the App's default
// IDGenerator.
func WithSessionID(id string) Option {
	return func(c *RuntimeConfig) error {
		c.SessionID = id
		return nil
	}
}

// WithCheckpointer selects the persistence backend and, for SQLite/MySQL,
// the connection DSN.
func WithCheckpointer(kind CheckpointerType, dsn string) Option {
	return func(c *RuntimeConfig) error {
		if kind != InMemory && dsn == "" {
			return errors.Join(ErrInvalidOption, errors.New("DSN required for SQLite/MySQL checkpointer"))
		}
		c.Checkpointer = kind
		c.BackendDSN = dsn
		c.PersistCheckpoints = true
		return nil
	}
}

// WithConcurrencyLimit bounds how many nodes the Scheduler runs
// concurrently within a single superstep. Default: runtime.NumCPU().
func WithConcurrencyLimit(n int) Option {
	return func(c *RuntimeConfig) error {
		if n <= 0 {
			return errors.Join(ErrInvalidOption, errors.New("ConcurrencyLimit must be positive"))
		}
		c.ConcurrencyLimit = n
		return nil
	}
}

// WithEventBus overrides the default EventBus construction, e.g. to
// enlarge per-subscriber buffers under high fan-out.
func WithEventBus(b BusBuilder) Option {
	return func(c *RuntimeConfig) error {
		if b == nil {
			return errors.Join(ErrInvalidOption, errors.New("BusBuilder must not be nil"))
		}
		c.EventBus = b
		return nil
	}
}

// WithDefaultNodeTimeout sets the runtime-wide fallback node timeout used
// when a node's own NodePolicy.Timeout is zero (see getNodeTimeout).
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(c *RuntimeConfig) error {
		if d < 0 {
			return errors.Join(ErrInvalidOption, errors.New("DefaultNodeTimeout must not be negative"))
		}
		c.DefaultNodeTimeout = d
		return nil
	}
}

// WithMaxSteps bounds RunUntilComplete's superstep loop. Zero (default)
// means unbounded.
func WithMaxSteps(n int) Option {
	return func(c *RuntimeConfig) error {
		if n < 0 {
			return errors.Join(ErrInvalidOption, errors.New("MaxSteps must not be negative"))
		}
		c.MaxSteps = n
		return nil
	}
}

// ErrMaxStepsExceeded is returned by RunUntilComplete when RuntimeConfig's
// MaxSteps is exceeded without the frontier reaching completion.
var ErrMaxStepsExceeded = errors.New("max steps exceeded without reaching completion")
