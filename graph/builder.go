package graph

import (
	"github.com/dshills/weavegraph-go/graph/emit"
	"github.com/google/uuid"
)

// IDGenerator produces session ids when RuntimeConfig.SessionID is
// empty. The default is uuid.NewString.
type IDGenerator func() string

// GraphBuilder accumulates the node registry, edge maps, policies, and
// runtime configuration, then Compile freezes them into an App. The
// built registries are shared read-only for the App's life.
type GraphBuilder struct {
	registry     Registry
	edges        []Edge
	conditionals []ConditionalEdge
	policies     map[NodeKind]*NodePolicy

	cfg          RuntimeConfig
	cfgSet       bool
	checkpointer Checkpointer
	emitter      emit.Emitter
	metrics      *PrometheusMetrics
	idGen        IDGenerator
}

// NewGraphBuilder returns an empty builder.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		registry: make(Registry),
		policies: make(map[NodeKind]*NodePolicy),
		emitter:  emit.NewNullEmitter(),
		idGen:    uuid.NewString,
	}
}

// AddNode registers a node implementation under kind. Registering Start
// or End is a logged warning and a no-op, not an error; registering the
// same Custom kind twice is an error.
func (b *GraphBuilder) AddNode(kind NodeKind, node Node) error {
	if kind.IsVirtual() {
		b.emitter.Emit(emit.Event{
			Scope: "builder", Msg: "virtual_node_registration_ignored",
			Meta: map[string]interface{}{"kind": kind.String()},
		})
		return nil
	}
	if node == nil {
		return &EngineError{Code: "NIL_NODE", Message: "node implementation must not be nil for " + kind.String()}
	}
	if _, exists := b.registry[kind]; exists {
		return &EngineError{Code: "DUPLICATE_NODE", Message: "node already registered: " + kind.String()}
	}
	b.registry[kind] = node
	return nil
}

// AddEdge records a static edge. Duplicates are preserved; the runtime
// frontier dedup is what keeps repeated targets from double-running.
func (b *GraphBuilder) AddEdge(from, to NodeKind) error {
	if from.IsEnd() {
		return &EngineError{Code: "EDGE_FROM_END", Message: "End has no successors"}
	}
	b.edges = append(b.edges, Edge{From: from, To: to})
	return nil
}

// AddConditionalEdge attaches a predicate to from, evaluated against the
// post-barrier snapshot of every superstep from ran in.
func (b *GraphBuilder) AddConditionalEdge(from NodeKind, predicate Predicate) error {
	if predicate == nil {
		return &EngineError{Code: "NIL_PREDICATE", Message: "conditional edge predicate must not be nil"}
	}
	b.conditionals = append(b.conditionals, ConditionalEdge{From: from, Predicate: predicate})
	return nil
}

// WithNodePolicy sets a per-node execution policy (timeout).
func (b *GraphBuilder) WithNodePolicy(kind NodeKind, policy *NodePolicy) *GraphBuilder {
	b.policies[kind] = policy
	return b
}

// WithRuntimeConfig attaches the session-level configuration.
func (b *GraphBuilder) WithRuntimeConfig(cfg RuntimeConfig) *GraphBuilder {
	b.cfg = cfg
	b.cfgSet = true
	return b
}

// WithEmitter sets the ambient observability sink for the compiled App's
// runner and builder warnings. Default: NullEmitter.
func (b *GraphBuilder) WithEmitter(e emit.Emitter) *GraphBuilder {
	if e != nil {
		b.emitter = e
	}
	return b
}

// WithMetrics attaches Prometheus instrumentation.
func (b *GraphBuilder) WithMetrics(m *PrometheusMetrics) *GraphBuilder {
	b.metrics = m
	return b
}

// WithCheckpointerInstance wires a concrete Checkpointer directly,
// bypassing RuntimeConfig's backend selection. Used by tests and by
// callers that construct their own store.
func (b *GraphBuilder) WithCheckpointerInstance(cp Checkpointer) *GraphBuilder {
	b.checkpointer = cp
	return b
}

// WithIDGenerator overrides default session id generation.
func (b *GraphBuilder) WithIDGenerator(f IDGenerator) *GraphBuilder {
	if f != nil {
		b.idGen = f
	}
	return b
}

// Compile freezes the builder into an App. The edge maps and registry
// are not copied again after this point; the App and its Runner share
// them read-only.
//
// Compile is where structural validation (cycle and reachability checks)
// is reserved to happen; none is currently performed, so graphs with
// unreachable nodes compile and simply never run them.
func (b *GraphBuilder) Compile() (*App, error) {
	cfg := b.cfg
	if !b.cfgSet {
		var err error
		cfg, err = NewRuntimeConfig()
		if err != nil {
			return nil, err
		}
	}
	if cfg.EventBus == nil {
		cfg.EventBus = func() *EventBus { return NewEventBus(64) }
	}
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = 1
	}

	checkpointer := b.checkpointer
	if checkpointer == nil && cfg.PersistCheckpoints {
		var err error
		checkpointer, err = OpenCheckpointer(cfg.Checkpointer, cfg.BackendDSN)
		if err != nil {
			return nil, err
		}
	}

	bus := cfg.EventBus()
	runner := NewRunner(b.registry, b.edges, b.conditionals, cfg, RunnerDeps{
		Checkpointer: checkpointer,
		EventSender:  bus,
		Emitter:      b.emitter,
		Metrics:      b.metrics,
		Policies:     b.policies,
	})

	return &App{
		runner:       runner,
		bus:          bus,
		cfg:          cfg,
		checkpointer: checkpointer,
		emitter:      b.emitter,
		idGen:        b.idGen,
	}, nil
}
