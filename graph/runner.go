package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/weavegraph-go/graph/emit"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus int

const (
	// SessionActive means the session has a non-empty frontier and no
	// interrupt or failure is pending.
	SessionActive SessionStatus = iota
	// SessionPaused means the last RunStep returned a pause; the next
	// RunStep resumes from the unchanged frontier.
	SessionPaused
	// SessionComplete means the frontier is empty or End-only.
	SessionComplete
	// SessionFailed means the last superstep surfaced a fatal error. The
	// frontier is unchanged, so RunStep may be retried.
	SessionFailed
)

// String returns the status name for logs and events.
func (s SessionStatus) String() string {
	switch s {
	case SessionActive:
		return "active"
	case SessionPaused:
		return "paused"
	case SessionComplete:
		return "complete"
	default:
		return "failed"
	}
}

// PauseKind distinguishes why a RunStep paused.
type PauseKind int

const (
	// PauseBeforeNode fired from StepOptions.InterruptBefore; the
	// superstep did not execute.
	PauseBeforeNode PauseKind = iota
	// PauseAfterNode fired from StepOptions.InterruptAfter; the
	// superstep executed and its barrier was applied.
	PauseAfterNode
	// PauseAfterStep fired from StepOptions.InterruptEachStep.
	PauseAfterStep
)

// PauseReason reports which interrupt paused a RunStep.
type PauseReason struct {
	Kind PauseKind
	// Node is the interrupting NodeKind for PauseBeforeNode and
	// PauseAfterNode.
	Node NodeKind
	// Step is the step the pause occurred at.
	Step uint64
}

// StepOptions controls a single RunStep call.
type StepOptions struct {
	// InterruptBefore pauses, without side effects, when any frontier
	// node is in the set.
	InterruptBefore []NodeKind
	// InterruptAfter pauses after the barrier when any ran node is in
	// the set.
	InterruptAfter []NodeKind
	// InterruptEachStep pauses after every superstep.
	InterruptEachStep bool
	// Autosave persists a checkpoint after the barrier (and after a
	// synthetic error barrier). Save failures are logged, not fatal.
	Autosave bool
}

// DefaultStepOptions returns the options RunUntilComplete drives with:
// no interrupts, autosave on.
func DefaultStepOptions() StepOptions {
	return StepOptions{Autosave: true}
}

// StepReport describes a completed (or paused) RunStep.
type StepReport struct {
	Step            uint64
	RanNodes        []NodeKind
	SkippedNodes    []NodeKind
	UpdatedChannels []string
	NextFrontier    []NodeKind
	// Completed is true when the session's frontier is now empty or
	// End-only.
	Completed bool
	// Paused is non-nil when an interrupt fired.
	Paused *PauseReason
}

// SessionInit is the result of CreateSession: fresh, or resumed from a
// persisted checkpoint.
type SessionInit struct {
	Resumed bool
	// CheckpointStep is the step of the restored checkpoint when Resumed.
	CheckpointStep uint64
}

// SessionState is a single in-flight execution of the graph, owning its
// state, frontier, and versions_seen. It is owned by exactly one Runner
// and never shared across goroutines except via snapshots.
type SessionState struct {
	mu sync.Mutex

	ID               string
	State            *VersionedState
	Step             uint64
	Frontier         []NodeKind
	VersionsSeen     map[NodeKind]ChannelVersions
	ConcurrencyLimit int
	Status           SessionStatus
}

// Runner owns sessions and drives superstep → barrier → frontier
// advancement, applying conditional edges, honoring interrupts, and
// invoking the Checkpointer after each step.
type Runner struct {
	mu       sync.Mutex
	sessions map[string]*SessionState

	registry     Registry
	edges        []Edge
	conditionals []ConditionalEdge
	policies     map[NodeKind]*NodePolicy

	cfg          RuntimeConfig
	checkpointer Checkpointer
	sender       EventSender
	emitter      emit.Emitter
	metrics      *PrometheusMetrics
}

// RunnerDeps carries the collaborators a Runner is wired with. Any nil
// field gets a safe default (no persistence, no events, null emitter, no
// metrics).
type RunnerDeps struct {
	Checkpointer Checkpointer
	EventSender  EventSender
	Emitter      emit.Emitter
	Metrics      *PrometheusMetrics
	Policies     map[NodeKind]*NodePolicy
}

// NewRunner constructs a Runner over a compiled graph topology. The
// registry and edge slices are shared read-only for the Runner's life.
func NewRunner(registry Registry, edges []Edge, conditionals []ConditionalEdge, cfg RuntimeConfig, deps RunnerDeps) *Runner {
	emitter := deps.Emitter
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &Runner{
		sessions:     make(map[string]*SessionState),
		registry:     registry,
		edges:        edges,
		conditionals: conditionals,
		policies:     deps.Policies,
		cfg:          cfg,
		checkpointer: deps.Checkpointer,
		sender:       deps.EventSender,
		emitter:      emitter,
		metrics:      deps.Metrics,
	}
}

// successorsOf returns the static successors of from, in edge insertion
// order, duplicates preserved.
func (r *Runner) successorsOf(from NodeKind) []NodeKind {
	var out []NodeKind
	for _, e := range r.edges {
		if e.From == from {
			out = append(out, e.To)
		}
	}
	return out
}

// frontierComplete reports whether a frontier terminates the session:
// empty, or every member is End.
func frontierComplete(frontier []NodeKind) bool {
	for _, nk := range frontier {
		if !nk.IsEnd() {
			return false
		}
	}
	return true
}

// CreateSession registers a session under id. When a checkpointer is
// configured and holds a checkpoint for id, the full session (state,
// step, frontier, versions_seen, concurrency limit) is restored and
// Resumed is returned; otherwise a fresh session starts at step 0 with
// the successors of Start as its frontier.
//
// Checkpointer load failures are fatal here, unlike save failures during
// a run.
func (r *Runner) CreateSession(ctx context.Context, id string, initial *VersionedState) (SessionInit, error) {
	if r.checkpointer != nil {
		cp, err := r.checkpointer.LoadLatest(ctx, id)
		if err != nil && !errors.Is(err, ErrCheckpointNotFound) {
			return SessionInit{}, &RunnerError{Message: "checkpoint load failed for session " + id, Cause: err}
		}
		if cp != nil {
			sess := &SessionState{
				ID:               id,
				State:            StateFromSnapshot(cp.State),
				Step:             cp.Step,
				Frontier:         append([]NodeKind(nil), cp.Frontier...),
				VersionsSeen:     make(map[NodeKind]ChannelVersions, len(cp.VersionsSeen)),
				ConcurrencyLimit: cp.ConcurrencyLimit,
			}
			for key, vs := range cp.VersionsSeen {
				sess.VersionsSeen[ParseNodeKind(key)] = vs
			}
			if frontierComplete(sess.Frontier) {
				sess.Status = SessionComplete
			}
			r.mu.Lock()
			r.sessions[id] = sess
			r.mu.Unlock()

			r.emitter.Emit(emit.Event{
				RunID: id, Step: cp.Step, Scope: "runner", Msg: "session_resumed",
				Meta: map[string]interface{}{"checkpoint_step": cp.Step},
			})
			return SessionInit{Resumed: true, CheckpointStep: cp.Step}, nil
		}
	}

	frontier := dedupeKinds(r.successorsOf(Start))
	if len(frontier) == 0 {
		return SessionInit{}, &RunnerError{Message: "cannot create session " + id, Cause: ErrNoStartNodes}
	}

	if initial == nil {
		initial = NewVersionedState()
	}
	sess := &SessionState{
		ID:               id,
		State:            initial,
		Frontier:         frontier,
		VersionsSeen:     make(map[NodeKind]ChannelVersions),
		ConcurrencyLimit: r.cfg.ConcurrencyLimit,
	}
	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	r.persistCheckpoint(ctx, sess, nil, nil, nil)

	r.emitter.Emit(emit.Event{RunID: id, Scope: "runner", Msg: "session_created"})
	return SessionInit{}, nil
}

// session looks a session up, or fails with ErrSessionNotFound.
func (r *Runner) session(id string) (*SessionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, &RunnerError{Message: "session " + id, Cause: ErrSessionNotFound}
	}
	return sess, nil
}

// SessionSnapshot returns an immutable view of the session's current
// state, for callers and tests.
func (r *Runner) SessionSnapshot(id string) (StateSnapshot, error) {
	sess, err := r.session(id)
	if err != nil {
		return StateSnapshot{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.State.Snapshot(), nil
}

// SessionFrontier returns a copy of the session's current frontier.
func (r *Runner) SessionFrontier(id string) ([]NodeKind, error) {
	sess, err := r.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return append([]NodeKind(nil), sess.Frontier...), nil
}

// SessionStatusOf returns the session's lifecycle state.
func (r *Runner) SessionStatusOf(id string) (SessionStatus, error) {
	sess, err := r.session(id)
	if err != nil {
		return SessionFailed, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.Status, nil
}

// RunStep executes one superstep for the session: schedule the frontier,
// apply the barrier, compute the next frontier from static edges plus
// frontier commands plus conditional predicates, update versions_seen,
// and persist a checkpoint when opts.Autosave is set.
func (r *Runner) RunStep(ctx context.Context, id string, opts StepOptions) (StepReport, error) {
	sess, err := r.session(id)
	if err != nil {
		return StepReport{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	ctx, span := startSpan(ctx, "runner.run_step", id, sess.Step+1)
	defer span.End()

	if frontierComplete(sess.Frontier) {
		sess.Status = SessionComplete
		return StepReport{
			Step:         sess.Step,
			NextFrontier: append([]NodeKind(nil), sess.Frontier...),
			Completed:    true,
		}, nil
	}

	for _, nk := range sess.Frontier {
		if containsKind(opts.InterruptBefore, nk) {
			sess.Status = SessionPaused
			return StepReport{
				Step:         sess.Step,
				NextFrontier: append([]NodeKind(nil), sess.Frontier...),
				Paused:       &PauseReason{Kind: PauseBeforeNode, Node: nk, Step: sess.Step},
			}, nil
		}
	}

	step := sess.Step + 1
	started := time.Now()
	snapshot := sess.State.Snapshot()

	if r.metrics != nil {
		r.metrics.UpdateFrontierDepth(len(sess.Frontier))
	}
	r.emitter.Emit(emit.Event{
		RunID: id, Step: step, Scope: "runner", Msg: "superstep_start",
		Meta: map[string]interface{}{"frontier": kindStrings(sess.Frontier)},
	})

	sched := &Scheduler{
		Registry:         r.registry,
		ConcurrencyLimit: sess.ConcurrencyLimit,
		Policies:         r.policies,
		DefaultTimeout:   r.cfg.DefaultNodeTimeout,
		Metrics:          r.metrics,
	}
	result := sched.RunSuperstep(ctx, sess.Frontier, snapshot, step, r.sender, sess.VersionsSeen)

	if r.metrics != nil {
		for _, nk := range result.SkippedNodes {
			r.metrics.IncrementSkippedNodes(id, nk.String())
		}
	}

	if result.Err != nil {
		// A cancelled superstep is not a node failure: it produces no
		// state change and no checkpoint, and the step counter stays
		// where it was so a later retry re-runs the same superstep.
		if ctx.Err() != nil {
			err := &RunnerError{Message: fmt.Sprintf("superstep %d cancelled", step), Cause: ctx.Err()}
			recordSpanError(span, err)
			return StepReport{Step: sess.Step}, err
		}

		sess.Step = step
		sess.Status = SessionFailed

		scope := SchedulerScope(step)
		if result.Err.Kind == SchedulerNodeRun {
			scope = NodeScope(Custom(result.Err.NodeID), step)
		}
		synthetic := NodePartial{Errors: []ErrorEvent{{
			When:  time.Now().UTC(),
			Scope: scope,
			Error: toNodeFailure(result.Err.Cause),
			Tags:  []string{"scheduler"},
		}}}
		outcome := ApplyBarrier(sess.State, nil, []NodePartial{synthetic})

		if opts.Autosave {
			r.persistCheckpoint(ctx, sess, result.RanNodes, result.SkippedNodes, outcome.UpdatedChannels)
		}
		if r.metrics != nil {
			r.metrics.RecordSuperstepLatency(id, time.Since(started), "error")
		}
		r.emitter.Emit(emit.Event{
			RunID: id, Step: step, Scope: "runner", Msg: "superstep_failed",
			Meta: map[string]interface{}{"error": result.Err.Error()},
		})
		stepErr := &RunnerError{Message: fmt.Sprintf("superstep %d failed", step), Cause: result.Err}
		recordSpanError(span, stepErr)
		return StepReport{Step: step, RanNodes: result.RanNodes, SkippedNodes: result.SkippedNodes}, stepErr
	}

	// Outputs arrive in toRun order already; realign defensively so the
	// barrier input order never depends on scheduler internals.
	ranIDs := result.RanNodes
	partials := make([]NodePartial, len(ranIDs))
	byKind := make(map[NodeKind]NodePartial, len(result.Outputs))
	for _, out := range result.Outputs {
		byKind[out.NodeKind] = out.Partial
	}
	for i, nk := range ranIDs {
		partials[i] = byKind[nk]
	}

	outcome := ApplyBarrier(sess.State, ranIDs, partials)

	if r.metrics != nil {
		for range outcome.ExtraConflicts {
			r.metrics.IncrementBarrierConflicts(id)
		}
	}

	next := r.computeNextFrontier(sess, ranIDs, outcome)

	observed := ChannelVersions{
		Messages: sess.State.MessagesVersion(),
		Extra:    sess.State.ExtraVersion(),
	}
	for _, nk := range ranIDs {
		sess.VersionsSeen[nk] = observed
	}

	sess.Step = step
	sess.Frontier = next

	if opts.Autosave {
		r.persistCheckpoint(ctx, sess, result.RanNodes, result.SkippedNodes, outcome.UpdatedChannels)
	}
	if r.metrics != nil {
		r.metrics.RecordSuperstepLatency(id, time.Since(started), "ok")
		r.metrics.UpdateFrontierDepth(len(next))
	}
	r.emitter.Emit(emit.Event{
		RunID: id, Step: step, Scope: "runner", Msg: "superstep_end",
		Meta: map[string]interface{}{
			"ran":              kindStrings(result.RanNodes),
			"skipped":          kindStrings(result.SkippedNodes),
			"updated_channels": outcome.UpdatedChannels,
			"frontier":         kindStrings(next),
			"duration_ms":      time.Since(started).Milliseconds(),
		},
	})

	report := StepReport{
		Step:            step,
		RanNodes:        result.RanNodes,
		SkippedNodes:    result.SkippedNodes,
		UpdatedChannels: outcome.UpdatedChannels,
		NextFrontier:    append([]NodeKind(nil), next...),
		Completed:       frontierComplete(next),
	}

	for _, nk := range ranIDs {
		if containsKind(opts.InterruptAfter, nk) {
			sess.Status = SessionPaused
			report.Paused = &PauseReason{Kind: PauseAfterNode, Node: nk, Step: step}
			return report, nil
		}
	}
	if opts.InterruptEachStep {
		sess.Status = SessionPaused
		report.Paused = &PauseReason{Kind: PauseAfterStep, Step: step}
		return report, nil
	}

	if report.Completed {
		sess.Status = SessionComplete
	} else {
		sess.Status = SessionActive
	}
	return report, nil
}

// computeNextFrontier builds the next frontier from the superstep's
// emitters: frontier commands first decide whether static successors
// survive, then every matching conditional edge is evaluated against the
// post-barrier snapshot, then the result is deduplicated preserving
// first occurrence.
func (r *Runner) computeNextFrontier(sess *SessionState, ranIDs []NodeKind, outcome BarrierOutcome) []NodeKind {
	commands := make(map[NodeKind][]FrontierCommand, len(outcome.FrontierCommands))
	for _, emitted := range outcome.FrontierCommands {
		commands[emitted.NodeKind] = append(commands[emitted.NodeKind], emitted.Command)
	}

	postSnapshot := sess.State.Snapshot()

	var next []NodeKind
	for _, emitterKind := range ranIDs {
		replaced := false
		var fromCommands []NodeKind
		for _, cmd := range commands[emitterKind] {
			if cmd.Kind == FrontierReplace {
				replaced = true
				fromCommands = fromCommands[:0]
			}
			for _, route := range cmd.Targets {
				fromCommands = append(fromCommands, ResolveRoute(route))
			}
			if cmd.Kind == FrontierReplace {
				break
			}
		}

		if replaced {
			next = append(next, fromCommands...)
		} else {
			next = append(next, r.successorsOf(emitterKind)...)
			next = append(next, fromCommands...)
		}

		for _, ce := range r.conditionals {
			if ce.From != emitterKind || ce.Predicate == nil {
				continue
			}
			for _, target := range ce.Predicate(postSnapshot) {
				nk := ResolveRoute(NodeRoute(target))
				if !nk.IsVirtual() {
					if _, ok := r.registry[nk]; !ok {
						r.emitter.Emit(emit.Event{
							RunID: sess.ID, Step: sess.Step + 1, NodeID: emitterKind.String(),
							Scope: "runner", Msg: "unknown_conditional_target",
							Meta: map[string]interface{}{"target": target},
						})
						continue
					}
				}
				next = append(next, nk)
			}
		}
	}

	return dedupeKinds(next)
}

// persistCheckpoint saves the session's current state if a checkpointer
// is configured. Save failures are logged and counted, never propagated:
// the in-memory session stays authoritative for the process lifetime.
func (r *Runner) persistCheckpoint(ctx context.Context, sess *SessionState, ranNodes, skippedNodes []NodeKind, updatedChannels []string) {
	if r.checkpointer == nil {
		return
	}

	snapshot := sess.State.Snapshot()
	versionsSeen := make(map[string]ChannelVersions, len(sess.VersionsSeen))
	for nk, vs := range sess.VersionsSeen {
		versionsSeen[nk.String()] = vs
	}

	cp := Checkpoint{
		SessionID:        sess.ID,
		Step:             sess.Step,
		State:            snapshot,
		Frontier:         append([]NodeKind(nil), sess.Frontier...),
		VersionsSeen:     versionsSeen,
		ConcurrencyLimit: sess.ConcurrencyLimit,
		RanNodes:         ranNodes,
		SkippedNodes:     skippedNodes,
		UpdatedChannels:  updatedChannels,
		Timestamp:        time.Now().UTC(),
	}
	if key, err := computeIdempotencyKey(sess.ID, sess.Step, snapshot); err == nil {
		cp.IdempotencyKey = key
	}

	err := r.checkpointer.Save(ctx, cp)
	if r.metrics != nil {
		r.metrics.RecordCheckpointSave(sess.ID, err)
	}
	if err != nil {
		r.emitter.Emit(emit.Event{
			RunID: sess.ID, Step: sess.Step, Scope: "checkpoint", Msg: "checkpoint_save_failed",
			Meta: map[string]interface{}{"error": err.Error()},
		})
		return
	}
	r.emitter.Emit(emit.Event{
		RunID: sess.ID, Step: sess.Step, Scope: "checkpoint", Msg: "checkpoint_saved",
	})
}

// RunUntilComplete drives RunStep with default options until the session
// completes, a fatal error surfaces, or RuntimeConfig.MaxSteps is
// exceeded. The final state snapshot is returned. A pause under default
// options is a wrapped ErrUnexpectedPause.
func (r *Runner) RunUntilComplete(ctx context.Context, id string) (StateSnapshot, error) {
	steps := 0
	for {
		if err := ctx.Err(); err != nil {
			return StateSnapshot{}, &RunnerError{Message: "run cancelled", Cause: err}
		}
		report, err := r.RunStep(ctx, id, DefaultStepOptions())
		if err != nil {
			return StateSnapshot{}, err
		}
		if report.Paused != nil {
			return StateSnapshot{}, &RunnerError{Message: "session " + id, Cause: ErrUnexpectedPause}
		}
		if report.Completed {
			return r.SessionSnapshot(id)
		}
		steps++
		if r.cfg.MaxSteps > 0 && steps >= r.cfg.MaxSteps {
			return StateSnapshot{}, &RunnerError{Message: fmt.Sprintf("session %s after %d steps", id, steps), Cause: ErrMaxStepsExceeded}
		}
	}
}

func containsKind(haystack []NodeKind, needle NodeKind) bool {
	for _, nk := range haystack {
		if nk == needle {
			return true
		}
	}
	return false
}

func dedupeKinds(kinds []NodeKind) []NodeKind {
	seen := make(map[NodeKind]struct{}, len(kinds))
	var out []NodeKind
	for _, nk := range kinds {
		if _, ok := seen[nk]; ok {
			continue
		}
		seen[nk] = struct{}{}
		out = append(out, nk)
	}
	return out
}

func kindStrings(kinds []NodeKind) []string {
	out := make([]string, len(kinds))
	for i, nk := range kinds {
		out[i] = nk.String()
	}
	return out
}
