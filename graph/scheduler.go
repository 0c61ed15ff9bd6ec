package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// NodeOutput pairs a ran node's kind with its NodePartial, preserved in
// toRun order (not completion order) for barrier determinism.
type NodeOutput struct {
	NodeKind NodeKind
	Partial  NodePartial
}

// StepResult is a Scheduler.RunSuperstep outcome.
type StepResult struct {
	RanNodes     []NodeKind
	SkippedNodes []NodeKind
	Outputs      []NodeOutput
	Err          *SchedulerError
}

// Registry maps a NodeKind to its Node implementation.
type Registry map[NodeKind]Node

// Scheduler executes one superstep: it selects eligible nodes from a
// frontier, runs them concurrently bounded by a semaphore of
// concurrency_limit permits, and returns their outputs in frontier
// order.
type Scheduler struct {
	Registry         Registry
	ConcurrencyLimit int

	// Policies carries per-node execution policy (timeouts). A node
	// absent from the map falls back to DefaultTimeout.
	Policies map[NodeKind]*NodePolicy

	// DefaultTimeout is the runtime-wide node timeout applied when a
	// node has no policy of its own. Zero means unlimited.
	DefaultTimeout time.Duration

	// Metrics, when set, tracks the live in-flight node count across the
	// superstep's goroutine fan-out.
	Metrics *PrometheusMetrics
}

// NewScheduler constructs a Scheduler with the given node registry and
// concurrency limit. A non-positive limit is treated as 1.
func NewScheduler(registry Registry, concurrencyLimit int) *Scheduler {
	if concurrencyLimit <= 0 {
		concurrencyLimit = 1
	}
	return &Scheduler{Registry: registry, ConcurrencyLimit: concurrencyLimit}
}

// RunSuperstep partitions frontier into eligible (toRun) and skipped
// NodeKinds, runs toRun concurrently bounded by s.ConcurrencyLimit, and
// returns their outputs preserving toRun order. versionsSeen is consulted
// for skip-eligibility and is NOT mutated here — the Runner updates it
// after a successful barrier.
func (s *Scheduler) RunSuperstep(ctx context.Context, frontier []NodeKind, snapshot StateSnapshot, step uint64, sender EventSender, versionsSeen map[NodeKind]ChannelVersions) StepResult {
	observed := snapshot.Observed()

	var toRun, skipped []NodeKind
	for _, nk := range frontier {
		if nk.IsVirtual() {
			skipped = append(skipped, nk)
			continue
		}
		if _, ok := s.Registry[nk]; !ok {
			skipped = append(skipped, nk)
			continue
		}
		if seen, ok := versionsSeen[nk]; ok && seen == observed {
			skipped = append(skipped, nk)
			continue
		}
		toRun = append(toRun, nk)
	}

	if len(toRun) == 0 {
		return StepResult{RanNodes: nil, SkippedNodes: skipped}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, s.ConcurrencyLimit)
	outputs := make([]NodeOutput, len(toRun))
	errs := make([]error, len(toRun))
	panicked := make([]bool, len(toRun))
	var inflight int64
	var wg sync.WaitGroup

	for i, nk := range toRun {
		wg.Add(1)
		go func(i int, nk NodeKind) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					panicked[i] = true
					errs[i] = fmt.Errorf("panic in node %s: %v", nk, rec)
					cancel()
				}
			}()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-runCtx.Done():
				errs[i] = runCtx.Err()
				return
			}

			if s.Metrics != nil {
				s.Metrics.UpdateInflightNodes(int(atomic.AddInt64(&inflight, 1)))
				defer func() {
					s.Metrics.UpdateInflightNodes(int(atomic.AddInt64(&inflight, -1)))
				}()
			}

			node := s.Registry[nk]
			nctx := NodeContext{NodeID: nk.Name(), Step: step, EventSender: sender}
			partial, err := executeNodeWithTimeout(runCtx, node, nk.Name(), snapshot, nctx, s.Policies[nk], s.DefaultTimeout)
			if err != nil {
				errs[i] = err
				cancel()
				return
			}
			outputs[i] = NodeOutput{NodeKind: nk, Partial: partial}
		}(i, nk)
	}

	wg.Wait()

	// Pick the failure that caused the abort, not a sibling's secondary
	// cancellation: a node cancelled because another one failed reports
	// context.Canceled, which would mask the real error if it sorts
	// earlier in toRun order.
	failedIdx := -1
	for i, err := range errs {
		if err == nil || errors.Is(err, context.Canceled) {
			continue
		}
		failedIdx = i
		break
	}
	if failedIdx == -1 {
		for i, err := range errs {
			if err != nil {
				failedIdx = i
				break
			}
		}
	}

	if failedIdx >= 0 {
		kind := SchedulerNodeRun
		if panicked[failedIdx] || errors.Is(errs[failedIdx], context.Canceled) {
			kind = SchedulerJoin
		}
		return StepResult{
			RanNodes:     toRun,
			SkippedNodes: skipped,
			Err: &SchedulerError{
				Kind:   kind,
				NodeID: toRun[failedIdx].Name(),
				Step:   step,
				Cause:  errs[failedIdx],
			},
		}
	}

	return StepResult{RanNodes: toRun, SkippedNodes: skipped, Outputs: outputs}
}
