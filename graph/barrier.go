package graph

import "sort"

// BarrierOutcome is the result of applying a superstep's NodePartials
// to the state.
type BarrierOutcome struct {
	// UpdatedChannels lists the channels whose version was bumped this
	// barrier. The errors channel is intentionally never listed here:
	// it still advances its own version on append, but it is not
	// reported as an "updated channel," and skip decisions never
	// consult it.
	UpdatedChannels []string

	// Errors is the full deterministically-sorted error list aggregated
	// from this superstep's partials, independent of whether the
	// superstep itself failed.
	Errors []ErrorEvent

	// FrontierCommands pairs each emitter with the FrontierCommand it
	// returned, in ran_ids order.
	FrontierCommands []EmittedFrontierCommand

	// ExtraConflicts counts the extra-channel key collisions this barrier
	// resolved by last-writer-wins: keys written by more than one partial
	// in the same superstep, plus keys whose merged value overwrote an
	// existing state entry. The Runner feeds it to the
	// barrier_conflicts_total metric.
	ExtraConflicts int
}

// EmittedFrontierCommand pairs a NodeKind with the FrontierCommand it
// emitted during a superstep.
type EmittedFrontierCommand struct {
	NodeKind NodeKind
	Command  FrontierCommand
}

// ApplyBarrier merges ranIDs[i]'s partials[i] into state deterministically
// and bumps channel versions only where content actually changed. Two
// calls with identical inputs produce byte-identical state changes and
// identical UpdatedChannels / ordering (P3).
func ApplyBarrier(state *VersionedState, ranIDs []NodeKind, partials []NodePartial) BarrierOutcome {
	var msgsAll []Message
	extraAll := NewExtraMap()
	var errorsAll []ErrorEvent
	var frontierCommands []EmittedFrontierCommand
	conflicts := 0

	for i, p := range partials {
		nid := NodeKind{}
		if i < len(ranIDs) {
			nid = ranIDs[i]
		}

		if len(p.Messages) > 0 {
			msgsAll = append(msgsAll, p.Messages...)
		}

		if len(p.Extra) > 0 {
			keys := make([]string, 0, len(p.Extra))
			for k := range p.Extra {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if _, taken := extraAll[k]; taken {
					conflicts++
				}
				extraAll[k] = p.Extra[k]
			}
		}

		if len(p.Errors) > 0 {
			errorsAll = append(errorsAll, p.Errors...)
		}

		if p.Frontier != nil {
			frontierCommands = append(frontierCommands, EmittedFrontierCommand{NodeKind: nid, Command: *p.Frontier})
		}
	}

	sortErrorEvents(errorsAll)

	// Record before-state for version-bump decisions.
	msgsBeforeLen := len(state.messages.items)
	msgsBeforeVer := state.messages.version
	extraBefore := cloneExtraMap(state.extra.items)
	extraBeforeVer := state.extra.version
	errorsBeforeLen := len(state.errors.items)
	errorsBeforeVer := state.errors.version

	// Apply reducers. Reducers MUST NOT touch versions.
	reduceMessages(state, msgsAll)
	conflicts += reduceExtra(state, extraAll)
	reduceErrors(state, errorsAll)

	var updated []string

	if len(state.messages.items) != msgsBeforeLen {
		state.messages.version = msgsBeforeVer + 1
		updated = append(updated, "messages")
	}

	if !extraEqual(state.extra.items, extraBefore) {
		state.extra.version = extraBeforeVer + 1
		updated = append(updated, "extra")
	}

	if len(state.errors.items) != errorsBeforeLen {
		state.errors.version = errorsBeforeVer + 1
		// Deliberately not appended to `updated`: the errors channel's
		// version bump is not surfaced as an "updated channel."
	}

	return BarrierOutcome{
		UpdatedChannels:  updated,
		Errors:           errorsAll,
		FrontierCommands: frontierCommands,
		ExtraConflicts:   conflicts,
	}
}

// reduceMessages is the messages channel's reducer: append-only
// concatenation in ran_ids order. It never touches state.messages.version.
func reduceMessages(state *VersionedState, delta []Message) {
	if len(delta) == 0 {
		return
	}
	state.messages.items = append(state.messages.items, delta...)
}

// reduceExtra is the extra channel's reducer: later writers win on key
// conflicts, insertion order already made deterministic by the caller's
// lexicographic key sort. Returns how many existing state entries the
// delta overwrote. It never touches state.extra.version.
func reduceExtra(state *VersionedState, delta ExtraMap) int {
	if len(delta) == 0 {
		return 0
	}
	if state.extra.items == nil {
		state.extra.items = NewExtraMap()
	}
	keys := make([]string, 0, len(delta))
	for k := range delta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	overwrites := 0
	for _, k := range keys {
		if _, taken := state.extra.items[k]; taken {
			overwrites++
		}
		state.extra.items[k] = delta[k]
	}
	return overwrites
}

// reduceErrors is the errors channel's reducer: append-only concatenation
// of the already-sorted aggregate. It never touches state.errors.version.
func reduceErrors(state *VersionedState, delta []ErrorEvent) {
	if len(delta) == 0 {
		return
	}
	state.errors.items = append(state.errors.items, delta...)
}

// sortErrorEvents sorts in place by the Barrier's total order: scope-kind
// rank (Node < Scheduler < Runner < App), then scope identifier, then
// scope step, then When, then error message.
func sortErrorEvents(events []ErrorEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Scope.rank() != b.Scope.rank() {
			return a.Scope.rank() < b.Scope.rank()
		}
		if a.Scope.identifier() != b.Scope.identifier() {
			return a.Scope.identifier() < b.Scope.identifier()
		}
		if a.Scope.Step() != b.Scope.Step() {
			return a.Scope.Step() < b.Scope.Step()
		}
		if !a.When.Equal(b.When) {
			return a.When.Before(b.When)
		}
		return a.Error.Message < b.Error.Message
	})
}
