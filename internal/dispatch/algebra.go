// Package dispatch implements the work-queue admission algebra: priority
// clamping, FIFO tie-break ordering, and greedy admission under a global
// concurrency cap and per-group concurrency caps. The algebra is pure and
// storage-agnostic; Dispatcher wires it to the postgres-backed work queue.
package dispatch

import (
	"sort"
	"time"

	"github.com/schedcore/schedcore/internal/domain"
)

// DependentPriorityBoost is added to a dependent manifest's own priority
// before clamping, so that downstream steps in an already-running chain
// tend to dispatch ahead of fresh top-level manifests at the same nominal
// priority. See DESIGN.md Open Question 3 for why this is applied after
// any manifest-level override rather than before.
const DependentPriorityBoost = 4

// Candidate is one queued work-queue row under consideration for
// dispatch, annotated with its already-resolved effective priority.
type Candidate struct {
	WorkQueueID string
	GroupName   string
	Priority    int
	CreatedAt   time.Time
	IsDependent bool
}

// EffectivePriority computes the priority used for ordering: the
// manifest's own (already group/override-resolved) priority, boosted if
// the row represents a dependent step, then clamped into range, using the
// package-default DependentPriorityBoost.
func EffectivePriority(priority int, isDependent bool) int {
	return EffectivePriorityWithBoost(priority, isDependent, DependentPriorityBoost)
}

// EffectivePriorityWithBoost is EffectivePriority parameterized on the
// boost amount, used by Dispatcher when a deployment configures a
// different SCHEDCORE_DEPENDENT_PRIORITY_BOOST than the package default.
func EffectivePriorityWithBoost(priority int, isDependent bool, boost int) int {
	if isDependent {
		priority += boost
	}
	return domain.ClampPriority(priority)
}

// SortCandidates orders candidates by descending effective priority, with
// ties broken by ascending CreatedAt (oldest first, i.e. FIFO within a
// priority band). Sorting is stable so callers that re-sort an
// already-mostly-sorted slice do not see spurious reordering.
func SortCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Priority != cands[j].Priority {
			return cands[i].Priority > cands[j].Priority
		}
		return cands[i].CreatedAt.Before(cands[j].CreatedAt)
	})
}

// AdmissionCaps bounds how many jobs may run concurrently, globally and per
// group. A zero GlobalCap means unbounded; an absent entry in GroupCaps
// means that group is unbounded.
type AdmissionCaps struct {
	GlobalCap int
	GroupCaps map[string]int
}

// Admit walks candidates in priority order (the caller must have already
// called SortCandidates) and greedily selects as many as fit under both
// the global cap and each candidate's group cap, given the jobs already
// active globally and per group. It returns the WorkQueueIDs admitted, in
// the order they should be dispatched.
func Admit(cands []Candidate, globalActive int, groupActive map[string]int, caps AdmissionCaps) []string {
	admitted := make([]string, 0, len(cands))

	// Local copies so repeated calls against the same caller-owned maps
	// don't require the caller to clone them defensively.
	group := make(map[string]int, len(groupActive))
	for k, v := range groupActive {
		group[k] = v
	}

	global := globalActive
	for _, c := range cands {
		if caps.GlobalCap > 0 && global >= caps.GlobalCap {
			break // global cap reached; lower-priority candidates can't admit either
		}

		groupCap, hasGroupCap := caps.GroupCaps[c.GroupName]
		if hasGroupCap && groupCap > 0 && group[c.GroupName] >= groupCap {
			continue // this group is full, but other groups may still have room
		}

		admitted = append(admitted, c.WorkQueueID)
		global++
		group[c.GroupName]++
	}

	return admitted
}
