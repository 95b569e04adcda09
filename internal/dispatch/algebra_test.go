package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEffectivePriority(t *testing.T) {
	assert.Equal(t, 10, EffectivePriority(10, false))
	assert.Equal(t, 14, EffectivePriority(10, true))
	assert.Equal(t, 31, EffectivePriority(30, true), "boost clamps at MaxPriority")
	assert.Equal(t, 0, EffectivePriority(-5, false), "clamps at MinPriority")
}

func TestSortCandidates(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	cands := []Candidate{
		{WorkQueueID: "low-old", Priority: 1, CreatedAt: now.Add(-time.Hour)},
		{WorkQueueID: "high-new", Priority: 10, CreatedAt: now},
		{WorkQueueID: "high-old", Priority: 10, CreatedAt: now.Add(-2 * time.Hour)},
		{WorkQueueID: "low-new", Priority: 1, CreatedAt: now.Add(-time.Minute)},
	}

	SortCandidates(cands)

	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.WorkQueueID
	}
	assert.Equal(t, []string{"high-old", "high-new", "low-old", "low-new"}, ids)
}

func TestAdmit_GlobalCap(t *testing.T) {
	cands := []Candidate{
		{WorkQueueID: "a", GroupName: "g1", Priority: 10},
		{WorkQueueID: "b", GroupName: "g1", Priority: 9},
		{WorkQueueID: "c", GroupName: "g1", Priority: 8},
	}

	admitted := Admit(cands, 1, nil, AdmissionCaps{GlobalCap: 2})
	assert.Equal(t, []string{"a"}, admitted, "one slot already used globally, one more fits")
}

func TestAdmit_GroupCapSkipsNotBlocks(t *testing.T) {
	cands := []Candidate{
		{WorkQueueID: "g1-a", GroupName: "g1", Priority: 10},
		{WorkQueueID: "g2-a", GroupName: "g2", Priority: 9},
		{WorkQueueID: "g1-b", GroupName: "g1", Priority: 8},
	}

	admitted := Admit(cands, 0, map[string]int{"g1": 1}, AdmissionCaps{
		GlobalCap: 10,
		GroupCaps: map[string]int{"g1": 1},
	})

	// g1 is already at its cap of 1, so g1-a is skipped, but g2-a (a
	// lower-priority, different group candidate) still admits.
	assert.Equal(t, []string{"g2-a"}, admitted)
}

func TestAdmit_Unbounded(t *testing.T) {
	cands := []Candidate{
		{WorkQueueID: "a", GroupName: "g1", Priority: 5},
		{WorkQueueID: "b", GroupName: "g1", Priority: 4},
	}

	admitted := Admit(cands, 0, nil, AdmissionCaps{})
	assert.Equal(t, []string{"a", "b"}, admitted)
}
