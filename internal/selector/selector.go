// Package selector enumerates candidate node counts for a triggering job
// and picks the one that best balances workload-wide and system-wide I/O
// intensity, subject to the efficiency gate.
package selector

import (
	"context"
	"sort"

	"github.com/admire-eurohpc/malleability-manager/internal/accountant"
	"github.com/admire-eurohpc/malleability-manager/internal/telemetry"
)

// vectorSource is the subset of intensity.Calculator the selector needs.
type vectorSource interface {
	Vector(ctx context.Context, jobID string, start, end, step float64) ([]float64, error)
	Scalar(ctx context.Context, jobID string, size float64) (*float64, error)
}

// Decision is the outcome of a selection: either retain the current
// configuration, or modify it by Delta nodes.
type Decision struct {
	Modify bool
	Delta  int
}

// Selector picks the best node-count configuration for a running job.
type Selector struct {
	calc                vectorSource
	procsPerNode        int
	minRequiredProfiles int
	efficiencyThreshold float64
}

// New builds a Selector bound to the session's fixed parameters.
func New(calc vectorSource, procsPerNode, minRequiredProfiles int, efficiencyThreshold float64) *Selector {
	return &Selector{
		calc:                calc,
		procsPerNode:        procsPerNode,
		minRequiredProfiles: minRequiredProfiles,
		efficiencyThreshold: efficiencyThreshold,
	}
}

// Select ranks candidate node counts for job against the profile catalog
// and available free nodes, and returns the decision. jobCount is the
// number of currently running jobs, used as the denominator for the
// hypothetical new system-wide intensity.
func (s *Selector) Select(ctx context.Context, job telemetry.RunningJob, profiles []telemetry.Profile,
	freeNodes int, jobCount int, figures accountant.Figures) (Decision, error) {

	size := job.Size
	currentNodes := ceilDiv(size, s.procsPerNode)

	matching := make([]telemetry.Profile, 0, len(profiles))
	for _, p := range profiles {
		if p.Command == job.Command {
			matching = append(matching, p)
		}
	}
	if len(matching) < s.minRequiredProfiles {
		return Decision{Modify: false}, nil
	}

	minNodes, maxNodes := -1, -1
	for _, p := range matching {
		nodes := ceilDiv(p.Size, s.procsPerNode)
		if minNodes == -1 || nodes < minNodes {
			minNodes = nodes
		}
		if maxNodes == -1 || nodes > maxNodes {
			maxNodes = nodes
		}
	}
	minSize := minNodes * s.procsPerNode
	maxSize := maxNodes * s.procsPerNode

	queryJobID := matching[0].JobID
	intensities, err := s.calc.Vector(ctx, queryJobID, float64(minSize), float64(maxSize+1), float64(s.procsPerNode))
	if err != nil {
		return Decision{}, err
	}

	candidates := make([]int, 0)
	for c := minSize; c <= maxSize; c += s.procsPerNode {
		candidates = append(candidates, c/s.procsPerNode)
	}

	// The candidate-to-intensity pairing assumes len(candidates) ==
	// len(intensities); the proxy is trusted to honor the requested
	// window/step exactly. Truncate defensively to the shorter of the
	// two rather than index out of range.
	n := len(candidates)
	if len(intensities) < n {
		n = len(intensities)
	}

	type candidate struct {
		nodes     int
		intensity float64
	}
	filtered := make([]candidate, 0, n)
	for i := 0; i < n; i++ {
		nodes := candidates[i]
		if nodes == currentNodes {
			continue
		}
		if nodes-currentNodes > freeNodes {
			continue
		}
		filtered = append(filtered, candidate{nodes: nodes, intensity: intensities[i]})
	}

	if len(filtered) == 0 {
		return Decision{Modify: false}, nil
	}

	triggerIntensity, err := s.calc.Scalar(ctx, queryJobID, float64(size))
	if err != nil {
		return Decision{}, err
	}
	jInt := 0.0
	if triggerIntensity != nil {
		jInt = *triggerIntensity
	}

	type ranked struct {
		delta  float64
		nDelta int
	}
	ranks := make([]ranked, 0, len(filtered))
	for _, cand := range filtered {
		nDelta := cand.nodes - currentNodes
		newSystemIntensity := (figures.SystemBW - jInt + cand.intensity) / float64(jobCount)
		delta := figures.WorkloadIOIntensity - newSystemIntensity
		if delta < 0 {
			delta = -delta
		}
		ranks = append(ranks, ranked{delta: delta, nDelta: nDelta})
	}
	sort.SliceStable(ranks, func(i, j int) bool { return ranks[i].delta < ranks[j].delta })

	best := ranks[0]
	if best.nDelta > 0 && best.delta/figures.SystemIOIntensity > s.efficiencyThreshold {
		return Decision{Modify: true, Delta: best.nDelta}, nil
	}
	return Decision{Modify: false}, nil
}

// ceilDiv returns ceil(size / procsPerNode) for positive procsPerNode.
func ceilDiv(size, procsPerNode int) int {
	if size <= 0 {
		return 0
	}
	return (size + procsPerNode - 1) / procsPerNode
}
