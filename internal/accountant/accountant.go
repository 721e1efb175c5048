// Package accountant aggregates per-job I/O intensities into
// workload-wide and running-system averages for a scheduling tick.
package accountant

import (
	"context"

	"github.com/admire-eurohpc/malleability-manager/internal/telemetry"
)

// scalarSource is the subset of intensity.Calculator the accountant needs.
type scalarSource interface {
	Scalar(ctx context.Context, jobID string, size float64) (*float64, error)
}

// Figures holds the session-scoped aggregates recomputed on every
// scheduling request. There is no cross-request carryover.
type Figures struct {
	WorkloadBW          float64
	SystemBW            float64
	WorkloadIOIntensity float64
	SystemIOIntensity   float64
}

// Accountant mutates Figures in place from the current pending/running
// job snapshot and the profile catalog.
type Accountant struct {
	calc scalarSource
}

// New builds an Accountant against the given intensity calculator.
func New(calc scalarSource) *Accountant {
	return &Accountant{calc: calc}
}

// Update resets and recomputes figures from the pending and running job
// snapshots, the profile catalog, and locates the running record for
// triggeringJobID. It returns that record, or nil if no running job
// matches. procsPerNode is the session's fixed processes-per-node ratio.
func (a *Accountant) Update(ctx context.Context, figures *Figures, pending map[string]telemetry.PendingJob,
	running map[string]telemetry.RunningJob, triggeringJobID string, profiles []telemetry.Profile,
	procsPerNode int) (*telemetry.RunningJob, error) {

	figures.WorkloadBW = 0
	figures.SystemBW = 0

	for _, job := range pending {
		command := job.Command()
		if command == telemetry.NullCommand {
			continue
		}
		queryJobID, ok := firstProfileFor(profiles, command)
		if !ok {
			continue
		}
		size := job.Nodes * procsPerNode
		jobIntensity, err := a.calc.Scalar(ctx, queryJobID, float64(size))
		if err != nil {
			return nil, err
		}
		if jobIntensity == nil {
			continue
		}
		figures.WorkloadBW += *jobIntensity
	}

	var located *telemetry.RunningJob
	for jobID, job := range running {
		if jobID == triggeringJobID {
			job := job
			located = &job
		}
		command := job.Command
		if command == telemetry.NullCommand {
			continue
		}
		queryJobID, ok := firstProfileFor(profiles, command)
		if !ok {
			continue
		}
		jobIntensity, err := a.calc.Scalar(ctx, queryJobID, float64(job.Size))
		if err != nil {
			return nil, err
		}
		if jobIntensity == nil {
			continue
		}
		figures.WorkloadBW += *jobIntensity
		figures.SystemBW += *jobIntensity
	}

	if len(pending) > 0 {
		figures.WorkloadIOIntensity = figures.WorkloadBW / float64(len(pending))
	} else {
		figures.WorkloadIOIntensity = 0
	}
	if len(running) > 0 {
		figures.SystemIOIntensity = figures.SystemBW / float64(len(running))
	} else {
		figures.SystemIOIntensity = 0
	}

	return located, nil
}

// firstProfileFor returns the historical job id of the first profile in
// iteration order whose command matches, i.e. the proxy's catalog order
// is the tie-break.
func firstProfileFor(profiles []telemetry.Profile, command string) (string, bool) {
	for _, profile := range profiles {
		if profile.Command == command {
			return profile.JobID, true
		}
	}
	return "", false
}
