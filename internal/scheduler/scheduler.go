// Package scheduler defines the narrow capability surface a malleability
// decision algorithm exposes to the session driver, and the one concrete
// I/O-intensity-aware implementation.
package scheduler

import (
	"context"
	"fmt"

	"github.com/admire-eurohpc/malleability-manager/internal/accountant"
	"github.com/admire-eurohpc/malleability-manager/internal/intensity"
	"github.com/admire-eurohpc/malleability-manager/internal/selector"
	"github.com/admire-eurohpc/malleability-manager/internal/telemetry"
)

// Algorithm is the capability surface every malleability decision
// strategy implements: one-time initialization from the session's init
// message, then repeated independent scheduling calls. Alternate
// strategies can be added later as further implementations of this
// interface without touching the session driver.
type Algorithm interface {
	Initialize(params Params) error
	Schedule(ctx context.Context, jobID string, numAvailableNodes int) Result
}

// Params are the session parameters fixed at init and immutable
// thereafter.
type Params struct {
	ProcsPerNode        int
	MinRequiredProfiles int
	EfficiencyThreshold float64
}

// Validate enforces that procs_per_node is positive and at least one
// profile is required.
func (p Params) Validate() error {
	if p.ProcsPerNode < 1 {
		return fmt.Errorf("procs_per_node must be at least 1, got %d", p.ProcsPerNode)
	}
	if p.MinRequiredProfiles < 1 {
		return fmt.Errorf("min_required_profiles must be at least 1, got %d", p.MinRequiredProfiles)
	}
	return nil
}

// Result is the outcome of a schedule call.
type Result struct {
	Retain bool
	Modify bool
	Delta  int
	Err    error
	JobID  string
}

// proxy is the subset of telemetry.Client the scheduler needs.
type proxy interface {
	PendingJobs(ctx context.Context) (map[string]telemetry.PendingJob, error)
	RunningJobs(ctx context.Context) (map[string]telemetry.RunningJob, error)
	Profiles(ctx context.Context) ([]telemetry.Profile, error)
}

// IOIntensityScheduler is the one concrete Algorithm: it fuses telemetry,
// profiles and live queue state into a single scalar-comparison decision.
type IOIntensityScheduler struct {
	proxy       proxy
	calc        *intensity.Calculator
	accountant  *accountant.Accountant
	params      Params
	initialized bool
	figures     accountant.Figures
}

// New builds a scheduler against the given telemetry client. The
// returned scheduler is not usable until Initialize succeeds.
func New(proxy proxy, calc *intensity.Calculator) *IOIntensityScheduler {
	return &IOIntensityScheduler{
		proxy:      proxy,
		calc:       calc,
		accountant: accountant.New(calc),
	}
}

// Initialize freezes the session parameters. It must succeed before any
// Schedule call.
func (s *IOIntensityScheduler) Initialize(params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	s.params = params
	s.initialized = true
	return nil
}

// Schedule answers whether jobID should keep its current node count or
// grow/shrink, given numAvailableNodes free nodes right now.
func (s *IOIntensityScheduler) Schedule(ctx context.Context, jobID string, numAvailableNodes int) Result {
	if !s.initialized {
		return Result{Err: fmt.Errorf("I/O-intensity-aware scheduler has not been initialized")}
	}
	if numAvailableNodes < 1 {
		return Result{Err: fmt.Errorf("number of available nodes can not be less than 1")}
	}

	pending, err := s.proxy.PendingJobs(ctx)
	if err != nil {
		return Result{Err: fmt.Errorf("fetching pending jobs: %w", err)}
	}
	running, err := s.proxy.RunningJobs(ctx)
	if err != nil {
		return Result{Err: fmt.Errorf("fetching running jobs: %w", err)}
	}
	if len(running) == 0 {
		return Result{Err: fmt.Errorf("list of running jobs is empty")}
	}
	profiles, err := s.proxy.Profiles(ctx)
	if err != nil {
		return Result{Err: fmt.Errorf("fetching profiles: %w", err)}
	}

	located, err := s.accountant.Update(ctx, &s.figures, pending, running, jobID, profiles, s.params.ProcsPerNode)
	if err != nil {
		return Result{Err: fmt.Errorf("updating io intensities: %w", err)}
	}
	if located == nil {
		return Result{Err: fmt.Errorf("job id not found in running jobs"), JobID: jobID}
	}

	sel := selector.New(s.calc, s.params.ProcsPerNode, s.params.MinRequiredProfiles, s.params.EfficiencyThreshold)
	decision, err := sel.Select(ctx, *located, profiles, numAvailableNodes, len(running), s.figures)
	if err != nil {
		return Result{Err: fmt.Errorf("selecting configuration: %w", err)}
	}

	if decision.Modify {
		return Result{Modify: true, Delta: decision.Delta, JobID: jobID}
	}
	return Result{Retain: true, JobID: jobID}
}
