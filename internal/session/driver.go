// Package session is the Session Driver (component E): it consumes the
// request stream, dispatches init/invoke/finalize, and publishes
// responses, owning session-scoped state.
package session

import (
	"context"
	"fmt"

	"github.com/admire-eurohpc/malleability-manager/internal/scheduler"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// reader is the subset of broker.Stream the driver consumes requests
// from and publishes responses to.
type reader interface {
	ReadTail(ctx context.Context) (id string, fields map[string]string, err error)
	ReadAfter(ctx context.Context, lastSeenID string) (id string, fields map[string]string, err error)
	Emit(ctx context.Context, fields map[string]string) error
}

// Driver runs the [Start] -> [Await Init] -> [Ready] -> [Stopped] state
// machine for a single session, one per process lifetime.
type Driver struct {
	stream    reader
	algorithm scheduler.Algorithm
	sessionID string
}

// New builds a Driver over the given stream and algorithm. The algorithm
// must not yet be initialized; Run performs that as its first step. Each
// Driver gets its own session id, carried on every log line so a single
// process's session can be picked out of aggregated logs.
func New(stream reader, algorithm scheduler.Algorithm) *Driver {
	return &Driver{stream: stream, algorithm: algorithm, sessionID: uuid.NewString()}
}

// Run blocks until the session is finalized or hits an unrecoverable
// protocol error, consuming requests and emitting responses in lockstep.
func (d *Driver) Run(ctx context.Context) error {
	lastSeenID, err := d.start(ctx)
	if err != nil {
		return err
	}

	for {
		id, fields, err := d.stream.ReadAfter(ctx, lastSeenID)
		if err != nil {
			return fmt.Errorf("reading request stream: %w", err)
		}
		lastSeenID = id

		stop, err := d.dispatch(ctx, fields)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

// start performs the blocking tail read and the init handshake. On
// success it returns the id to resume reading from. Init failures emit
// the error response and terminate the session; the init command itself
// never acknowledges success.
func (d *Driver) start(ctx context.Context) (string, error) {
	id, fields, err := d.stream.ReadTail(ctx)
	if err != nil {
		return "", fmt.Errorf("reading request stream: %w", err)
	}

	command, ok := fields["command"]
	if !ok {
		d.emit(ctx, errorReply(`"command" expected in message but is missing`, ""))
		return "", fmt.Errorf("initialization message missing command")
	}
	if command != "init" {
		d.emit(ctx, errorReply(fmt.Sprintf("expected \"init\" as initialization command but got %s", command), ""))
		return "", fmt.Errorf("expected init command, got %s", command)
	}

	params, err := parseInit(fields)
	if err != nil {
		d.emit(ctx, errorReply(err.Error(), ""))
		return "", fmt.Errorf("init failed: %w", err)
	}
	if err := d.algorithm.Initialize(params); err != nil {
		d.emit(ctx, errorReply(err.Error(), ""))
		return "", fmt.Errorf("init failed: %w", err)
	}

	log.Info().
		Str("session_id", d.sessionID).
		Int("procs_per_node", params.ProcsPerNode).
		Int("min_required_profiles", params.MinRequiredProfiles).
		Float64("efficiency_threshold", params.EfficiencyThreshold).
		Msg("session initialized")
	return id, nil
}

// dispatch handles one Ready-state message, returning stop=true when the
// session should terminate (finalize, unknown command).
func (d *Driver) dispatch(ctx context.Context, fields map[string]string) (bool, error) {
	command, ok := fields["command"]
	if !ok {
		d.emit(ctx, errorReply(`"command" expected in message but is missing`, ""))
		return false, nil
	}

	switch command {
	case "invoke":
		jobID, numAvailableNodes, err := parseInvoke(fields)
		if err != nil {
			d.emit(ctx, errorReply(err.Error(), ""))
			return false, nil
		}
		result := d.algorithm.Schedule(ctx, jobID, numAvailableNodes)
		d.emit(ctx, scheduleReply(result))
		return false, nil

	case "finalize":
		log.Info().Str("session_id", d.sessionID).Msg("session finalized")
		return true, nil

	default:
		d.emit(ctx, errorReply(fmt.Sprintf("unknown command %s", command), ""))
		return true, nil
	}
}

func (d *Driver) emit(ctx context.Context, fields map[string]string) {
	if err := d.stream.Emit(ctx, fields); err != nil {
		log.Error().Str("session_id", d.sessionID).Err(err).Msg("failed to emit reply")
	}
}
