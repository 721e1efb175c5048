package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/admire-eurohpc/malleability-manager/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader replays a fixed sequence of request-stream messages and
// records every message emitted on the reply stream, in order.
type fakeReader struct {
	messages []map[string]string
	next     int
	emitted  []map[string]string
}

func (f *fakeReader) ReadTail(ctx context.Context) (string, map[string]string, error) {
	return f.pop()
}

func (f *fakeReader) ReadAfter(ctx context.Context, lastSeenID string) (string, map[string]string, error) {
	return f.pop()
}

func (f *fakeReader) pop() (string, map[string]string, error) {
	if f.next >= len(f.messages) {
		return "", nil, fmt.Errorf("no more fixture messages")
	}
	id := fmt.Sprintf("%d-0", f.next)
	msg := f.messages[f.next]
	f.next++
	return id, msg, nil
}

func (f *fakeReader) Emit(ctx context.Context, fields map[string]string) error {
	f.emitted = append(f.emitted, fields)
	return nil
}

// fakeAlgorithm is a scripted scheduler.Algorithm: Initialize succeeds or
// fails per initErr, and Schedule returns results from a fixed queue
// keyed by call order.
type fakeAlgorithm struct {
	initErr   error
	results   []scheduler.Result
	nextCall  int
	initCalls []scheduler.Params
}

func (f *fakeAlgorithm) Initialize(params scheduler.Params) error {
	f.initCalls = append(f.initCalls, params)
	return f.initErr
}

func (f *fakeAlgorithm) Schedule(ctx context.Context, jobID string, numAvailableNodes int) scheduler.Result {
	if f.nextCall >= len(f.results) {
		return scheduler.Result{Err: fmt.Errorf("no scripted result for call %d", f.nextCall)}
	}
	r := f.results[f.nextCall]
	f.nextCall++
	return r
}

// TestDriverInitFailsOnMissingField is scenario S1: init is missing a
// required field, and the session terminates without ever reaching Ready.
func TestDriverInitFailsOnMissingField(t *testing.T) {
	reader := &fakeReader{messages: []map[string]string{
		{"command": "init", "procs_per_node": "4", "min_required_profiles": "3"},
	}}
	alg := &fakeAlgorithm{}
	d := New(reader, alg)

	err := d.Run(context.Background())
	require.Error(t, err)
	require.Len(t, reader.emitted, 1)
	assert.Equal(t, "error", reader.emitted[0]["result"])
	assert.Contains(t, reader.emitted[0]["message"], "efficiency_threshold")
	assert.Empty(t, alg.initCalls)
}

// TestDriverInvokeBeforeInitIsUnreachable is scenario S2: an invoke sent as
// the first message is rejected as a failed init handshake, so it is never
// dispatched to the algorithm — Run emits one error and returns, confirming
// the driver never dispatches past a rejected handshake.
func TestDriverInvokeBeforeInitIsUnreachable(t *testing.T) {
	reader := &fakeReader{messages: []map[string]string{
		{"command": "invoke", "job_id": "j1", "num_available_nodes": "8"},
	}}
	alg := &fakeAlgorithm{}
	d := New(reader, alg)

	err := d.Run(context.Background())
	require.Error(t, err)
	require.Len(t, reader.emitted, 1)
	assert.Equal(t, "error", reader.emitted[0]["result"])
	assert.Contains(t, reader.emitted[0]["message"], "init")
	assert.Equal(t, 0, alg.nextCall)
}

// TestDriverSuccessfulInitEmitsNothing confirms the init handshake never
// acknowledges success on the reply stream.
func TestDriverSuccessfulInitEmitsNothing(t *testing.T) {
	reader := &fakeReader{messages: []map[string]string{
		{"command": "init", "procs_per_node": "4", "min_required_profiles": "3", "efficiency_threshold": "0.1"},
		{"command": "finalize"},
	}}
	alg := &fakeAlgorithm{}
	d := New(reader, alg)

	err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, reader.emitted)
	require.Len(t, alg.initCalls, 1)
	assert.Equal(t, 4, alg.initCalls[0].ProcsPerNode)
}

// TestDriverFinalizeStopsWithoutReply is scenario S6: finalize terminates
// the session cleanly with no reply emitted.
func TestDriverFinalizeStopsWithoutReply(t *testing.T) {
	reader := &fakeReader{messages: []map[string]string{
		{"command": "init", "procs_per_node": "4", "min_required_profiles": "3", "efficiency_threshold": "0.1"},
		{"command": "invoke", "job_id": "j1", "num_available_nodes": "8"},
		{"command": "finalize"},
	}}
	alg := &fakeAlgorithm{results: []scheduler.Result{
		{Retain: true, JobID: "j1"},
	}}
	d := New(reader, alg)

	err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, reader.emitted, 1)
	assert.Equal(t, "retain_configuration", reader.emitted[0]["result"])
}

// TestDriverPreservesReplyOrder is invariant 8: replies are emitted in the
// same order the triggering invoke messages were consumed, each carrying
// its own job id.
func TestDriverPreservesReplyOrder(t *testing.T) {
	reader := &fakeReader{messages: []map[string]string{
		{"command": "init", "procs_per_node": "4", "min_required_profiles": "3", "efficiency_threshold": "0.1"},
		{"command": "invoke", "job_id": "j1", "num_available_nodes": "8"},
		{"command": "invoke", "job_id": "j2", "num_available_nodes": "8"},
		{"command": "invoke", "job_id": "j3", "num_available_nodes": "8"},
		{"command": "finalize"},
	}}
	alg := &fakeAlgorithm{results: []scheduler.Result{
		{Retain: true, JobID: "j1"},
		{Modify: true, Delta: 4, JobID: "j2"},
		{Retain: true, JobID: "j3"},
	}}
	d := New(reader, alg)

	err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, reader.emitted, 3)
	assert.Equal(t, "j1", reader.emitted[0]["job_id"])
	assert.Equal(t, "j2", reader.emitted[1]["job_id"])
	assert.Equal(t, "4", reader.emitted[1]["delta"])
	assert.Equal(t, "j3", reader.emitted[2]["job_id"])
}

// TestDriverUnknownCommandTerminates confirms an unrecognized command in
// the Ready state emits an error reply and stops the session.
func TestDriverUnknownCommandTerminates(t *testing.T) {
	reader := &fakeReader{messages: []map[string]string{
		{"command": "init", "procs_per_node": "4", "min_required_profiles": "3", "efficiency_threshold": "0.1"},
		{"command": "reconfigure"},
	}}
	alg := &fakeAlgorithm{}
	d := New(reader, alg)

	err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, reader.emitted, 1)
	assert.Equal(t, "error", reader.emitted[0]["result"])
	assert.Contains(t, reader.emitted[0]["message"], "reconfigure")
}
