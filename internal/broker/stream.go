// Package broker wraps the Redis streams the session driver consumes
// requests from and publishes responses to.
package broker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	// RequestStream is the inbound request stream name.
	RequestStream = "malleability_manager"
	// ReplyStream is the outbound response stream name.
	ReplyStream = "intelligent_controller"

	// tailID is the XREAD id sentinel meaning "only messages arriving
	// after this point".
	tailID = "$"
)

// Stream is a single-consumer reader/writer pair over the two streams.
// Reads are blocking with no timeout; each call returns exactly one
// message.
type Stream struct {
	client *redis.Client
}

// New wraps an already-configured *redis.Client.
func New(client *redis.Client) *Stream {
	return &Stream{client: client}
}

// ReadTail performs the session-start blocking read from the live tail
// of RequestStream and returns the message fields and its id.
func (s *Stream) ReadTail(ctx context.Context) (id string, fields map[string]string, err error) {
	return s.read(ctx, tailID)
}

// ReadAfter performs a blocking read of RequestStream for the next
// message after lastSeenID.
func (s *Stream) ReadAfter(ctx context.Context, lastSeenID string) (id string, fields map[string]string, err error) {
	return s.read(ctx, lastSeenID)
}

func (s *Stream) read(ctx context.Context, after string) (string, map[string]string, error) {
	res, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{RequestStream, after},
		Count:   1,
		Block:   0,
	}).Result()
	if err != nil {
		return "", nil, fmt.Errorf("reading %s: %w", RequestStream, err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return "", nil, fmt.Errorf("empty read result from %s", RequestStream)
	}

	msg := res[0].Messages[0]
	fields := make(map[string]string, len(msg.Values))
	for k, v := range msg.Values {
		fields[k] = fmt.Sprintf("%v", v)
	}
	return msg.ID, fields, nil
}

// Emit appends a flat map of string fields to ReplyStream.
func (s *Stream) Emit(ctx context.Context, fields map[string]string) error {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: ReplyStream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("appending to %s: %w", ReplyStream, err)
	}
	return nil
}
