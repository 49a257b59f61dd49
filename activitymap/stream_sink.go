package activitymap

import (
	"context"
	"encoding/json"

	accounts "github.com/goliatone/go-accounts"
	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream account activity is appended to.
const DefaultStream = "accounts:activity"

// StreamSink is an accounts.ActivitySink appending normalized events to a
// Redis stream. Each entry carries the verb, outcome, identity and actor ids
// as fields for XRANGE filtering, plus the whole record as JSON.
type StreamSink struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

var _ accounts.ActivitySink = (*StreamSink)(nil)

// StreamSinkOption customizes the sink.
type StreamSinkOption func(*StreamSink)

// WithStream overrides the stream key.
func WithStream(stream string) StreamSinkOption {
	return func(s *StreamSink) {
		if stream != "" {
			s.stream = stream
		}
	}
}

// WithMaxLen caps the stream length, trimming approximately.
func WithMaxLen(n int64) StreamSinkOption {
	return func(s *StreamSink) {
		s.maxLen = n
	}
}

func NewStreamSink(client redis.Cmdable, opts ...StreamSinkOption) *StreamSink {
	s := &StreamSink{
		client: client,
		stream: DefaultStream,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *StreamSink) Record(ctx context.Context, event accounts.ActivityEvent) error {
	record := Normalize(event)

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"verb":        record.Verb,
			"outcome":     string(record.Outcome),
			"identity_id": record.IdentityID,
			"actor_id":    record.ActorID,
			"payload":     string(payload),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	return s.client.XAdd(ctx, args).Err()
}
