// Package stream publishes audit events to a Redis Stream so external
// consumers (alerting, long-term archival) can tail the approval trail.
// Publishing is best-effort; a bad Redis URL degrades to a noop sink.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/groupguard/quorum/internal/audit"
)

type Sink struct {
	cli          *redis.Client
	stream       string
	maxLen       int64
	maxLenApprox bool
}

// New connects to Redis and returns a stream sink. On a malformed URL it logs
// and returns a noop so audit wiring never blocks startup.
func New(url, stream string, maxLen int64, approx bool) audit.Sink {
	opt, err := redis.ParseURL(url)
	if err != nil {
		slog.Warn("audit stream disabled: bad redis url", "error", err)
		return audit.Noop{}
	}
	if stream == "" {
		stream = "quorum:audit"
	}
	return &Sink{cli: redis.NewClient(opt), stream: stream, maxLen: maxLen, maxLenApprox: approx}
}

func (s *Sink) Close() error { return s.cli.Close() }

// Record implements audit.Sink. Events are stored as a single JSON field so
// the record schema can evolve without stream migrations.
func (s *Sink) Record(ev audit.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(ev)
	args := &redis.XAddArgs{Stream: s.stream, Values: map[string]any{"data": string(b)}}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = s.maxLenApprox
	}
	return s.cli.XAdd(ctx, args).Err()
}
