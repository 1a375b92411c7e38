// Package events feeds committed audit entries to off-chain indexers over
// Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/auditlog"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/defcon"
)

const (
	DefaultChannel   = "defcon:audit"
	DefaultStatusKey = "defcon:status"

	subscriptionBuffer = 256
	retryInterval      = 5 * time.Second
	breakerTimeout     = 30 * time.Second
	breakerTripAfter   = 5
)

// Reporter supplies the status document stored alongside each entry.
type Reporter interface {
	Report() defcon.Report
}

// RedisPublisher publishes every committed audit entry on a Redis channel
// and keeps the latest status document under a key. It never writes back
// into the state machine, so Redis outages only delay the feed: an entry
// that fails to publish is retried, in order, before anything after it.
type RedisPublisher struct {
	client    *redis.Client
	reporter  Reporter
	channel   string
	statusKey string
	logger    *slog.Logger
	buffer    int
	retry     time.Duration
	breaker   *gobreaker.CircuitBreaker

	send func(ctx context.Context, e *auditlog.Entry, r defcon.Report) error
}

// NewRedisPublisher creates a publisher on an existing client.
func NewRedisPublisher(client *redis.Client, reporter Reporter) *RedisPublisher {
	p := &RedisPublisher{
		client:    client,
		reporter:  reporter,
		channel:   DefaultChannel,
		statusKey: DefaultStatusKey,
		logger:    slog.Default().With("component", "events"),
		buffer:    subscriptionBuffer,
		retry:     retryInterval,
	}
	p.breaker = p.newBreaker(breakerTimeout)
	p.send = p.publish
	return p
}

// newBreaker opens after breakerTripAfter consecutive failures and probes
// again after timeout.
func (p *RedisPublisher) newBreaker(timeout time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-publisher",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= breakerTripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Ping checks connectivity.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Run forwards entries from log until ctx is cancelled. If the publisher
// falls behind and its subscription is evicted, it resubscribes and
// backfills the missed range from the log, so the feed has no gaps.
func (p *RedisPublisher) Run(ctx context.Context, log *auditlog.Log) error {
	last := log.Sequence()
	p.forward(ctx, nil, last)

	retry := time.NewTicker(p.retry)
	defer retry.Stop()

	for {
		sub := log.Subscribe(p.buffer)
		last = p.catchUp(ctx, log, last)

		evicted := false
		for !evicted {
			select {
			case <-ctx.Done():
				sub.Close()
				return ctx.Err()
			case e, ok := <-sub.C:
				if !ok {
					evicted = true
					continue
				}
				if e.Sequence > last+1 {
					last = p.catchUp(ctx, log, last)
					continue
				}
				last = p.forward(ctx, e, last)
			case <-retry.C:
				if last < log.Sequence() {
					last = p.catchUp(ctx, log, last)
				}
			}
		}
		p.logger.WarnContext(ctx, "subscription evicted, backfilling", "last_sequence", last)
	}
}

// catchUp publishes every entry after last in order, stopping at the first
// failure. It returns the new high-water mark.
func (p *RedisPublisher) catchUp(ctx context.Context, log *auditlog.Log, last uint64) uint64 {
	for _, e := range log.Query(auditlog.Filter{FromSeq: last + 1}) {
		next := p.forward(ctx, e, last)
		if next == last {
			break
		}
		last = next
	}
	return last
}

// forward publishes e unless it was already published, and returns the new
// high-water mark, which only moves on success. A nil e only refreshes the
// status key.
func (p *RedisPublisher) forward(ctx context.Context, e *auditlog.Entry, last uint64) uint64 {
	if e != nil && e.Sequence <= last {
		return last
	}
	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.send(ctx, e, p.reporter.Report())
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		p.logger.DebugContext(ctx, "publish skipped, breaker open")
		return last
	case err != nil:
		p.logger.ErrorContext(ctx, "publish failed", "error", err)
		return last
	}
	if e == nil {
		return last
	}
	return e.Sequence
}

func (p *RedisPublisher) publish(ctx context.Context, e *auditlog.Entry, r defcon.Report) error {
	status, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	var entry []byte
	if e != nil {
		if entry, err = json.Marshal(e); err != nil {
			return fmt.Errorf("marshal entry %d: %w", e.Sequence, err)
		}
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.statusKey, status, 0)
		if entry != nil {
			pipe.Publish(ctx, p.channel, entry)
		}
		return nil
	})
	if err != nil {
		if e != nil {
			return fmt.Errorf("redis publish entry %d: %w", e.Sequence, err)
		}
		return fmt.Errorf("redis set status: %w", err)
	}
	return nil
}
