package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/auditlog"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/defcon"
)

type staticReporter struct{}

func (staticReporter) Report() defcon.Report {
	return defcon.Report{Status: defcon.StatusDefconZero, IsActive: true}
}

type recorder struct {
	mu       sync.Mutex
	seqs     []uint64
	attempts int
	gate     chan struct{}
	blocked  chan struct{}
	fail     bool
}

func (r *recorder) send(_ context.Context, e *auditlog.Entry, _ defcon.Report) error {
	if e != nil && e.Sequence == 1 && r.gate != nil {
		close(r.blocked)
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.fail {
		return errors.New("redis down")
	}
	if e != nil {
		r.seqs = append(r.seqs, e.Sequence)
	}
	return nil
}

func (r *recorder) setFail(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fail
}

func (r *recorder) attemptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func (r *recorder) sequences() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.seqs...)
}

func appendN(t *testing.T, log *auditlog.Log, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := log.Append(context.Background(), auditlog.Record{
			Kind:      auditlog.KindActivated,
			Actor:     "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
			Timestamp: time.Unix(int64(i), 0),
		})
		require.NoError(t, err)
	}
}

func startRun(t *testing.T, p *RedisPublisher, log *auditlog.Log) (context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, log) }()
	require.Eventually(t, func() bool { return log.Subscribers() == 1 }, time.Second, time.Millisecond)
	return cancel, done
}

func TestRun_ForwardsInOrder(t *testing.T) {
	log := auditlog.New(nil)
	rec := &recorder{}
	p := NewRedisPublisher(nil, staticReporter{})
	p.send = rec.send

	cancel, done := startRun(t, p, log)
	appendN(t, log, 3)

	require.Eventually(t, func() bool { return len(rec.sequences()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []uint64{1, 2, 3}, rec.sequences())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Zero(t, log.Subscribers())
}

func TestRun_BackfillsAfterEviction(t *testing.T) {
	log := auditlog.New(nil)
	rec := &recorder{gate: make(chan struct{}), blocked: make(chan struct{})}
	p := NewRedisPublisher(nil, staticReporter{})
	p.send = rec.send
	p.buffer = 1

	cancel, done := startRun(t, p, log)
	defer func() {
		cancel()
		<-done
	}()

	appendN(t, log, 1)
	<-rec.blocked

	// Entry 2 fills the buffer, entry 3 evicts the subscriber.
	appendN(t, log, 3)
	close(rec.gate)

	require.Eventually(t, func() bool { return len(rec.sequences()) == 4 }, time.Second, time.Millisecond)
	assert.Equal(t, []uint64{1, 2, 3, 4}, rec.sequences())
}

func TestRun_RetriesFailedEntriesInOrder(t *testing.T) {
	log := auditlog.New(nil)
	rec := &recorder{fail: true}
	p := NewRedisPublisher(nil, staticReporter{})
	p.send = rec.send
	p.retry = 5 * time.Millisecond
	p.breaker = p.newBreaker(5 * time.Millisecond)

	cancel, done := startRun(t, p, log)
	defer func() {
		cancel()
		<-done
	}()

	appendN(t, log, 2)
	require.Eventually(t, func() bool { return rec.attemptCount() >= 3 }, time.Second, time.Millisecond)
	assert.Empty(t, rec.sequences())

	rec.setFail(false)
	require.Eventually(t, func() bool { return len(rec.sequences()) == 2 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []uint64{1, 2}, rec.sequences())
}

func TestRun_BreakerOpensOnRepeatedFailure(t *testing.T) {
	log := auditlog.New(nil)
	rec := &recorder{fail: true}
	p := NewRedisPublisher(nil, staticReporter{})
	p.send = rec.send
	p.retry = time.Millisecond
	p.breaker = p.newBreaker(time.Minute)

	cancel, done := startRun(t, p, log)
	defer func() {
		cancel()
		<-done
	}()

	appendN(t, log, 1)
	require.Eventually(t, func() bool { return p.breaker.State() == gobreaker.StateOpen }, time.Second, time.Millisecond)

	// Open breaker short-circuits further attempts.
	attempts := rec.attemptCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, attempts, rec.attemptCount())
	assert.Equal(t, breakerTripAfter, attempts)
}

// Requires a running Redis. Skipped if the connection fails.
func TestRedisPublisher_Integration(t *testing.T) {
	client := NewRedisClient("localhost:6379", "", 0)
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	defer func() { _ = client.Close() }()

	p := NewRedisPublisher(client, staticReporter{})
	require.NoError(t, p.Ping(ctx))
	p.channel = "defcon:audit:test"
	p.statusKey = "defcon:status:test"

	ps := client.Subscribe(ctx, p.channel)
	defer func() { _ = ps.Close() }()
	_, err := ps.Receive(ctx)
	require.NoError(t, err)

	log := auditlog.New(nil)
	cancel, done := startRun(t, p, log)
	defer func() {
		cancel()
		<-done
	}()
	appendN(t, log, 1)

	msg, err := ps.ReceiveMessage(ctx)
	require.NoError(t, err)
	var got auditlog.Entry
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, uint64(1), got.Sequence)

	status, err := client.Get(ctx, p.statusKey).Result()
	require.NoError(t, err)
	assert.Contains(t, status, `"DEFCON_ZERO"`)
}
