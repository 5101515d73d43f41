package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"seo-rules-engine/internal/observability"
)

type Options struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

// Reporter delivers impressions in the background. Record never blocks: when
// the queue is full the impression is dropped and counted.
type Reporter struct {
	sink    Sink
	queue   chan Impression
	timeout time.Duration
	workers int
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	sent    atomic.Int64
}

func NewReporter(sink Sink, opts Options) *Reporter {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.Workers * 64
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 2 * time.Second
	}
	return &Reporter{
		sink:    sink,
		queue:   make(chan Impression, opts.QueueSize),
		timeout: opts.SendTimeout,
		workers: opts.Workers,
	}
}

// Start launches the workers. They exit when ctx is done or Close drains the
// queue.
func (r *Reporter) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
}

// Record enqueues imp and returns immediately.
func (r *Reporter) Record(imp Impression) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.queue <- imp:
		return true
	default:
		n := r.dropped.Add(1)
		observability.ImpressionsTotal.WithLabelValues("dropped").Inc()
		log.Warn().Str("rule_id", imp.RuleID).Int64("total_dropped", n).Msg("impression queue full; dropping")
		return false
	}
}

// Close stops accepting work and waits for queued impressions to be sent.
func (r *Reporter) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Stats reports delivered and dropped counts.
func (r *Reporter) Stats() (sent, dropped int64) {
	return r.sent.Load(), r.dropped.Load()
}

func (r *Reporter) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case imp, ok := <-r.queue:
			if !ok {
				return
			}
			r.send(ctx, imp)
		}
	}
}

func (r *Reporter) send(ctx context.Context, imp Impression) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("impression sink panicked")
		}
	}()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.sink.Send(ctx, imp); err != nil {
		observability.ImpressionsTotal.WithLabelValues("failed").Inc()
		log.Debug().Err(err).Str("rule_id", imp.RuleID).Msg("impression not delivered")
		return
	}
	r.sent.Add(1)
	observability.ImpressionsTotal.WithLabelValues("sent").Inc()
}
