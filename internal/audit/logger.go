package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dativo-io/superadvisor/internal/advisor"
	"github.com/dativo-io/superadvisor/internal/validate"
)

// Logger persists outcomes asynchronously through a bounded queue and a
// fixed worker pool. Submit never blocks the response path and failures
// never reach the caller; they are counted and logged instead.
type Logger struct {
	store   *Store
	jobs    chan *Record
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewLogger starts the worker pool. queueSize bounds in-flight records;
// workers drains them.
func NewLogger(store *Store, queueSize, workers int) *Logger {
	if queueSize <= 0 {
		queueSize = 64
	}
	if workers <= 0 {
		workers = 2
	}
	l := &Logger{store: store, jobs: make(chan *Record, queueSize)}
	for i := 0; i < workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}
	return l
}

// Submit builds the governance record and enqueues it. A full queue drops
// the record with a log line rather than stalling the query response.
func (l *Logger) Submit(outcome *advisor.Outcome, state *advisor.AgentState) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.dropped.Add(1)
		return
	}
	rec := buildRecord(outcome, state)
	select {
	case l.jobs <- rec:
	default:
		l.dropped.Add(1)
		log.Warn().
			Str("correlation_id", rec.CorrelationID).
			Msg("audit_queue_full_record_dropped")
	}
}

// Close stops intake and drains outstanding records, bounded by ctx.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.jobs)
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit drain interrupted: %w", ctx.Err())
	}
}

// Dropped returns how many records were discarded on a full queue.
func (l *Logger) Dropped() int64 { return l.dropped.Load() }

// Failed returns how many records failed to persist.
func (l *Logger) Failed() int64 { return l.failed.Load() }

func (l *Logger) worker() {
	defer l.wg.Done()
	for rec := range l.jobs {
		l.persist(rec)
	}
}

// persist writes one record. Errors and panics stay inside the worker.
func (l *Logger) persist(rec *Record) {
	defer func() {
		if r := recover(); r != nil {
			l.failed.Add(1)
			log.Error().
				Str("correlation_id", rec.CorrelationID).
				Interface("panic", r).
				Msg("audit_write_panic")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.store.Append(ctx, rec); err != nil {
		l.failed.Add(1)
		log.Error().
			Str("correlation_id", rec.CorrelationID).
			Err(err).
			Msg("audit_write_failed")
		return
	}
	log.Debug().
		Str("event_id", rec.EventID).
		Str("correlation_id", rec.CorrelationID).
		Msg("audit_record_written")
}

// buildRecord flattens a terminal outcome into the governance row. The
// restored answer is persisted only here, never to tracing or metrics.
func buildRecord(outcome *advisor.Outcome, state *advisor.AgentState) *Record {
	rec := &Record{
		CorrelationID: state.CorrelationID,
		SessionID:     state.Query.SessionID,
		MemberID:      state.Query.MemberID,
		Country:       state.Query.Country,
		QueryText:     state.Query.Text,
		State:         string(outcome.State),
		Answer:        outcome.Answer,
		Attempts:      state.AttemptCount,
		LatencyMS:     outcome.LatencyMS,
	}
	if outcome.Cost != nil {
		rec.TotalCostUSD = outcome.Cost.TotalUSD
		if b, err := json.Marshal(outcome.Cost); err == nil {
			rec.CostBreakdown = string(b)
		}
	}
	if outcome.Validation != nil {
		rec.Passed = outcome.Validation.Passed
		rec.Confidence = outcome.Validation.Confidence
		rec.ValidationMode = outcome.Validation.Mode
	}
	if last := lastVerdict(state); last != nil {
		rec.Violations = last.Violations
	}
	for _, tr := range state.ToolResults {
		rec.ToolsCalled = append(rec.ToolsCalled, tr.ToolName)
	}
	for _, cit := range outcome.Citations {
		rec.Citations = append(rec.Citations, cit.ID)
	}
	return rec
}

func lastVerdict(state *advisor.AgentState) *validate.Verdict {
	if len(state.Attempts) == 0 {
		return nil
	}
	return state.Attempts[len(state.Attempts)-1].Verdict
}
