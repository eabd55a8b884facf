package session

import (
	"context"
	"errors"
	"time"

	cerr "github.com/tturner/cipsession/internal/errors"
)

func asErr(err error, target **cerr.Error) bool {
	return errors.As(err, target)
}

// heartbeatLoop is the session's keep-alive task. It holds only the session
// id and its control channels; the session struct is re-fetched from the
// table on every tick, and a miss (session closed and removed) exits the
// loop silently.
func (o *Orchestrator) heartbeatLoop(id string, stop <-chan struct{}, done chan<- struct{}) {
	interval := o.cfg.HeartbeatInterval()
	defer close(done)

	for {
		o.sessionsMu.Lock()
		s, ok := o.sessions[id]
		o.sessionsMu.Unlock()
		if !ok {
			return
		}

		// Cancellation is cooperative: the stop signal is checked at the
		// start of every wait.
		select {
		case <-stop:
			return
		case <-time.After(interval):
		}

		if err := o.probe(s); err != nil {
			o.metrics.HeartbeatFailure()
			s.mu.Lock()
			s.hbFailures++
			failures := s.hbFailures
			s.mu.Unlock()
			if o.logger != nil {
				o.logger.Verbose("session %s heartbeat failure %d: %v", id, failures, err)
			}

			if failures >= o.cfg.HeartbeatFailureLimit() {
				if !o.reestablish(s) {
					// Retry budget exhausted: mark the session closed so
					// subsequent operations fail with SessionClosed.
					o.closeExhausted(s)
					return
				}
				s.mu.Lock()
				s.hbFailures = 0
				s.mu.Unlock()
			}
			continue
		}

		s.mu.Lock()
		s.hbFailures = 0
		s.mu.Unlock()
	}
}

// probe issues one keep-alive exchange through the session's pooled
// connection, serialized against external operations.
func (o *Orchestrator) probe(s *session) error {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.HeartbeatTimeout())
	defer cancel()

	lease, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release(ctx)

	if err := lease.Conn.Probe(ctx, o.cfg.KeepAlivePattern()); err != nil {
		return err
	}
	s.mu.Lock()
	last := s.lastStatus
	s.mu.Unlock()
	s.markActivity(last, lease.Conn)
	return nil
}

// reestablish retries connection establishment with exponential backoff
// (200 ms doubling, capped at 3.2 s by default). Returns false when the
// retry budget is exhausted.
func (o *Orchestrator) reestablish(s *session) bool {
	backoff := o.cfg.RetryBackoffBase()
	for attempt := 1; attempt <= o.cfg.RetryLimit(); attempt++ {
		o.metrics.Reestablish()

		select {
		case <-s.hbStop:
			return true
		case <-time.After(backoff):
		}
		backoff *= 2
		if limit := o.cfg.RetryBackoffCap(); backoff > limit {
			backoff = limit
		}

		err := func() error {
			s.dispatchMu.Lock()
			defer s.dispatchMu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), o.cfg.OperationTimeout())
			defer cancel()

			lease, err := s.pool.Acquire(ctx)
			if err != nil {
				return err
			}
			defer lease.Release(ctx)
			return o.ensureConnected(ctx, lease.Conn)
		}()
		if err == nil {
			if o.logger != nil {
				o.logger.Verbose("session %s re-established after %d attempt(s)", s.id, attempt)
			}
			return true
		}
		if o.logger != nil {
			o.logger.Verbose("session %s re-establish attempt %d failed: %v", s.id, attempt, err)
		}
	}
	return false
}

// closeExhausted marks a session closed after re-establishment gave up.
// The session stays in the table so subsequent operations fail with
// SessionClosed rather than UnknownSession; an explicit Close removes it.
func (o *Orchestrator) closeExhausted(s *session) {
	s.mu.Lock()
	wasClosed := s.closed
	s.closed = true
	s.connSnapshot.Connected = false
	s.mu.Unlock()

	if !wasClosed {
		o.metrics.SessionClosed()
		if o.logger != nil {
			o.logger.Error("session %s closed: connection could not be re-established", s.id)
		}
	}
}
