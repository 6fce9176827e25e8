// Package poller watches a push transaction from the collaborator side until it
// reaches a terminal state or the polling budget runs out.
package poller

import (
	"context"
	"sync"
	"time"

	"stk-push-gateway/internal/core/domain"
	"stk-push-gateway/pkg/clock"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is the observer's view of a watch.
type State string

const (
	StatePolling   State = "polling"
	StateSuccess   State = "success"
	StateFailure   State = "failure"
	StateTimeout   State = "timeout"
	StateCancelled State = "cancelled"
)

// IsFinal reports whether no further reads will happen.
func (s State) IsFinal() bool {
	return s != StatePolling
}

// StatusReader fetches the current status of a transaction. attempt starts at 1.
type StatusReader interface {
	ReadStatus(ctx context.Context, id uuid.UUID, attempt int) (domain.TransactionStatus, error)
}

// Config bounds a watch. The cumulative timeout is MaxAttempts * Interval.
type Config struct {
	MaxAttempts int
	Interval    time.Duration
}

// Timeout returns the total time a watch may stay in polling.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.MaxAttempts) * c.Interval
}

// Result is delivered once per watch, when it leaves polling.
type Result struct {
	TransactionID uuid.UUID
	State         State
	Status        domain.TransactionStatus // last status read, empty if none succeeded
	Attempts      int
	Err           error // last read error, if any
}

// Poller schedules status reads on a clock. It never writes to the transaction.
type Poller struct {
	reader StatusReader
	clock  clock.Clock
	cfg    Config
	log    zerolog.Logger
}

func New(reader StatusReader, clk clock.Clock, cfg Config, log zerolog.Logger) *Poller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Poller{reader: reader, clock: clk, cfg: cfg, log: log}
}

// Watch starts polling id. The first read happens one interval from now.
// onDone, if set, runs exactly once when the watch leaves polling.
func (p *Poller) Watch(id uuid.UUID, onDone func(Result)) *Watch {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watch{
		poller: p,
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		state:  StatePolling,
		done:   make(chan struct{}),
		onDone: onDone,
		log:    p.log.With().Str("tx_id", id.String()).Logger(),
	}
	w.mu.Lock()
	w.scheduleLocked()
	w.mu.Unlock()
	return w
}

// Watch is one running observation.
type Watch struct {
	poller *Poller
	id     uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc
	onDone func(Result)
	log    zerolog.Logger

	mu       sync.Mutex
	state    State
	attempts int
	status   domain.TransactionStatus
	lastErr  error
	timer    clock.Timer
	done     chan struct{}
}

// State returns the current state.
func (w *Watch) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Done is closed when the watch leaves polling.
func (w *Watch) Done() <-chan struct{} {
	return w.done
}

// Result returns the current snapshot.
func (w *Watch) Result() Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resultLocked()
}

// Cancel stops scheduling and aborts an in-flight read. The transaction itself is untouched.
func (w *Watch) Cancel() {
	w.mu.Lock()
	if w.state.IsFinal() {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	res := w.finishLocked(StateCancelled)
	w.mu.Unlock()
	w.notify(res)
}

func (w *Watch) scheduleLocked() {
	w.timer = w.poller.clock.AfterFunc(w.poller.cfg.Interval, w.tick)
}

func (w *Watch) tick() {
	w.mu.Lock()
	if w.state.IsFinal() {
		w.mu.Unlock()
		return
	}
	w.attempts++
	attempt := w.attempts
	w.mu.Unlock()

	status, err := w.poller.reader.ReadStatus(w.ctx, w.id, attempt)

	w.mu.Lock()
	if w.state.IsFinal() {
		w.mu.Unlock()
		return
	}

	next := StatePolling
	if err != nil {
		w.lastErr = err
		w.log.Warn().Err(err).Int("attempt", attempt).Msg("status read failed")
	} else {
		w.status = status
		switch status {
		case domain.TransactionStatusCompleted:
			next = StateSuccess
		case domain.TransactionStatusFailed, domain.TransactionStatusCancelled:
			next = StateFailure
		}
	}
	if next == StatePolling && attempt >= w.poller.cfg.MaxAttempts {
		next = StateTimeout
	}

	if next == StatePolling {
		w.scheduleLocked()
		w.mu.Unlock()
		return
	}
	res := w.finishLocked(next)
	w.mu.Unlock()
	w.notify(res)
}

func (w *Watch) finishLocked(state State) Result {
	w.state = state
	w.cancel()
	close(w.done)
	w.log.Debug().Str("state", string(state)).Int("attempts", w.attempts).Msg("watch finished")
	return w.resultLocked()
}

func (w *Watch) resultLocked() Result {
	return Result{
		TransactionID: w.id,
		State:         w.state,
		Status:        w.status,
		Attempts:      w.attempts,
		Err:           w.lastErr,
	}
}

func (w *Watch) notify(res Result) {
	if w.onDone != nil {
		w.onDone(res)
	}
}
