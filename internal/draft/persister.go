package draft

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSaveDelay is how long keystrokes are coalesced before a draft is written.
const DefaultSaveDelay = 500 * time.Millisecond

// Timer is the part of *time.Timer the persister relies on.
type Timer interface {
	Stop() bool
}

// AfterFunc arms f to run after d. It matches time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type pendingWrite struct {
	draft       *Draft
	scheduledAt time.Time
	timer       Timer
	seq         uint64
}

// Persister coalesces draft writes per key. Schedule re-arms a single timer per
// key so only the last draft reaches the store; the Now variants bypass the
// delay for critical events. Store writes never overlap, so an expiring timer
// cannot clobber a newer synchronous write.
type Persister struct {
	store     Store
	delay     time.Duration
	logger    *zap.Logger
	afterFunc AfterFunc
	onError   func(key string, err error)

	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[string]*pendingWrite
	seq     uint64
	closed  bool
}

type PersisterOption func(*Persister)

// WithDelay overrides DefaultSaveDelay. Non-positive values are ignored.
func WithDelay(d time.Duration) PersisterOption {
	return func(p *Persister) {
		if d > 0 {
			p.delay = d
		}
	}
}

func WithLogger(logger *zap.Logger) PersisterOption {
	return func(p *Persister) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithAfterFunc swaps the timer source, mainly for tests.
func WithAfterFunc(fn AfterFunc) PersisterOption {
	return func(p *Persister) {
		if fn != nil {
			p.afterFunc = fn
		}
	}
}

// WithErrorHandler registers a callback for failed background writes.
func WithErrorHandler(fn func(key string, err error)) PersisterOption {
	return func(p *Persister) {
		p.onError = fn
	}
}

func NewPersister(store Store, opts ...PersisterOption) *Persister {
	p := &Persister{
		store:     store,
		delay:     DefaultSaveDelay,
		logger:    zap.NewNop(),
		afterFunc: realAfterFunc,
		pending:   make(map[string]*pendingWrite),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Delay returns the configured debounce interval.
func (p *Persister) Delay() time.Duration {
	return p.delay
}

// Schedule arms a delayed write of d under key, replacing any pending one.
func (p *Persister) Schedule(key string, d *Draft) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = p.WriteNow(context.Background(), key, d)
		return
	}
	p.dropLocked(key)
	p.seq++
	seq := p.seq
	pw := &pendingWrite{
		draft:       d.Clone(),
		scheduledAt: time.Now(),
		seq:         seq,
	}
	p.pending[key] = pw
	pw.timer = p.afterFunc(p.delay, func() { p.fire(key, seq) })
	p.mu.Unlock()
}

// FlushNow writes the pending draft for key, if any, before returning.
func (p *Persister) FlushNow(ctx context.Context, key string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	pw, ok := p.pending[key]
	if ok {
		p.dropLocked(key)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return p.write(ctx, key, pw.draft)
}

// WriteNow discards any pending write for key and stores d synchronously.
// A nil draft removes the key.
func (p *Persister) WriteNow(ctx context.Context, key string, d *Draft) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	p.dropLocked(key)
	p.mu.Unlock()
	return p.write(ctx, key, d.Clone())
}

// Cancel drops the pending write for key without storing it.
func (p *Persister) Cancel(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropLocked(key)
}

// Pending returns a copy of the draft waiting to be written for key.
func (p *Persister) Pending(key string) (*Draft, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pw, ok := p.pending[key]
	if !ok {
		return nil, false
	}
	return pw.draft.Clone(), true
}

// FlushAll writes every pending draft. The first error is returned after all
// keys have been attempted.
func (p *Persister) FlushAll(ctx context.Context) error {
	p.mu.Lock()
	keys := make([]string, 0, len(p.pending))
	for key := range p.pending {
		keys = append(keys, key)
	}
	p.mu.Unlock()

	var firstErr error
	for _, key := range keys {
		if err := p.FlushNow(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close flushes everything still pending. Later Schedule calls write through.
func (p *Persister) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.FlushAll(ctx)
}

func (p *Persister) fire(key string, seq uint64) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	pw, ok := p.pending[key]
	if !ok || pw.seq != seq {
		// superseded by a newer schedule or already flushed
		p.mu.Unlock()
		return
	}
	delete(p.pending, key)
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.write(ctx, key, pw.draft)
}

func (p *Persister) dropLocked(key string) {
	if pw, ok := p.pending[key]; ok {
		if pw.timer != nil {
			pw.timer.Stop()
		}
		delete(p.pending, key)
	}
}

func (p *Persister) write(ctx context.Context, key string, d *Draft) error {
	if d != nil {
		d.UpdateAt = time.Now().UnixMilli()
	}
	if err := p.store.SetDraft(ctx, key, d); err != nil {
		err = fmt.Errorf("save draft %s: %w", key, err)
		p.logger.Warn("draft write failed", zap.String("key", key), zap.Error(err))
		if p.onError != nil {
			p.onError(key, err)
		}
		return err
	}
	p.logger.Debug("draft saved", zap.String("key", key), zap.Bool("removed", d == nil))
	return nil
}
