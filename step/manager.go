package step

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/pagedkv/stepctx/ml"
	"github.com/pagedkv/stepctx/model/input"
)

// ErrStepInProgress is returned by With when a context is already installed.
// The execution model is one step at a time per compute stream; nesting is
// always a caller bug.
var ErrStepInProgress = errors.New("step: a context is already installed")

// Manager exposes the context of the step currently executing to nested
// compute code that cannot take it as a parameter. One Manager per compute
// stream.
type Manager struct {
	sem *semaphore.Weighted
	cur atomic.Pointer[Context]
}

func NewManager() *Manager {
	return &Manager{sem: semaphore.NewWeighted(1)}
}

// Build derives a context from a batch snapshot; see New.
func (m *Manager) Build(b *input.Batch, worldSize int, kvCaches []any, config ml.CacheConfig) (*Context, error) {
	return New(b, worldSize, kvCaches, config)
}

// With installs ctx as the current context for the duration of fn. The slot
// is cleared on every exit path, including a panic in fn, and a second
// installation while one is live fails with ErrStepInProgress.
func (m *Manager) With(ctx *Context, fn func(*Context) error) error {
	if !m.sem.TryAcquire(1) {
		return ErrStepInProgress
	}

	slog.Debug("executing step", "id", ctx.ID, "slots", len(ctx.QSeqLengths), "decoding", ctx.IsDecoding)

	m.cur.Store(ctx)
	defer func() {
		m.cur.Store(nil)
		m.sem.Release(1)
	}()

	return fn(ctx)
}

// Current returns the installed context, or nil outside a With scope.
func (m *Manager) Current() *Context {
	return m.cur.Load()
}
