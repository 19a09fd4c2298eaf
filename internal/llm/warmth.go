package llm

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// joinTimeout bounds how long Stop waits for the warmth worker to exit.
const joinTimeout = 5 * time.Second

// WarmthManager keeps a session's backing models resident in the backend by
// pinging any model that has been idle for longer than the interval. The
// generation loop calls [WarmthManager.Touch] after every real request so
// busy models are never pinged.
type WarmthManager struct {
	client   *Client
	interval time.Duration

	mu        sync.Mutex
	lastTouch map[string]time.Time

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewWarmthManager creates a manager for the given models. It does not start
// the background worker; call [WarmthManager.Start].
func NewWarmthManager(client *Client, models []string, interval time.Duration) *WarmthManager {
	last := make(map[string]time.Time, len(models))
	now := time.Now()
	for _, m := range models {
		last[m] = now
	}
	return &WarmthManager{
		client:    client,
		interval:  interval,
		lastTouch: last,
		done:      make(chan struct{}),
	}
}

// Start launches the background worker. The worker stops when ctx is
// cancelled or [WarmthManager.Stop] is called.
func (w *WarmthManager) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
}

// Stop cancels the worker and waits for it to exit, bounded by joinTimeout.
// Safe to call multiple times.
func (w *WarmthManager) Stop() {
	w.once.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		select {
		case <-w.done:
		case <-time.After(joinTimeout):
			slog.Warn("warmth manager did not stop within join timeout")
		}
	})
}

// Touch records that model just served a real request.
func (w *WarmthManager) Touch(model string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastTouch[model] = time.Now()
}

func (w *WarmthManager) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pingIdle(ctx)
		}
	}
}

// pingIdle warms every model whose last touch is older than the interval.
func (w *WarmthManager) pingIdle(ctx context.Context) {
	w.mu.Lock()
	var stale []string
	now := time.Now()
	for model, last := range w.lastTouch {
		if now.Sub(last) >= w.interval {
			stale = append(stale, model)
		}
	}
	w.mu.Unlock()

	for _, model := range stale {
		if ctx.Err() != nil {
			return
		}
		if err := w.client.WarmModel(ctx, model); err != nil {
			slog.Warn("warm ping failed", "model", model, "err", err)
			continue
		}
		slog.Debug("warm ping ok", "model", model)
		w.Touch(model)
	}
}
