package transport

import (
	"context"
	"log/slog"
	"sync"
)

// Flow drives one authorization flow end to end: generate the
// authorization URL, hand it to the user, and wait for completion.
type Flow func(ctx context.Context) error

// Interceptor serializes reauthorization flows across concurrent requests
// and counts the flows that have completed. When several requests hit 401
// at the same time, exactly one executes the flow (generating the
// authorization URL inside the serialized section); the rest either wait
// for that flow or, if one already completed after their request was
// issued, retry immediately. This keeps a burst of traffic from opening a
// browser prompt per request.
type Interceptor struct {
	logger *slog.Logger

	mu         sync.Mutex
	inProgress bool
	done       chan struct{}
	generation uint64
}

// NewInterceptor creates an Interceptor.
func NewInterceptor(logger *slog.Logger) *Interceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interceptor{logger: logger}
}

// Generation returns the number of completed flows. Callers snapshot it
// before issuing a request and pass the snapshot to Run, so a 401 that
// predates the latest completed flow is recognized as stale.
func (i *Interceptor) Generation() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.generation
}

// Run collapses concurrent reauthorization. observed is the Generation
// snapshot taken before the request that produced the 401. A nil return
// means a flow has completed and the caller should retry its request:
//   - a flow completed after the snapshot: the 401 is stale, return nil
//     without running anything;
//   - a flow is in progress: wait for it, then return nil;
//   - otherwise: execute flow here, under the serialized section.
func (i *Interceptor) Run(ctx context.Context, observed uint64, flow Flow) error {
	i.mu.Lock()
	if i.generation > observed {
		i.mu.Unlock()
		i.logger.Debug("authorization flow already completed, retrying request")
		return nil
	}
	if i.inProgress {
		done := i.done
		i.mu.Unlock()

		i.logger.Debug("authorization flow already in progress, waiting")
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	i.inProgress = true
	i.done = make(chan struct{})
	done := i.done
	i.mu.Unlock()

	i.logger.Debug("driving authorization flow")
	err := flow(ctx)

	i.mu.Lock()
	if err == nil {
		i.generation++
	}
	i.inProgress = false
	i.mu.Unlock()
	close(done)
	return err
}

// InProgress reports whether a flow is currently being driven.
func (i *Interceptor) InProgress() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.inProgress
}
