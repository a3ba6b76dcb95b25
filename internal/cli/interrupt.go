package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// InterruptHandler turns the first SIGINT or SIGTERM during a calculation into
// a context cancellation and tells the user which run was abandoned.
type InterruptHandler struct {
	out    io.Writer
	once   sync.Once
	fired  atomic.Bool
	runID  atomic.Value
	cancel context.CancelFunc
}

// NewInterruptHandler writes its notice to out, or stdout when out is nil.
func NewInterruptHandler(out io.Writer) *InterruptHandler {
	if out == nil {
		out = os.Stdout
	}
	return &InterruptHandler{out: out}
}

// HandleInterrupts derives a context that ends on the first interrupt. Call
// stop once the calculation is over to release the signal.
func (h *InterruptHandler) HandleInterrupts(parent context.Context) (ctx context.Context, stop func()) {
	ctx, h.cancel = context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			h.interrupt()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(signals)
		h.cancel()
	}
}

// SetRun names the run the notice should mention.
func (h *InterruptHandler) SetRun(runID string) {
	h.runID.Store(runID)
}

// WasInterrupted reports whether a signal arrived.
func (h *InterruptHandler) WasInterrupted() bool {
	return h.fired.Load()
}

func (h *InterruptHandler) interrupt() {
	h.once.Do(func() {
		h.fired.Store(true)
		notice := "\n\n" + FormatWarning("Calculation interrupted!")
		if runID, _ := h.runID.Load().(string); runID != "" {
			notice += "\n" + FormatInfo(fmt.Sprintf("Run %s was cancelled. Previous results are unchanged.", runID))
		}
		// The process is on its way out; a failed write has nowhere better to go.
		_, _ = fmt.Fprintln(h.out, notice)
	})
	if h.cancel != nil {
		h.cancel()
	}
}
