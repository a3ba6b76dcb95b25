package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer guards a bytes.Buffer shared with the signal goroutine.
type syncBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (s *syncBuffer) Write(p []byte) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestNewInterruptHandler(t *testing.T) {
	for name, out := range map[string]io.Writer{"custom": &bytes.Buffer{}, "nil": nil} {
		t.Run(name, func(t *testing.T) {
			handler := NewInterruptHandler(out)
			require.NotNil(t, handler)
			assert.NotNil(t, handler.out)
			assert.False(t, handler.WasInterrupted())
		})
	}
}

func TestInterruptHandler_Interrupt(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output)

	ctx, stop := handler.HandleInterrupts(context.Background())
	defer stop()
	handler.SetRun("run-123")

	select {
	case <-ctx.Done():
		t.Fatal("Context should not be canceled initially")
	default:
	}

	handler.interrupt()

	<-ctx.Done()
	require.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.True(t, handler.WasInterrupted())
	assert.Contains(t, output.String(), "Calculation interrupted!")
	assert.Contains(t, output.String(), "Run run-123 was cancelled")
}

func TestInterruptHandler_MessageShownOnce(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output)

	_, stop := handler.HandleInterrupts(context.Background())
	defer stop()

	handler.interrupt()
	handler.interrupt()

	assert.Equal(t, 1, strings.Count(output.String(), "Calculation interrupted!"))
	assert.NotContains(t, output.String(), "was cancelled", "no run was registered")
}

func TestInterruptHandler_StopWithoutSignal(t *testing.T) {
	handler := NewInterruptHandler(&syncBuffer{})
	ctx, stop := handler.HandleInterrupts(context.Background())

	stop()

	<-ctx.Done()
	assert.False(t, handler.WasInterrupted())
}
