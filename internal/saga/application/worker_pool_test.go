package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	sagaDomain "github.com/davicafu/fulfillment/internal/saga/domain"
	sharedEvents "github.com/davicafu/fulfillment/internal/shared/events"
)

// recordingHandler detecta si dos mensajes de la misma saga se solapan.
type recordingHandler struct {
	mu       sync.Mutex
	active   map[string]bool
	overlaps int
	seen     map[string][]string
	fail     error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{active: map[string]bool{}, seen: map[string][]string{}}
}

func (h *recordingHandler) HandleReply(ctx context.Context, env sharedEvents.Envelope) error {
	h.mu.Lock()
	if h.active[env.CorrelationID] {
		h.overlaps++
	}
	h.active[env.CorrelationID] = true
	h.mu.Unlock()

	time.Sleep(time.Millisecond)

	h.mu.Lock()
	h.active[env.CorrelationID] = false
	h.seen[env.CorrelationID] = append(h.seen[env.CorrelationID], env.MessageID)
	h.mu.Unlock()
	return h.fail
}

func startPool(t *testing.T, handler ReplyHandler, workers int) *WorkerPool {
	t.Helper()
	pool := NewWorkerPool(handler, workers, 4, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = pool.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return pool
}

func TestWorkerPool_SerializesPerSaga(t *testing.T) {
	handler := newRecordingHandler()
	pool := startPool(t, handler, 4)

	sagas := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	var wg sync.WaitGroup
	for _, id := range sagas {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				env := sharedEvents.Envelope{MessageID: uuid.NewString(), CorrelationID: id, Type: sharedEvents.StockReserved}
				assert.NoError(t, pool.Process(context.Background(), env))
			}()
		}
	}
	wg.Wait()

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Zero(t, handler.overlaps)
	for _, id := range sagas {
		assert.Len(t, handler.seen[id], 10)
	}
}

func TestWorkerPool_SamePartitionForSameKey(t *testing.T) {
	pool := NewWorkerPool(newRecordingHandler(), 8, 1, zap.NewNop())
	id := uuid.NewString()
	assert.Equal(t, pool.partition(id), pool.partition(id))
}

func TestWorkerPool_ReturnsHandlerError(t *testing.T) {
	handler := newRecordingHandler()
	handler.fail = sagaDomain.ErrSagaNotFound
	pool := startPool(t, handler, 2)

	err := pool.Process(context.Background(), sharedEvents.Envelope{MessageID: "m", CorrelationID: uuid.NewString()})
	assert.ErrorIs(t, err, sagaDomain.ErrSagaNotFound)
}

type panicHandler struct{}

func (panicHandler) HandleReply(ctx context.Context, env sharedEvents.Envelope) error {
	panic("boom")
}

func TestWorkerPool_RecoversFromPanic(t *testing.T) {
	pool := startPool(t, panicHandler{}, 1)

	err := pool.Process(context.Background(), sharedEvents.Envelope{MessageID: "m", CorrelationID: uuid.NewString()})
	require.Error(t, err)

	// El worker sigue vivo
	err = pool.Process(context.Background(), sharedEvents.Envelope{MessageID: "n", CorrelationID: uuid.NewString()})
	require.Error(t, err)
}

func TestWorkerPool_StoppedPoolRejects(t *testing.T) {
	pool := NewWorkerPool(newRecordingHandler(), 1, 0, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, pool.Run(ctx))

	err := pool.Process(context.Background(), sharedEvents.Envelope{MessageID: "m", CorrelationID: uuid.NewString()})
	assert.True(t, errors.Is(err, ErrPoolStopped))
}
