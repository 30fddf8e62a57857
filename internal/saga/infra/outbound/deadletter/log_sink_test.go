package deadletter

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	sharedDomain "github.com/davicafu/fulfillment/internal/shared/domain"
)

func TestLogSink_LogsAndKeepsRecent(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	sink := NewLogSink(2, zap.New(core))
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, sink.Store(ctx, sharedDomain.DeadLetter{ID: uuid.New(), Key: key, Reason: "bad"}))
	}

	assert.Equal(t, 3, logs.Len())
	assert.Equal(t, "bad", logs.All()[0].ContextMap()["reason"])

	recent, err := sink.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Key)
	assert.Equal(t, "b", recent[1].Key)
}
