package logsink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestPublishLogsEvent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewPublisher(zap.New(core))

	require.NoError(t, p.Publish(context.Background(), "addr", map[string]int{"amount": 5}))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "event", entries[0].Message)
	assert.Equal(t, "addr", entries[0].ContextMap()["key"])
}
