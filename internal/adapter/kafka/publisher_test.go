package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopywatch/alert-engine/internal/domain"
)

func TestSerializeSummary(t *testing.T) {
	completed := time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)
	window, err := domain.NewDateWindow(
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	summary := domain.RunSummary{
		RunID:         "run-abc",
		Window:        window,
		AlertCount:    120,
		ClusterCount:  4,
		NoiseCount:    17,
		ArtifactCount: 4,
		Confidences:   map[string]int{"highest": 90, "high": 30, "total": 120},
		CompletedAt:   completed,
	}

	msg, err := serializeSummary(summary)
	require.NoError(t, err)

	assert.Equal(t, []byte("run-abc"), msg.Key)
	assert.Contains(t, string(msg.Value), `"run_id":"run-abc"`)
	assert.Contains(t, string(msg.Value), `"cluster_count":4`)

	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "run_id", msg.Headers[0].Key)
	assert.Equal(t, []byte("run-abc"), msg.Headers[0].Value)
	assert.Equal(t, "completed_at", msg.Headers[1].Key)
	assert.Equal(t, []byte(completed.Format(time.RFC3339)), msg.Headers[1].Value)
}
