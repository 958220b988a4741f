package events

import (
	"encoding/json"
	"testing"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvents_GetType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event interface{ GetType() EventType }
		want  EventType
	}{
		{name: "notify received", event: NotifyReceived{}, want: NotifyReceivedEvent},
		{name: "task queued", event: TaskQueued{}, want: TaskQueuedEvent},
		{name: "execution requested", event: ExecutionRequested{}, want: ExecutionRequestedEvent},
		{name: "abort requested", event: ExecutionAbortRequested{}, want: ExecutionAbortRequestedEvent},
		{name: "execution completed", event: ExecutionCompleted{}, want: ExecutionCompletedEvent},
		{name: "state completed", event: StateCompleted{}, want: StateCompletedEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, tt.event.GetType())
		})
	}
}

func TestNotifyReceived_JSONSerialization(t *testing.T) {
	t.Parallel()

	original := &NotifyReceived{
		BaseEvent:     NewBaseEvent(NotifyReceivedEvent, "worker-1"),
		CorrelationID: "corr-123",
		Data: models.ResponseData{
			Status:       models.StatusFailed,
			ErrorMessage: "verification failed",
			Data:         map[string]any{"host": "web-1"},
		},
	}

	jsonData, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(jsonData), `"type":"notify.received"`)
	assert.Contains(t, string(jsonData), `"correlation_id":"corr-123"`)
	assert.Contains(t, string(jsonData), `"status":"FAILED"`)

	var deserialized NotifyReceived

	require.NoError(t, json.Unmarshal(jsonData, &deserialized))
	assert.Equal(t, original.ID, deserialized.ID)
	assert.Equal(t, original.WorkerID, deserialized.WorkerID)
	assert.Equal(t, original.Data.Status, deserialized.Data.Status)
	assert.Equal(t, "web-1", deserialized.Data.Data["host"])
}

func TestStateCompleted_CarriesNotifyElements(t *testing.T) {
	t.Parallel()

	original := &StateCompleted{
		BaseEvent:  NewBaseEvent(StateCompletedEvent, ""),
		InstanceID: "inst-1",
		Status:     models.StatusSuccess,
		NotifyElements: []models.ContextElement{
			{Type: models.ElementInstance, UUID: "host-1", Name: "web-1"},
		},
	}

	jsonData, err := json.Marshal(original)
	require.NoError(t, err)

	var deserialized StateCompleted

	require.NoError(t, json.Unmarshal(jsonData, &deserialized))
	require.Len(t, deserialized.NotifyElements, 1)
	assert.Equal(t, "host-1", deserialized.NotifyElements[0].UUID)
}
