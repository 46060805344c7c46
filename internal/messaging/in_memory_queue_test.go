package messaging

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue(t *testing.T) {
	queue := NewInMemoryQueue()

	runIds := []uuid.UUID{uuid.New(), uuid.New()}
	for _, id := range runIds {
		require.NoError(t, queue.PublishTrainTask(context.Background(), TrainTaskPayload{RunId: id}))
	}

	for _, id := range runIds {
		task := <-queue.Tasks()
		assert.Equal(t, TrainingQueue, task.Type())

		var payload TrainTaskPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &payload))
		assert.Equal(t, id, payload.RunId)
		assert.NoError(t, task.Ack())
	}
}

func TestInMemoryQueueClose(t *testing.T) {
	queue := NewInMemoryQueue()
	queue.Close()
	queue.Close()

	_, ok := <-queue.Tasks()
	assert.False(t, ok)

	err := queue.PublishTrainTask(context.Background(), TrainTaskPayload{RunId: uuid.New()})
	assert.Error(t, err)
}
