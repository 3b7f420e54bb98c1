package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/model"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/testutil"
)

func TestEventPublisher(t *testing.T) {
	_, _, js := testutil.StartJetStream(t)
	logger := zaptest.NewLogger(t)

	publisher, err := NewEventPublisher(js, "", logger)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result := &model.BuildResult{
		ID:    "b1",
		RunID: "run-1",
		Board: "esp32",
		Solution: model.Solution{
			{Name: model.BoardVariable, Value: "esp32"},
			{Name: "USE_GPS", Value: "0"},
		},
		Status: model.BuildStatusRunning,
	}

	t.Run("PublishLifecycle", func(t *testing.T) {
		publisher.BuildStarted(ctx, result)
		result.Status = model.BuildStatusSucceeded
		publisher.BuildFinished(ctx, result)
		publisher.RunFinished("run-1", model.Progress{Total: 1, Started: 1, Built: 1})
		require.NoError(t, publisher.Flush(ctx))

		msgs := testutil.ConsumeMessages(t, js, "matrixbuild.>", 3, 5*time.Second)
		require.Len(t, msgs, 3)
		assert.Equal(t, "matrixbuild.build.started", msgs[0].Subject)
		assert.Equal(t, "matrixbuild.build.finished", msgs[1].Subject)
		assert.Equal(t, "matrixbuild.run.finished", msgs[2].Subject)

		var started Event
		require.NoError(t, json.Unmarshal(msgs[0].Data, &started))
		assert.Equal(t, EventBuildStarted, started.Type)
		assert.Equal(t, "run-1", started.RunID)
		require.NotNil(t, started.Build)
		assert.Equal(t, result.Solution, started.Build.Solution)
		assert.False(t, started.Timestamp.IsZero())

		var finished Event
		require.NoError(t, json.Unmarshal(msgs[2].Data, &finished))
		require.NotNil(t, finished.Progress)
		assert.Equal(t, 1, finished.Progress.Built)
	})

	t.Run("Subscribe", func(t *testing.T) {
		events := make(chan Event, 10)
		subCtx, stop := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- publisher.Subscribe(subCtx, func(e Event) { events <- e }) }()

		var types []EventType
		timeout := time.After(5 * time.Second)
		for len(types) < 3 {
			select {
			case e := <-events:
				types = append(types, e.Type)
			case <-timeout:
				t.Fatalf("received only %v", types)
			}
		}
		assert.Equal(t, []EventType{EventBuildStarted, EventBuildFinished, EventRunFinished}, types)

		stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Subscribe did not return after cancel")
		}
	})

	t.Run("ReuseStream", func(t *testing.T) {
		again, err := NewEventPublisher(js, "", logger)
		require.NoError(t, err)
		assert.Equal(t, "matrixbuild.run.finished", again.Subject(EventRunFinished))

		info, err := js.StreamInfo(StreamName)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), info.State.Msgs)
	})
}

func TestEventPublisherCustomPrefix(t *testing.T) {
	_, _, js := testutil.StartJetStream(t)

	publisher, err := NewEventPublisher(js, "ci.firmware", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "ci.firmware.build.started", publisher.Subject(EventBuildStarted))

	require.NoError(t, publisher.Publish(Event{Type: EventRunFinished, RunID: "r"}))
	require.NoError(t, publisher.Flush(context.Background()))
	msgs := testutil.ConsumeMessages(t, js, "ci.firmware.>", 1, 5*time.Second)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ci.firmware.run.finished", msgs[0].Subject)
}

func TestEventPublisherServerGone(t *testing.T) {
	s, _, js := testutil.StartJetStream(t)

	publisher, err := NewEventPublisher(js, "", zaptest.NewLogger(t))
	require.NoError(t, err)
	s.Shutdown()

	result := &model.BuildResult{ID: "b1", RunID: "run-1", Board: "esp32", Status: model.BuildStatusRunning}
	start := time.Now()
	for i := 0; i < 10; i++ {
		publisher.BuildStarted(context.Background(), result)
		publisher.BuildFinished(context.Background(), result)
	}
	assert.Less(t, time.Since(start), time.Second, "publishing must not wait for acknowledgements")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, publisher.Flush(ctx), ErrEventsNotDelivered)
}

func TestConnectFailure(t *testing.T) {
	_, _, err := Connect("nats://127.0.0.1:1")
	assert.Error(t, err)
}
