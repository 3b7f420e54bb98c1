// Package service publishes build lifecycle events to NATS JetStream so other
// tools can follow a run.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/model"
)

const (
	StreamName    = "MATRIXBUILD"
	DefaultPrefix = "matrixbuild"

	streamMaxAge = 24 * time.Hour
)

// EventType names a lifecycle event; it is also the subject suffix
type EventType string

const (
	EventBuildStarted  EventType = "build.started"
	EventBuildFinished EventType = "build.finished"
	EventRunFinished   EventType = "run.finished"
)

// Event is the JSON payload of every published message
type Event struct {
	Type      EventType          `json:"type"`
	RunID     string             `json:"run_id"`
	Build     *model.BuildResult `json:"build,omitempty"`
	Progress  *model.Progress    `json:"progress,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// Connect dials a NATS server and opens a JetStream context on it
func Connect(url string) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(url, nats.Name("matrixbuild"), nats.Timeout(5*time.Second))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := nc.JetStream(nats.MaxWait(5 * time.Second))
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return nc, js, nil
}

// ErrEventsNotDelivered is returned by Flush when some events were not
// acknowledged by the server
var ErrEventsNotDelivered = errors.New("events not delivered")

// EventPublisher publishes build events without waiting for the server, so
// a slow or vanished server never holds up the scheduling loop. Publishing
// failures are logged and never interrupt a run.
type EventPublisher struct {
	js     nats.JetStreamContext
	prefix string
	logger *zap.Logger

	mu      sync.Mutex
	pending []pendingEvent
	dropped int
}

type pendingEvent struct {
	eventType EventType
	future    nats.PubAckFuture
}

// NewEventPublisher creates a publisher, creating or updating the stream
func NewEventPublisher(js nats.JetStreamContext, prefix string, logger *zap.Logger) (*EventPublisher, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	p := &EventPublisher{
		js:     js,
		prefix: prefix,
		logger: logger.Named("events"),
	}
	if err := p.setup(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *EventPublisher) setup() error {
	subjects := []string{p.prefix + ".>"}

	info, err := p.js.StreamInfo(StreamName)
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	if info == nil {
		_, err = p.js.AddStream(&nats.StreamConfig{
			Name:      StreamName,
			Subjects:  subjects,
			Retention: nats.LimitsPolicy,
			MaxAge:    streamMaxAge,
			MaxMsgs:   -1,
			Discard:   nats.DiscardOld,
			Storage:   nats.FileStorage,
			Replicas:  1,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream %s: %w", StreamName, err)
		}
		p.logger.Info("Created stream", zap.String("name", StreamName))
		return nil
	}

	config := info.Config
	config.Subjects = subjects
	if _, err := p.js.UpdateStream(&config); err != nil {
		return fmt.Errorf("failed to update stream %s: %w", StreamName, err)
	}
	p.logger.Info("Updated stream", zap.String("name", StreamName))
	return nil
}

// Subject returns the subject an event type is published on
func (p *EventPublisher) Subject(t EventType) string {
	return p.prefix + "." + string(t)
}

// Publish queues one event for delivery and returns without waiting for
// the server acknowledgement. Call Flush to wait for outstanding events.
func (p *EventPublisher) Publish(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	future, err := p.js.PublishAsync(p.Subject(event.Type), data)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}

	p.mu.Lock()
	p.pending = append(p.pending, pendingEvent{eventType: event.Type, future: future})
	p.mu.Unlock()
	return nil
}

func (p *EventPublisher) publishLogged(event Event) {
	if err := p.Publish(event); err != nil {
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		p.logger.Error("Failed to publish event",
			zap.String("type", string(event.Type)),
			zap.String("run_id", event.RunID),
			zap.Error(err))
	}
}

// Flush waits until every queued event is acknowledged or ctx is done. It
// returns ErrEventsNotDelivered when any event since the last Flush was
// dropped, rejected or left unacknowledged.
func (p *EventPublisher) Flush(ctx context.Context) error {
	select {
	case <-p.js.PublishAsyncComplete():
	case <-ctx.Done():
	}

	p.mu.Lock()
	pending, dropped := p.pending, p.dropped
	p.pending, p.dropped = nil, 0
	p.mu.Unlock()

	failed := dropped
	for _, e := range pending {
		select {
		case <-e.future.Ok():
		case err := <-e.future.Err():
			failed++
			p.logger.Error("Event rejected", zap.String("type", string(e.eventType)), zap.Error(err))
		default:
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrEventsNotDelivered, failed, len(pending)+dropped)
	}
	return nil
}

// BuildStarted publishes a build.started event
func (p *EventPublisher) BuildStarted(_ context.Context, result *model.BuildResult) {
	p.publishLogged(Event{Type: EventBuildStarted, RunID: result.RunID, Build: result})
}

// BuildFinished publishes a build.finished event
func (p *EventPublisher) BuildFinished(_ context.Context, result *model.BuildResult) {
	p.publishLogged(Event{Type: EventBuildFinished, RunID: result.RunID, Build: result})
}

// RunFinished publishes a run.finished event with the final counters
func (p *EventPublisher) RunFinished(runID string, progress model.Progress) {
	p.publishLogged(Event{Type: EventRunFinished, RunID: runID, Progress: &progress})
}

// Subscribe delivers every retained event of the stream, then new ones as
// they arrive, to handler. It blocks until ctx is done.
func (p *EventPublisher) Subscribe(ctx context.Context, handler func(Event)) error {
	sub, err := p.js.Subscribe(p.prefix+".>", func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			p.logger.Error("Failed to unmarshal event", zap.Error(err))
			msg.Term()
			return
		}

		handler(event)
		msg.Ack()
	}, nats.DeliverAll(), nats.ManualAck())
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("failed to unsubscribe from events: %w", err)
	}
	return nil
}
