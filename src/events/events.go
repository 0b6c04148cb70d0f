package events

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	logger "github.com/sirupsen/logrus"
)

const (
	TypeSyncStarted   = "sync.started"
	TypeSyncSucceeded = "sync.succeeded"
	TypeSyncFailed    = "sync.failed"
	TypeStreamState   = "stream.state"
)

// Event is one sync lifecycle notification for a (user, exchange) pair.
type Event struct {
	Type         string      `json:"type"`
	Kind         string      `json:"kind"` // full | quick | stream | structure | cleanup
	UserID       uint        `json:"user_id,omitempty"`
	ConnectionID uint        `json:"connection_id,omitempty"`
	Exchange     string      `json:"exchange,omitempty"`
	Attempt      int         `json:"attempt,omitempty"`
	Error        string      `json:"error,omitempty"`
	Detail       interface{} `json:"detail,omitempty"`
	At           time.Time   `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// LogPublisher writes every event as a structured log entry.
type LogPublisher struct {
	Log *logger.Entry
}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{Log: logger.WithField("component", "events")}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	entry := p.Log.WithFields(logger.Fields{
		"event":         e.Type,
		"kind":          e.Kind,
		"user_id":       e.UserID,
		"connection_id": e.ConnectionID,
		"exchange":      e.Exchange,
		"attempt":       e.Attempt,
	})
	if e.Detail != nil {
		entry = entry.WithField("detail", e.Detail)
	}
	if e.Type == TypeSyncFailed {
		entry.WithField("error", e.Error).Warn("sync event")
		return nil
	}
	entry.Info("sync event")
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher sends events as JSON keyed by connection id, so events of
// one connection stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Async:        true,
		RequiredAcks: kafka.RequireOne,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	msg, err := encode(e)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func encode(e Event) (kafka.Message, error) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(e.ConnectionID), 10)),
		Value: value,
		Time:  e.At,
	}, nil
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewFromConfig returns the log publisher plus kafka when brokers are set.
func NewFromConfig(config Config) Publisher {
	pubs := Fanout{NewLogPublisher()}
	if brokers := config.Brokers(); len(brokers) > 0 {
		logger.WithFields(logger.Fields{"brokers": brokers, "topic": config.KafkaTopic}).Info("Kafka sync events enabled")
		pubs = append(pubs, NewKafkaPublisher(brokers, config.KafkaTopic))
	}
	return pubs
}

// Emit publishes and only logs a failure; sync must not fail because an
// event could not be delivered.
func Emit(ctx context.Context, p Publisher, e Event) {
	if p == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if err := p.Publish(ctx, e); err != nil {
		logger.WithError(err).WithField("event", e.Type).Warn("Failed to publish event")
	}
}
