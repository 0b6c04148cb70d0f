package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisherEncodesEvent(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	err := p.Publish(context.Background(), Event{Type: TypeSyncSucceeded, Kind: "full", UserID: 3, ConnectionID: 9, Exchange: "bybit", At: at})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	require.Equal(t, "9", string(w.msgs[0].Key))
	require.Equal(t, at, w.msgs[0].Time)

	var decoded Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	require.Equal(t, TypeSyncSucceeded, decoded.Type)
	require.EqualValues(t, 3, decoded.UserID)

	require.NoError(t, p.Close())
	require.True(t, w.closed)
}

func TestLogPublisherLevels(t *testing.T) {
	log, hook := test.NewNullLogger()
	p := &LogPublisher{Log: logrus.NewEntry(log)}

	require.NoError(t, p.Publish(context.Background(), Event{Type: TypeSyncStarted, Kind: "quick"}))
	require.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)

	require.NoError(t, p.Publish(context.Background(), Event{Type: TypeSyncFailed, Kind: "quick", Error: "boom"}))
	require.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	require.Equal(t, "boom", hook.LastEntry().Data["error"])
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &fakeWriter{}
	bad := &fakeWriter{err: errors.New("broker down")}
	f := Fanout{&KafkaPublisher{writer: ok}, &KafkaPublisher{writer: bad}}

	err := f.Publish(context.Background(), Event{Type: TypeSyncStarted})
	require.ErrorContains(t, err, "broker down")
	require.Len(t, ok.msgs, 1)

	// Emit never surfaces the failure
	Emit(context.Background(), f, Event{Type: TypeSyncStarted})
	Emit(context.Background(), nil, Event{Type: TypeSyncStarted})
}

func TestConfigBrokers(t *testing.T) {
	require.Equal(t, []string{"a:9092", "b:9092"}, Config{KafkaBrokers: " a:9092, ,b:9092"}.Brokers())
	require.Nil(t, Config{}.Brokers())

	pubs := NewFromConfig(Config{}).(Fanout)
	require.Len(t, pubs, 1)
	pubs = NewFromConfig(Config{KafkaBrokers: "localhost:9092", KafkaTopic: "t"}).(Fanout)
	require.Len(t, pubs, 2)
}
