package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherWritesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, topic: "evalagent_events"}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	err := p.Publish(context.Background(), Event{Type: IssueFixed, Key: "iss-1", At: at, Payload: map[string]string{"status": "fixed"}})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "iss-1", string(msg.Key))
	assert.Equal(t, at, msg.Time)
	assert.Equal(t, []kafka.Header{{Key: "type", Value: []byte(IssueFixed)}}, msg.Headers)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "issue.fixed", decoded["type"])
	assert.Equal(t, "fixed", decoded["payload"].(map[string]any)["status"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisherStampsTime(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, topic: "t"}
	require.NoError(t, p.Publish(context.Background(), Event{Type: RunFinished, Key: "run-1"}))
	assert.False(t, w.msgs[0].Time.IsZero())
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("leader not available")}, topic: "t"}
	err := p.Publish(context.Background(), Event{Type: RunFinished, Key: "run-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write run.finished to t")
}

func TestEmitSwallowsFailure(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("down")}, topic: "t"}
	Emit(context.Background(), p, zap.NewNop(), Event{Type: IssueCreated, Key: "x"})
	Emit(context.Background(), nil, nil, Event{Type: IssueCreated, Key: "x"})
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	Emit(context.Background(), r, zap.NewNop(), Event{Type: IssueCreated, Key: "a"})
	Emit(context.Background(), r, zap.NewNop(), Event{Type: RunFinished, Key: "r"})
	assert.Equal(t, []string{IssueCreated, RunFinished}, r.Types())
	assert.Len(t, r.Events(), 2)
	assert.NoError(t, Nop{}.Publish(context.Background(), Event{}))
}
