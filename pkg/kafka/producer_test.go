package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type fakeWriter struct {
	mu       sync.Mutex
	msgs     []kafka.Message
	err      error
	closed   bool
	deadline time.Time
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadline, _ = ctx.Deadline()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// --- Event tests ---

var testAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

func TestNewEvent_Fields(t *testing.T) {
	type created struct {
		UserID    string `json:"user_id"`
		SessionID string `json:"session_id"`
	}

	data := created{UserID: "usr-1", SessionID: "sess-1"}
	event, err := NewEvent(testAt, "projecthub.auth.session.created", Aggregate{Type: "session", ID: "sess-1"}, "auth-service", data)
	require.NoError(t, err)

	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "projecthub.auth.session.created", event.EventType)
	assert.Equal(t, "sess-1", event.AggregateID)
	assert.Equal(t, "session", event.AggregateType)
	assert.Equal(t, "auth-service", event.Source)
	assert.Equal(t, 1, event.Version)
	assert.True(t, event.Timestamp.Equal(testAt))
	assert.Equal(t, time.UTC, event.Timestamp.Location())

	var decoded created
	require.NoError(t, event.UnmarshalData(&decoded))
	assert.Equal(t, data, decoded)
}

func TestNewEvent_Rejects(t *testing.T) {
	agg := Aggregate{Type: "user", ID: "usr-1"}
	tests := []struct {
		name      string
		eventType string
		agg       Aggregate
		data      any
	}{
		{"no type", "", agg, nil},
		{"no aggregate id", "auth.user.registered", Aggregate{Type: "user"}, nil},
		{"unmarshalable data", "auth.user.registered", agg, make(chan int)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEvent(testAt, tt.eventType, tt.agg, "auth-service", tt.data)
			require.Error(t, err)
		})
	}
}

func TestEvent_EnvelopeJSON(t *testing.T) {
	event, err := NewEvent(testAt, "auth.session.revoked", Aggregate{Type: "user", ID: "usr-1"}, "auth-service", map[string]int{"revoked": 2})
	require.NoError(t, err)
	raw, err := event.Marshal()
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.NotContains(t, fields, "correlation_id")
	assert.JSONEq(t, `{"revoked":2}`, string(fields["data"]))
	assert.JSONEq(t, `"2025-03-01T11:00:00Z"`, string(fields["timestamp"]))
}

// --- Topic tests ---

func TestTopic_Format(t *testing.T) {
	assert.Equal(t, "projecthub.auth.session", Topic("auth", "session"))
	assert.Equal(t, "projecthub", TopicPrefix)
}

// --- Producer tests ---

func TestDefaultProducerConfig(t *testing.T) {
	brokers := []string{"broker1:9092", "broker2:9092"}
	cfg := DefaultProducerConfig(brokers)

	assert.Equal(t, brokers, cfg.Brokers)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 10*time.Millisecond, cfg.BatchTimeout)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
	assert.False(t, cfg.Async)
}

func TestProducer_Publish_WriteTimeout(t *testing.T) {
	ev, err := NewEvent(testAt, "auth.session.revoked", Aggregate{Type: "session", ID: "sess-2"}, "auth-service", nil)
	require.NoError(t, err)

	w := &fakeWriter{}
	p := newProducer(w, nil, nil)
	require.NoError(t, p.Publish(context.Background(), "projecthub.auth.session.revoked", ev))
	assert.True(t, w.deadline.IsZero(), "no timeout configured")

	p.writeTimeout = time.Second
	before := time.Now()
	require.NoError(t, p.Publish(context.Background(), "projecthub.auth.session.revoked", ev))
	assert.WithinDuration(t, before.Add(time.Second), w.deadline, 200*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	callerDeadline, _ := ctx.Deadline()
	require.NoError(t, p.Publish(ctx, "projecthub.auth.session.revoked", ev))
	assert.Equal(t, callerDeadline, w.deadline, "earlier caller deadline wins")
}

func TestMessage_OmitsEmptyCorrelationID(t *testing.T) {
	ev, err := NewEvent(testAt, "auth.user.registered", Aggregate{Type: "user", ID: "usr-1"}, "auth-service", nil)
	require.NoError(t, err)

	msg, err := message(context.Background(), "projecthub.auth.user.registered", ev)
	require.NoError(t, err)
	for _, h := range msg.Headers {
		assert.NotEqual(t, "correlation_id", h.Key)
	}
}

func TestProducer_Publish_WritesEnvelopeAndHeaders(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	w := &fakeWriter{}
	p := newProducer(w, []string{"localhost:9092"}, nil)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	event, err := NewEvent(testAt, "auth.session.reuse_detected", Aggregate{Type: "user", ID: "usr-9"}, "auth-service", map[string]string{"session_id": "s1"})
	require.NoError(t, err)
	event.WithCorrelationID("corr-1")

	require.NoError(t, p.Publish(ctx, "projecthub.auth.session", event))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "projecthub.auth.session", msg.Topic)
	assert.Equal(t, "usr-9", string(msg.Key))
	assert.Equal(t, "auth.session.reuse_detected", header(msg, "event_type"))
	assert.Equal(t, "auth-service", header(msg, "source"))
	assert.Equal(t, "corr-1", header(msg, "correlation_id"))
	assert.Contains(t, header(msg, "traceparent"), "4bf92f3577b34da6a3ce929d0e0e4736")

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event.EventID, decoded.EventID)
}

func TestProducer_Publish_WriterError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := newProducer(w, nil, nil)

	event, err := NewEvent(testAt, "auth.session.created", Aggregate{Type: "session", ID: "sess-1"}, "auth-service", nil)
	require.NoError(t, err)

	err = p.Publish(context.Background(), "projecthub.auth.user", event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish event to projecthub.auth.user")
}

func TestProducer_Close(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, nil, nil)
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNewProducer_CreatesInstance(t *testing.T) {
	p := NewProducer(DefaultProducerConfig([]string{"localhost:19092"}), nil)
	require.NotNil(t, p)
	assert.Equal(t, []string{"localhost:19092"}, p.brokers)
	assert.NoError(t, p.Close())
}

func TestPingBrokers_NoBrokers(t *testing.T) {
	err := PingBrokers(t.Context(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no brokers configured")
}

func TestPingBrokers_NamesEveryUnreachableBroker(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	err := PingBrokers(ctx, []string{"127.0.0.1:1", "127.0.0.1:2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
	assert.Contains(t, err.Error(), "127.0.0.1:2")
}

func TestPublish_CountsOutcomes(t *testing.T) {
	const topic = "projecthub.test.metrics"
	ok := testutil.ToFloat64(publishedTotal.WithLabelValues(topic, "ok"))
	failed := testutil.ToFloat64(publishedTotal.WithLabelValues(topic, "error"))

	w := &fakeWriter{}
	p := newProducer(w, nil, nil)
	ev, err := NewEvent(testAt, "auth.session.created", Aggregate{Type: "session", ID: "sess-1"}, "auth-service", nil)
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), topic, ev))
	w.err = errors.New("broker down")
	require.Error(t, p.Publish(context.Background(), topic, ev))

	assert.Equal(t, ok+1, testutil.ToFloat64(publishedTotal.WithLabelValues(topic, "ok")))
	assert.Equal(t, failed+1, testutil.ToFloat64(publishedTotal.WithLabelValues(topic, "error")))
}
