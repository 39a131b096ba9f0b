package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phenotype-similarity-server/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type recordingTarget struct {
	mu          sync.Mutex
	invalidated []string
	clears      int
	reloads     int
	err         error
}

func (r *recordingTarget) InvalidatePatient(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, id)
	return r.err
}

func (r *recordingTarget) ClearAll(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
	return r.err
}

func (r *recordingTarget) ReloadModel(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reloads++
	return r.err
}

func encodeEvent(t *testing.T, e Event) []byte {
	t.Helper()
	data, err := json.Marshal(e)
	require.NoError(t, err)
	return data
}

func TestEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{"patient updated", Event{Type: PatientUpdated, PatientID: "P1"}, false},
		{"patient deleted without id", Event{Type: PatientDeleted}, true},
		{"cache cleared", Event{Type: CacheCleared}, false},
		{"ontology updated", Event{Type: OntologyUpdated}, false},
		{"unknown", Event{Type: "patient_merged", PatientID: "P1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrMalformedRecord)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvent_Key(t *testing.T) {
	assert.Equal(t, "P1", Event{Type: PatientUpdated, PatientID: "P1"}.Key())
	assert.Equal(t, "cache_cleared", Event{Type: CacheCleared}.Key())
}

func TestDispatcher_Handle(t *testing.T) {
	target := &recordingTarget{}
	d := NewDispatcher(target, testLogger())
	ctx := context.Background()

	require.NoError(t, d.Handle(ctx, []byte("P1"), encodeEvent(t, Event{Type: PatientUpdated, PatientID: "P1"})))
	require.NoError(t, d.Handle(ctx, []byte("P2"), encodeEvent(t, Event{Type: PatientDeleted, PatientID: "P2"})))
	require.NoError(t, d.Handle(ctx, nil, encodeEvent(t, Event{Type: CacheCleared})))
	require.NoError(t, d.Handle(ctx, nil, encodeEvent(t, Event{Type: OntologyUpdated})))

	assert.Equal(t, []string{"P1", "P2"}, target.invalidated)
	assert.Equal(t, 1, target.clears)
	assert.Equal(t, 1, target.reloads)
}

func TestDispatcher_HandleErrors(t *testing.T) {
	d := NewDispatcher(&recordingTarget{}, testLogger())

	err := d.Handle(context.Background(), nil, []byte("{broken"))
	assert.True(t, IsPoison(err))

	err = d.Handle(context.Background(), nil, encodeEvent(t, Event{Type: "bogus"}))
	assert.True(t, IsPoison(err))

	failing := NewDispatcher(&recordingTarget{err: errors.New("redis down")}, testLogger())
	err = failing.Handle(context.Background(), nil, encodeEvent(t, Event{Type: CacheCleared}))
	require.Error(t, err)
	assert.False(t, IsPoison(err))
}

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.messages) > 0 {
		msg := f.messages[0]
		f.messages = f.messages[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

func (f *fakeReader) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

func TestConsumer_Run(t *testing.T) {
	target := &recordingTarget{}
	reader := &fakeReader{messages: []kafka.Message{
		{Offset: 1, Key: []byte("P1"), Value: encodeEvent(t, Event{Type: PatientUpdated, PatientID: "P1"})},
		{Offset: 2, Value: []byte("not json")},
		{Offset: 3, Value: encodeEvent(t, Event{Type: CacheCleared})},
	}}

	consumer := newConsumer(reader, "phenosim.events", NewDispatcher(target, testLogger()).Handle, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2, 3}, reader.commits(), "poison messages are committed")
	assert.Equal(t, []string{"P1"}, target.invalidated)
	assert.Equal(t, 1, target.clears)

	require.NoError(t, consumer.Close())
	assert.True(t, reader.closed)
}

func TestConsumer_TransientFailureRetriedInPlace(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Offset: 7, Value: encodeEvent(t, Event{Type: CacheCleared})},
		{Offset: 8, Value: encodeEvent(t, Event{Type: PatientUpdated, PatientID: "P9"})},
	}}
	var (
		mu   sync.Mutex
		seen []Type
	)
	handler := func(_ context.Context, _, value []byte) error {
		var event Event
		assert.NoError(t, json.Unmarshal(value, &event))
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, event.Type)
		if len(seen) == 1 {
			return errors.New("temporary")
		}
		return nil
	}

	consumer := newConsumer(reader, "t", handler, testLogger())
	consumer.backoff = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{7, 8}, reader.commits(), "the failed message is handled before the next one is committed")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Type{CacheCleared, CacheCleared, PatientUpdated}, seen)
}

func TestConsumer_GivesUpAfterMaxAttempts(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Offset: 3, Value: encodeEvent(t, Event{Type: CacheCleared})},
	}}
	var calls int32
	handler := func(context.Context, []byte, []byte) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("redis down")
	}

	consumer := newConsumer(reader, "t", handler, testLogger())
	consumer.backoff = time.Millisecond
	consumer.maxAttempts = 3
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestConsumer_StopsRetryingOnCancel(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Offset: 4, Value: encodeEvent(t, Event{Type: CacheCleared})},
	}}
	failed := make(chan struct{}, 1)
	handler := func(context.Context, []byte, []byte) error {
		select {
		case failed <- struct{}{}:
		default:
		}
		return errors.New("redis down")
	}

	consumer := newConsumer(reader, "t", handler, testLogger())
	consumer.backoff = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	<-failed
	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, reader.commits())
}

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestPublisher_Publish(t *testing.T) {
	writer := &fakeWriter{}
	publisher := newPublisher(writer, "phenosim.events", "replica-a", testLogger())

	require.NoError(t, publisher.Publish(context.Background(), Event{Type: PatientDeleted, PatientID: "P3"}))
	require.Len(t, writer.messages, 1)
	assert.Equal(t, "P3", string(writer.messages[0].Key))

	var decoded Event
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &decoded))
	assert.Equal(t, PatientDeleted, decoded.Type)
	assert.Equal(t, "replica-a", decoded.Source)
	assert.False(t, decoded.OccurredAt.IsZero())

	err := publisher.Publish(context.Background(), Event{Type: PatientUpdated})
	assert.ErrorIs(t, err, domain.ErrMalformedRecord)
	assert.Len(t, writer.messages, 1)
}

func TestPublisher_WriteError(t *testing.T) {
	publisher := newPublisher(&fakeWriter{err: errors.New("broker unavailable")}, "t", "r", testLogger())
	assert.Error(t, publisher.Publish(context.Background(), Event{Type: CacheCleared}))
	require.NoError(t, publisher.Close())
}

type countingRecorder struct {
	outcomes map[string]int
}

func (c *countingRecorder) RecordEvent(eventType string, err error) {
	if c.outcomes == nil {
		c.outcomes = make(map[string]int)
	}
	key := eventType + ":ok"
	if err != nil {
		key = eventType + ":err"
	}
	c.outcomes[key]++
}

func TestDispatcher_Recorder(t *testing.T) {
	recorder := &countingRecorder{}
	d := NewDispatcher(&recordingTarget{}, testLogger()).WithRecorder(recorder)

	require.NoError(t, d.Handle(context.Background(), nil, encodeEvent(t, Event{Type: OntologyUpdated})))
	_ = d.Handle(context.Background(), nil, []byte("junk"))

	assert.Equal(t, map[string]int{"ontology_updated:ok": 1}, recorder.outcomes)
}
