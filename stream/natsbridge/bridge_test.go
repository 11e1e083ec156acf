package natsbridge

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/stream"
)

func newBroker(nodeID string) *stream.Broker {
	return stream.NewBroker(slog.Default(), stream.WithNodeID(nodeID))
}

func TestSubject(t *testing.T) {
	b := New(nil, newBroker("n1"), WithSubjectPrefix("shop.events"))
	assert.Equal(t, "shop.events.job_x", b.Subject("job_x"))
	assert.Equal(t, "shop.events._control", b.Subject(""))
}

func TestStartRequiresNodeID(t *testing.T) {
	b := New(nil, newBroker(""))
	assert.ErrorIs(t, b.Start(), ErrNoNodeID)
}

func TestHandleInjectsRemoteEvents(t *testing.T) {
	broker := newBroker("n1")
	jobID := id.NewJobID().String()
	sub := broker.Subscribe("viewer", stream.JobTopic(jobID))
	b := New(nil, broker)

	remote := &stream.Event{
		ID:     "evt_1",
		Type:   stream.EventJobUpdated,
		Topic:  stream.JobTopic(jobID),
		JobID:  jobID,
		Origin: "n2",
	}
	data, err := json.Marshal(remote)
	require.NoError(t, err)

	b.handle(&nats.Msg{Subject: b.Subject(jobID), Data: data})

	select {
	case got := <-sub.C():
		assert.Equal(t, "evt_1", got.ID)
		assert.Equal(t, "n2", got.Origin)
	case <-time.After(time.Second):
		t.Fatal("remote event not delivered")
	}
	assert.Equal(t, int64(1), b.Stats().Injected)
}

func TestHandleSkipsOwnEvents(t *testing.T) {
	broker := newBroker("n1")
	jobID := id.NewJobID().String()
	sub := broker.Subscribe("viewer", stream.JobTopic(jobID))
	b := New(nil, broker)

	data, err := json.Marshal(&stream.Event{
		Type:   stream.EventJobUpdated,
		Topic:  stream.JobTopic(jobID),
		JobID:  jobID,
		Origin: "n1",
	})
	require.NoError(t, err)

	b.handle(&nats.Msg{Subject: b.Subject(jobID), Data: data})
	b.handle(&nats.Msg{Subject: b.Subject(jobID), Data: []byte("not json")})

	select {
	case evt := <-sub.C():
		t.Fatalf("unexpected delivery %+v", evt)
	default:
	}
	assert.Equal(t, int64(1), b.Stats().Skipped)
	assert.Zero(t, b.Stats().Injected)
}
