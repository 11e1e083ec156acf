//go:build integration

package natsbridge_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/stream"
	"github.com/xraph/cuttrack/stream/natsbridge"
)

func startNATS(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2-alpine",
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, "4222/tcp", "nats")
	require.NoError(t, err)
	return endpoint
}

func TestBridgeFansOutAcrossNodes(t *testing.T) {
	url := startNATS(t)

	connect := func(nodeID string) (*stream.Broker, *natsbridge.Bridge) {
		conn, err := nats.Connect(url, nats.Name(nodeID))
		require.NoError(t, err)
		t.Cleanup(conn.Close)

		broker := stream.NewBroker(slog.Default(), stream.WithNodeID(nodeID))
		bridge := natsbridge.New(conn, broker)
		require.NoError(t, bridge.Start())
		require.NoError(t, conn.Flush())
		t.Cleanup(func() { _ = bridge.Stop() })
		return broker, bridge
	}

	brokerA, bridgeA := connect("node-a")
	brokerB, _ := connect("node-b")

	jobID := id.NewJobID().String()
	subA := brokerA.Subscribe("viewer-a", stream.JobTopic(jobID))
	subB := brokerB.Subscribe("viewer-b", stream.JobTopic(jobID))

	brokerA.Publish(&stream.Event{
		Type:    stream.EventJobUpdated,
		Topic:   stream.JobTopic(jobID),
		JobID:   jobID,
		Version: 2,
	})

	select {
	case evt := <-subB.C():
		assert.Equal(t, "node-a", evt.Origin)
		assert.Equal(t, int64(2), evt.Version)
	case <-time.After(5 * time.Second):
		t.Fatal("event did not reach node b")
	}

	// Node A delivers locally exactly once; its own echo is skipped.
	<-subA.C()
	assert.Eventually(t, func() bool { return bridgeA.Stats().Skipped == 1 }, 5*time.Second, 10*time.Millisecond)
	select {
	case evt := <-subA.C():
		t.Fatalf("duplicate delivery on origin node: %+v", evt)
	default:
	}
}
