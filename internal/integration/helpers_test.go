//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/couchcryptid/field-env-sync/internal/config"
	"github.com/couchcryptid/field-env-sync/internal/mockupstream"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

const (
	testTriggerTopic = "test-sync-requests"
	testResultTopic  = "test-sync-results"
	testAPIKey       = "integration-key"

	parcelGeometry = `{"type":"Polygon","coordinates":[[[-121.19,37.68],[-121.17,37.68],[-121.17,37.70],[-121.19,37.70],[-121.19,37.68]]]}`
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node broker and returns its bootstrap address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("field-env-sync-test"),
	)
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic through the cluster controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// startUpstream serves the mock agro API for the duration of the test.
func startUpstream(t *testing.T) (*mockupstream.Server, string) {
	t.Helper()
	mock := mockupstream.New(testAPIKey, nil)
	srv := httptest.NewServer(mock.Handler())
	t.Cleanup(srv.Close)
	return mock, srv.URL + mockupstream.BasePath
}

func baseConfig(upstreamURL string) *config.Config {
	return &config.Config{
		AgroAPIKey:        testAPIKey,
		AgroBaseURLs:      []string{upstreamURL},
		ProbeTimeout:      2 * time.Second,
		UpstreamTimeout:   5 * time.Second,
		UpstreamRPS:       1000,
		UpstreamBurst:     100,
		StatsCacheSize:    100,
		SyncConcurrency:   2,
		SyncRetryMax:      1,
		SatelliteLookback: 10 * 24 * time.Hour,
	}
}
