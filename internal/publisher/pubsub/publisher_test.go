package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublisherPublishesJSON(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, srv := newTestClient(t)
	_, err := client.CreateTopic(ctx, "renders")
	require.NoError(t, err)

	pub, err := New(client)
	require.NoError(t, err)
	defer pub.Close()

	id, err := pub.Publish(ctx, "renders", map[string]any{"stage": "RENDER_DONE", "status": 200})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	require.Equal(t, "RENDER_DONE", decoded["stage"])
	require.Equal(t, "application/json", msgs[0].Attributes["content-type"])
}

func TestPublisherValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.Error(t, err)

	client, _ := newTestClient(t)
	pub, err := New(client)
	require.NoError(t, err)
	_, err = pub.Publish(context.Background(), "", "payload")
	require.Error(t, err)
	_, err = pub.Publish(context.Background(), "renders", func() {})
	require.ErrorContains(t, err, "marshal payload")
}
