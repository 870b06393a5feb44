package testing

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
)

func TestStartEmbeddedNATS(t *testing.T) {
	ns, nc := StartEmbeddedNATS(t)

	require.NotNil(t, ns)
	require.True(t, nc.IsConnected())
	require.True(t, ns.ReadyForConnections(time.Second))

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	_, err = js.AccountInfo(t.Context())
	require.NoError(t, err)
}

func TestConnect_SecondClient(t *testing.T) {
	ns, nc := StartEmbeddedNATS(t)
	other := Connect(t, ns)

	require.True(t, other.IsConnected())
	require.NotEqual(t, nc.ConnectedServerId(), "")
}

func TestCreateJetStreamKV(t *testing.T) {
	_, nc := StartEmbeddedNATS(t)
	kv := CreateJetStreamKV(t, nc, "test-bucket", time.Minute)

	_, err := kv.Put(t.Context(), "task-1", []byte("node-1"))
	require.NoError(t, err)

	entry, err := kv.Get(t.Context(), "task-1")
	require.NoError(t, err)
	require.Equal(t, "node-1", string(entry.Value()))
}
