package natsutil

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/fairlead/types"
)

func TestIsConnectivityError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", types.ErrConnectivity, true},
		{"timeout", nats.ErrTimeout, true},
		{"wrapped no servers", fmt.Errorf("put: %w", nats.ErrNoServers), true},
		{"closed", nats.ErrConnectionClosed, true},
		{"deadline", context.DeadlineExceeded, true},
		{"refused text", errors.New("dial tcp: connection refused"), true},
		{"key not found", errors.New("nats: key not found"), false},
		{"config", types.ErrInvalidConfig, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsConnectivityError(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	require.NoError(t, Classify(nil))

	err := Classify(nats.ErrTimeout)
	require.ErrorIs(t, err, types.ErrConnectivity)
	require.ErrorIs(t, err, nats.ErrTimeout)

	other := errors.New("other")
	require.Equal(t, other, Classify(other))
	require.Equal(t, types.ErrConnectivity, Classify(types.ErrConnectivity))
}

func TestIsWrongSequence(t *testing.T) {
	require.False(t, IsWrongSequence(nil))
	require.False(t, IsWrongSequence(errors.New("other")))

	apiErr := &jetstream.APIError{Code: 400, ErrorCode: jetstream.JSErrCodeStreamWrongLastSequence}
	require.True(t, IsWrongSequence(apiErr))
	require.True(t, IsWrongSequence(fmt.Errorf("delete: %w", apiErr)))
}
