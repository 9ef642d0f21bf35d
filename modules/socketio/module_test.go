package socketio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInput_Endpoint(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		input   Input
		want    endpoint
		wantErr string
	}{
		{
			name:  "defaults",
			input: Input{URL: "http://localhost:3000", OnEvent: "pong"},
			want:  endpoint{base: "http://localhost:3000", path: "/socket.io/", namespace: "/", timeout: DefaultTimeout},
		},
		{
			name:  "explicit",
			input: Input{URL: "https://example.com/rt/", OnEvent: "pong", Namespace: "/chat", Timeout: "2s"},
			want:  endpoint{base: "https://example.com", path: "/rt/", namespace: "/chat", timeout: 2 * time.Second},
		},
		{name: "relative url", input: Input{URL: "/socket", OnEvent: "pong"}, wantErr: "must be absolute"},
		{name: "missing event", input: Input{URL: "http://localhost"}, wantErr: "on_event is required"},
		{name: "bad timeout", input: Input{URL: "http://localhost", OnEvent: "pong", Timeout: "never"}, wantErr: "invalid timeout"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := tc.input.endpoint()

			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestOnRunSocketIO_InvalidInputFailsFast(t *testing.T) {
	t.Parallel()

	_, err := OnRunSocketIO(context.Background(), &Input{URL: "localhost:3000"})

	require.Error(t, err)
}
