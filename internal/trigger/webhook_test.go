package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhook_FiresInArrivalOrder(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	clock := newFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	w, err := NewWebhook(WebhookConfig{ID: "gh", Pipeline: "deploy", Endpoint: "/hooks/github", Clock: clock.Now})
	require.NoError(t, err)
	require.NoError(t, w.Enqueue(map[string]any{"ref": "main", "trigger_id": "spoofed"}))
	clock.Advance(time.Second)
	require.NoError(t, w.Enqueue(nil))
	ctx := context.Background()

	// --- Act ---
	fired1, p1, err1 := w.Check(ctx)
	fired2, p2, err2 := w.Check(ctx)
	fired3, _, err3 := w.Check(ctx)

	// --- Assert ---
	require.NoError(t, err1)
	require.NoError(t, err2)
	require.NoError(t, err3)
	assert.True(t, fired1)
	assert.True(t, fired2)
	assert.False(t, fired3)
	assert.Equal(t, "github", w.Endpoint())

	want1 := map[string]any{
		"ref":                "main",
		ParamTriggerID:       "gh",
		ParamWebhookEndpoint: "github",
		ParamReceivedAt:      "2026-03-14T09:00:00Z",
	}
	if diff := cmp.Diff(want1, p1); diff != "" {
		t.Errorf("first fire mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "2026-03-14T09:00:01Z", p2[ParamReceivedAt])
}

func TestWebhook_QueueBound(t *testing.T) {
	t.Parallel()

	w, err := NewWebhook(WebhookConfig{ID: "gh", Pipeline: "deploy", Endpoint: "github", QueueSize: 2})
	require.NoError(t, err)

	require.NoError(t, w.Enqueue(map[string]any{}))
	require.NoError(t, w.Enqueue(map[string]any{}))
	assert.ErrorIs(t, w.Enqueue(map[string]any{}), ErrQueueFull)
	assert.Equal(t, 2, w.Pending())

	_, _, _ = w.Check(context.Background())
	assert.NoError(t, w.Enqueue(map[string]any{}), "a freed slot accepts again")
}

func TestWebhook_EnqueueCopiesBody(t *testing.T) {
	t.Parallel()

	w, err := NewWebhook(WebhookConfig{ID: "gh", Pipeline: "deploy", Endpoint: "github"})
	require.NoError(t, err)
	body := map[string]any{"a": 1}
	require.NoError(t, w.Enqueue(body))
	body["a"] = 2

	_, params, _ := w.Check(context.Background())
	assert.Equal(t, 1, params["a"])
}

func TestWebhook_RequestMetadataBecomesParams(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	clock := newFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	w, err := NewWebhook(WebhookConfig{ID: "gh", Pipeline: "deploy", Endpoint: "github", Clock: clock.Now})
	require.NoError(t, err)
	req := Request{
		Body:    map[string]any{"ref": "main"},
		Method:  "POST",
		Path:    "/hooks/github",
		Query:   map[string][]string{"tag": {"a", "b"}},
		Headers: map[string][]string{"X-GitHub-Delivery": {"72d3162e"}},
	}

	// --- Act ---
	require.NoError(t, w.EnqueueRequest(req))
	fired, params, err := w.Check(context.Background())

	// --- Assert ---
	require.NoError(t, err)
	require.True(t, fired)
	want := map[string]any{
		"ref":                "main",
		ParamWebhookMethod:   "POST",
		ParamWebhookPath:     "/hooks/github",
		ParamWebhookQuery:    map[string]any{"tag": "a, b"},
		ParamWebhookHeaders:  map[string]any{"x-github-delivery": "72d3162e"},
		ParamTriggerID:       "gh",
		ParamWebhookEndpoint: "github",
		ParamReceivedAt:      "2026-03-14T09:00:00Z",
	}
	if diff := cmp.Diff(want, params); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
}

func TestNewWebhook_Endpoints(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		endpoint string
		want     string
		wantErr  bool
	}{
		{endpoint: "github", want: "github"},
		{endpoint: "/hooks/github/", want: "github"},
		{endpoint: "ci/build-1.2", want: "ci/build-1.2"},
		{endpoint: "", wantErr: true},
		{endpoint: "a//b", wantErr: true},
		{endpoint: "has space", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.endpoint, func(t *testing.T) {
			t.Parallel()
			w, err := NewWebhook(WebhookConfig{ID: "w", Pipeline: "p", Endpoint: tc.endpoint})
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, w.Endpoint())
		})
	}
}
