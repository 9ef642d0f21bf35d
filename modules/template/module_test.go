package template

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnRunTemplate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    Input
		wantText string
		wantErr  string
	}{
		{
			name:     "sprig functions",
			input:    Input{Template: `{{ .name | upper }} has {{ .count }} {{ list "a" "b" | join "," }}`, Data: map[string]any{"name": "ingest", "count": json.Number("3")}},
			wantText: "INGEST has 3 a,b",
		},
		{
			name:     "no data",
			input:    Input{Template: `{{ default "fallback" .missing }}`},
			wantText: "fallback",
		},
		{
			name:    "parse error",
			input:   Input{Template: `{{ .open `},
			wantErr: "parse template",
		},
		{
			name:    "strict missing key",
			input:   Input{Template: `{{ .missing }}`, Strict: true},
			wantErr: "render template",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			result, err := OnRunTemplate(context.Background(), &tc.input)

			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"text": tc.wantText}, result)
		})
	}
}
