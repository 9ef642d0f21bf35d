package print

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/gridflow/internal/registry"
)

func TestOnRunPrint_WritesSortedKeys(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	var out bytes.Buffer
	ctx := registry.WithOutput(context.Background(), &out)
	input := &Input{Value: map[string]any{
		"b":    json.Number("2"),
		"a":    "first",
		"list": []any{"x", true},
		"none": nil,
	}}

	// --- Act ---
	result, err := OnRunPrint(ctx, input)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, input.Value, result)
	assert.Equal(t, "      a = \"first\"\n      b = 2\n      list = [\"x\",true]\n      none = null\n", out.String())
}

func TestOnRunPrint_NilInput(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	result, err := OnRunPrint(registry.WithOutput(context.Background(), &out), &Input{})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, result)
	assert.Equal(t, "      (null)\n", out.String())
}
