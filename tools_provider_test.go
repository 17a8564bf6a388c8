package toolgate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolsProviderAddTools(t *testing.T) {
	provider := NewToolsProvider()

	noop := func(ctx context.Context, inv ToolInvocation) (interface{}, error) {
		return nil, nil
	}

	err := provider.AddTools(
		Tool{Name: "b_tool", Handler: noop},
		Tool{Name: "a_tool", Handler: noop},
	)
	require.NoError(t, err)

	assert.Error(t, provider.AddTools(Tool{Name: "a_tool", Handler: noop}), "duplicate name")
	assert.Error(t, provider.AddTools(Tool{Name: "", Handler: noop}), "empty name")
	assert.Error(t, provider.AddTools(Tool{Name: "no_handler"}), "missing handler")

	tools := provider.List(context.Background())
	require.Len(t, tools, 2)
	assert.Equal(t, "a_tool", tools[0].Name)
	assert.Equal(t, "b_tool", tools[1].Name)
}

func TestToolsProviderInvoke(t *testing.T) {
	provider := NewToolsProvider()
	err := provider.AddTools(Tool{
		Name: "echo",
		Handler: func(ctx context.Context, inv ToolInvocation) (interface{}, error) {
			var args map[string]interface{}
			if err := json.Unmarshal(inv.Arguments, &args); err != nil {
				return nil, err
			}
			return args, nil
		},
	})
	require.NoError(t, err)

	result, err := provider.Invoke(context.Background(), ToolInvocation{
		Name:      "echo",
		Arguments: json.RawMessage(`{"x":1}`),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"x": float64(1)}, result)
}

func TestToolsProviderInvokeUnknownTool(t *testing.T) {
	provider := NewToolsProvider()

	_, err := provider.Invoke(context.Background(), ToolInvocation{Name: "does-not-exist"})
	assert.True(t, errors.Is(err, ErrToolNotFound))
}

func TestToolsProviderInvokePropagatesHandlerError(t *testing.T) {
	provider := NewToolsProvider()
	boom := fmt.Errorf("backend unavailable")
	err := provider.AddTools(Tool{
		Name: "flaky",
		Handler: func(ctx context.Context, inv ToolInvocation) (interface{}, error) {
			return nil, boom
		},
	})
	require.NoError(t, err)

	_, err = provider.Invoke(context.Background(), ToolInvocation{Name: "flaky"})
	assert.ErrorIs(t, err, boom)
}
