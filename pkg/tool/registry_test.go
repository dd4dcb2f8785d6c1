package tool

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string) Definition {
	return Definition{
		Name:        name,
		Description: "Echoes its input back.",
		Parameters: []Parameter{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
			text, _ := args["text"].(string)
			return &Result{Output: text, Success: true}, nil
		},
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(echoTool("echo")))

	def := r.Get("echo")
	require.NotNil(t, def)
	assert.Equal(t, "echo", def.Name)

	assert.Nil(t, r.Get("missing"))
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry()

	err := r.Register(Definition{Description: "no name", Handler: func(ctx context.Context, args map[string]interface{}) (*Result, error) { return nil, nil }})
	assert.ErrorContains(t, err, "name")

	err = r.Register(Definition{Name: "x", Description: "no handler"})
	assert.ErrorContains(t, err, "handler")

	bad := echoTool("bad")
	bad.Parameters[0].Type = "tuple"
	err = r.Register(bad)
	assert.ErrorContains(t, err, "invalid parameter type")
}

func TestRegistry_ReRegisterKeepsOrder(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(echoTool("a")))
	require.NoError(t, r.Register(echoTool("b")))
	require.NoError(t, r.Register(echoTool("c")))

	replacement := echoTool("b")
	replacement.Description = "Replaced binding."
	require.NoError(t, r.Register(replacement))

	assert.Equal(t, []string{"a", "b", "c"}, r.Names())
	assert.Equal(t, "Replaced binding.", r.Get("b").Description)
}

func TestRegistry_Descriptors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("a")))
	require.NoError(t, r.Register(echoTool("b")))

	all := r.Descriptors()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name)
	assert.Equal(t, "b", all[1].Name)
	assert.Equal(t, "object", all[0].InputSchema["type"])
	assert.Contains(t, all[0].InputSchema, "properties")
	assert.Equal(t, []string{"text"}, all[0].InputSchema["required"])

	// Filter silently drops unknown names
	filtered := r.Descriptors("b", "ghost")
	require.Len(t, filtered, 1)
	assert.Equal(t, "b", filtered[0].Name)
}

func TestRegistry_Execute(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo")))

	result := r.Execute(context.Background(), "echo", map[string]interface{}{"text": "hi"}, 0)
	assert.True(t, result.Success)
	assert.Equal(t, "hi", result.Output)
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()

	result := r.Execute(context.Background(), "ghost", nil, 0)
	assert.False(t, result.Success)
	assert.Contains(t, result.Output, "tool not found")
}

func TestRegistry_ExecuteValidatesArgs(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo")))

	// Missing required argument
	result := r.Execute(context.Background(), "echo", map[string]interface{}{}, 0)
	assert.False(t, result.Success)
	assert.Contains(t, result.Output, "validation")

	// Unknown argument rejected
	result = r.Execute(context.Background(), "echo", map[string]interface{}{"text": "hi", "extra": 1}, 0)
	assert.False(t, result.Success)
	assert.Contains(t, result.Output, "validation")
}

func TestRegistry_ExecuteHandlerError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{
		Name:        "broken",
		Description: "Always violates its contract.",
		Handler: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
			return nil, errors.New("wires crossed")
		},
	}))

	result := r.Execute(context.Background(), "broken", nil, 0)
	assert.False(t, result.Success)
	assert.Contains(t, result.Output, "wires crossed")
}

func TestRegistry_ExecuteTimeout(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{
		Name:        "sleepy",
		Description: "Never finishes in time.",
		Handler: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
			time.Sleep(2 * time.Second)
			return &Result{Output: "done", Success: true}, nil
		},
	}))

	result := r.Execute(context.Background(), "sleepy", nil, 20*time.Millisecond)
	assert.False(t, result.Success)
	assert.Contains(t, result.Output, "timeout")
}

func TestRegistry_ExecuteTruncatesLargeOutput(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{
		Name:        "firehose",
		Description: "Produces more output than fits the context budget.",
		Handler: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
			return &Result{Output: strings.Repeat("x", 64*1024), Success: true}, nil
		},
	}))

	result := r.Execute(context.Background(), "firehose", nil, 0)
	assert.True(t, result.Success)
	assert.True(t, result.Truncated)
	assert.Less(t, len(result.Output), 64*1024)
	assert.Contains(t, result.Output, "[output truncated]")
}
