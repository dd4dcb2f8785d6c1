// Package tool provides a directory of invocable capabilities with
// JSON Schema argument validation and bounded execution.
package tool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/nadhif/lira/pkg/provider"
)

const (
	// DefaultTimeout bounds a tool run when the caller does not
	DefaultTimeout = 30 * time.Second

	// maxOutputSize caps how much tool output is fed back to the model
	maxOutputSize = 10 * 1024
)

// Parameter defines one argument of a tool
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// Handler is the function signature for tool execution. Expected
// failures are reported through Result's success flag; a returned error
// means the tool could not honor its contract at all.
type Handler func(ctx context.Context, args map[string]interface{}) (*Result, error)

// Definition describes a tool and its handler
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// Result is what a tool run produces for the model
type Result struct {
	Output    string `json:"output"`
	Success   bool   `json:"success"`
	Truncated bool   `json:"truncated,omitempty"`
}

type registration struct {
	def       *Definition
	schema    *gojsonschema.Schema
	schemaDoc map[string]interface{}
}

// Registry is a name-keyed directory of tools. Registration order is
// preserved so descriptor lists stay stable across runs.
type Registry struct {
	tools map[string]*registration
	order []string
	mu    sync.RWMutex
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*registration),
	}
}

// Register adds a tool. Re-registering a name replaces the prior
// binding in place without changing its position.
func (r *Registry) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schemaDoc := buildSchemaDoc(def)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaDoc))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = &registration{
		def:       &def,
		schema:    schema,
		schemaDoc: schemaDoc,
	}

	log.Debug().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// Get returns a tool definition by name, nil when absent. Absence is
// not an error at this layer.
func (r *Registry) Get(name string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg := r.tools[name]
	if reg == nil {
		return nil
	}
	return reg.def
}

// Names returns all registered tool names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Descriptors returns provider-facing descriptors. With no filter it
// returns every tool in registration order; with a filter only the
// requested subset, silently dropping unknown names. Hosts use the
// filter to keep schema bytes out of the context budget.
func (r *Registry) Descriptors(names ...string) []provider.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	selected := r.order
	if len(names) > 0 {
		selected = names
	}

	descriptors := make([]provider.ToolDescriptor, 0, len(selected))
	for _, name := range selected {
		reg := r.tools[name]
		if reg == nil {
			continue
		}
		descriptors = append(descriptors, provider.ToolDescriptor{
			Name:        reg.def.Name,
			Description: reg.def.Description,
			InputSchema: reg.schemaDoc,
		})
	}

	return descriptors
}

// Execute validates arguments and runs a tool under a timeout. All
// failure modes come back as a Result with a false success flag, never
// as a panic or a dropped turn.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}, timeout time.Duration) Result {
	startTime := time.Now()

	r.mu.RLock()
	reg := r.tools[name]
	r.mu.RUnlock()

	if reg == nil {
		return Result{
			Success: false,
			Output:  fmt.Sprintf("tool not found: %s", name),
		}
	}

	if err := validateArgs(reg.schema, args); err != nil {
		log.Warn().Str("tool", name).Err(err).Msg("Argument validation failed")
		return Result{
			Success: false,
			Output:  fmt.Sprintf("argument validation failed: %v", err),
		}
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultChan := make(chan *Result, 1)
	errChan := make(chan error, 1)

	go func() {
		result, err := reg.def.Handler(timeoutCtx, args)
		if err != nil {
			errChan <- err
			return
		}
		resultChan <- result
	}()

	select {
	case result := <-resultChan:
		duration := time.Since(startTime)
		if result == nil {
			result = &Result{Success: false, Output: "tool returned no result"}
		}

		output, truncated := truncateOutput(result.Output)
		log.Debug().
			Str("tool", name).
			Dur("duration", duration).
			Bool("success", result.Success).
			Bool("truncated", truncated).
			Msg("Tool execution completed")

		return Result{
			Output:    output,
			Success:   result.Success,
			Truncated: truncated,
		}

	case err := <-errChan:
		log.Error().
			Str("tool", name).
			Dur("duration", time.Since(startTime)).
			Err(err).
			Msg("Tool execution failed")

		return Result{
			Success: false,
			Output:  fmt.Sprintf("tool error: %v", err),
		}

	case <-timeoutCtx.Done():
		log.Error().
			Str("tool", name).
			Dur("duration", time.Since(startTime)).
			Msg("Tool execution timeout")

		return Result{
			Success: false,
			Output:  fmt.Sprintf("tool execution timeout after %v", timeout),
		}
	}
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// buildSchemaDoc renders a tool's parameters as a JSON Schema document.
// The same document is compiled for validation and sent to providers as
// the tool's input schema.
func buildSchemaDoc(def Definition) map[string]interface{} {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	doc := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}

	return doc
}

func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := []string{}
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}

	return nil
}

func truncateOutput(output string) (string, bool) {
	if len(output) <= maxOutputSize {
		return output, false
	}
	return output[:maxOutputSize] + "\n... [output truncated]", true
}
