package toolgate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrToolNotFound is returned by Invoke when no tool matches the requested
// name. The method router maps it to a -32601 error object.
var ErrToolNotFound = errors.New("tool not found")

// ToolRegistry is the external collaborator the transport dispatches into. It
// exposes discovery and invocation of named operations; the business logic of
// each operation lives behind its handler.
type ToolRegistry interface {
	List(ctx context.Context) []Tool
	Invoke(ctx context.Context, inv ToolInvocation) (interface{}, error)
}

// ToolsProvider is the in-memory ToolRegistry implementation.
type ToolsProvider struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolsProvider creates an empty ToolsProvider.
func NewToolsProvider() *ToolsProvider {
	return &ToolsProvider{tools: make(map[string]Tool)}
}

// AddTools registers tools with the provider. Names must be unique and every
// tool must carry a handler.
func (p *ToolsProvider) AddTools(tools ...Tool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, tool := range tools {
		if tool.Name == "" {
			return fmt.Errorf("tool name cannot be empty")
		}
		if tool.Handler == nil {
			return fmt.Errorf("tool %s has no handler", tool.Name)
		}
		if _, exists := p.tools[tool.Name]; exists {
			return fmt.Errorf("duplicate tool: %s", tool.Name)
		}
		p.tools[tool.Name] = tool
	}
	return nil
}

// List returns all registered tools sorted by name.
func (p *ToolsProvider) List(_ context.Context) []Tool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	tools := make([]Tool, 0, len(p.tools))
	for _, tool := range p.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Invoke looks up the named tool and runs its handler. A missing tool yields
// ErrToolNotFound; handler errors are returned as-is for the caller to
// translate into a JSON-RPC error object.
func (p *ToolsProvider) Invoke(ctx context.Context, inv ToolInvocation) (interface{}, error) {
	ctx, span := StartSpan(ctx, "ToolsProvider.Invoke")
	span.SetAttributes(attribute.String("tool_name", inv.Name))
	defer span.End()

	var err error
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	p.mu.RLock()
	tool, exists := p.tools[inv.Name]
	p.mu.RUnlock()

	if !exists {
		err = fmt.Errorf("%w: %s", ErrToolNotFound, inv.Name)
		return nil, err
	}

	startTime := time.Now()
	result, err := tool.Handler(ctx, inv)
	span.SetAttributes(
		attribute.Float64("execution_time_ms", float64(time.Since(startTime).Milliseconds())),
	)
	return result, err
}
