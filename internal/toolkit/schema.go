// Package toolkit implements the declarative tool registry of spec §4.4:
// JSON-Schema tool definitions with per-tool approval metadata, validated
// arguments, and dispatch. Grounded on haasonsaas-nexus's
// internal/agent/tool_registry.go and internal/agent/approval.go, repurposed
// from a general-purpose agent-tool registry to the spec's exact DefaultTools
// table.
package toolkit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Approval is the per-tool approval level of spec §3/Glossary.
type Approval string

const (
	ApprovalAlways Approval = "always"
	ApprovalMaybe  Approval = "maybe"
	ApprovalNever  Approval = "never"
)

// Schema is a declarative tool definition: an OpenAI-style function block
// plus approval metadata.
type Schema struct {
	Name             string
	Description      string
	Parameters       json.RawMessage // JSON Schema
	RequiresApproval Approval
}

// Tool is a registered, executable tool. Execute receives raw JSON
// arguments already validated against Parameters.
type Tool interface {
	Schema() Schema
	Execute(ctx ExecContext, args json.RawMessage) (string, error)
}

// ExecContext carries whatever a tool needs to act (browser handle, url
// policy, etc.), defined by the caller package (webagent) to avoid an
// import cycle; toolkit only requires the opaque type.
type ExecContext = any

// Registry holds tools keyed by name, immutable after Load (spec §3
// invariant: "registry is immutable after initialization").
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	schemas  map[string]*jsonschema.Schema
	sealed   bool
}

// NewRegistry returns an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}, schemas: map[string]*jsonschema.Schema{}}
}

// Register adds tool, compiling its parameter schema. Register returns an
// error if called after Seal, matching the teacher's "populated once at
// startup" discipline.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("tool registry is sealed: cannot register %q", tool.Schema().Name)
	}
	s := tool.Schema()
	compiled, err := compileSchema(s.Name, s.Parameters)
	if err != nil {
		return fmt.Errorf("compiling schema for tool %q: %w", s.Name, err)
	}
	r.tools[s.Name] = tool
	r.schemas[s.Name] = compiled
	return nil
}

// Seal makes the registry immutable; subsequent Register calls fail.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every registered tool name, for "agent returns a structured
// error naming available tools" (spec §8).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Validate checks args against the tool's compiled parameter schema.
func (r *Registry) Validate(name string, args json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return fmt.Errorf("tool %q arguments are not valid JSON: %w", name, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("tool %q arguments failed validation: %w", name, err)
	}
	return nil
}

// Execute validates then dispatches a tool call. Unknown tools produce an
// error naming available tools, per spec §8.
func (r *Registry) Execute(ctx ExecContext, name string, args json.RawMessage) (string, error) {
	tool, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("unknown tool %q; available tools: %v", name, r.Names())
	}
	if err := r.Validate(name, args); err != nil {
		return "", err
	}
	return tool.Execute(ctx, args)
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	url := "mem://" + name + ".json"
	if err := compiler.AddResource(url, bytesReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

func bytesReader(raw json.RawMessage) io.Reader {
	if len(raw) == 0 {
		return bytes.NewReader([]byte(`{}`))
	}
	return bytes.NewReader(raw)
}
