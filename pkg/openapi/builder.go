package openapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

// Operation represents a single HTTP operation to surface in OpenAPI.
type Operation struct {
	Method      string         `json:"method"`
	Path        string         `json:"path"`
	Summary     string         `json:"summary,omitempty"`
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Secured     bool           `json:"-"`
	RequestBody any            `json:"requestBody,omitempty"`
	Responses   map[string]any `json:"responses"`
}

// Registry holds the operations a service exposes.
type Registry struct {
	mu  sync.RWMutex
	Ops []Operation
}

func NewRegistry() *Registry { return &Registry{Ops: []Operation{}} }

func (r *Registry) Register(op Operation) {
	if op.Method != "" {
		op.Method = strings.ToLower(op.Method)
	}
	if op.Responses == nil {
		op.Responses = map[string]any{"200": map[string]any{"description": "OK"}}
	}
	r.mu.Lock()
	r.Ops = append(r.Ops, op)
	r.mu.Unlock()
}

// JSONBody is a shorthand request body referring to an inline schema.
func JSONBody(schema map[string]any) map[string]any {
	return map[string]any{
		"required": true,
		"content":  map[string]any{"application/json": map[string]any{"schema": schema}},
	}
}

// Build produces a minimal OpenAPI 3.1 document representing the registered
// operations. Components/schemas are kept inline for brevity.
func (r *Registry) Build(serviceName, version string) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := map[string]any{}
	for _, op := range r.Ops {
		if _, ok := paths[op.Path]; !ok {
			paths[op.Path] = map[string]any{}
		}
		m := map[string]any{
			"summary":     op.Summary,
			"description": op.Description,
			"tags":        op.Tags,
			"responses":   op.Responses,
		}
		if op.Secured {
			m["security"] = []map[string]any{{"bearer": []string{}}}
		}
		if op.RequestBody != nil {
			m["requestBody"] = op.RequestBody
		}
		paths[op.Path].(map[string]any)[op.Method] = m
	}
	return map[string]any{
		"openapi": "3.1.0",
		"info":    map[string]any{"title": serviceName, "version": version},
		"paths":   paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"bearer": map[string]any{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
		},
	}
}

// ServeHandler returns an HTTP handler that serves the built OpenAPI JSON.
func (r *Registry) ServeHandler(serviceName, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(r.Build(serviceName, version))
	}
}
