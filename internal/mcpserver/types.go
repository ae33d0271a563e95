// Package mcpserver implements the server-side dispatcher of spec.md
// §4.3: a fixed method table, tool/resource registries, resource
// templates, API-key auth, and notification handling, sitting in
// front of internal/rescache and internal/uritemplate.
//
// Grounded on the teacher's MCPHandler (mcp.go): registerMCPMethods'
// fixed dispatch table, handleResourcesRead/handleToolsCall's
// parse-then-validate-then-invoke shape, and MCPTool/Schema()'s
// self-describing parameter metadata — generalized here into a
// declarative ToolParam slice so the dispatcher (not each tool)
// performs parameter validation, per spec.md §4.3.
package mcpserver

import (
	"context"

	"mcpfabric/internal/protocol"
	"mcpfabric/internal/uritemplate"
)

// Info is the server's self-reported identity. The Server stores it;
// no method of this protocol subset returns it on the wire.
type Info struct {
	Name    string
	Version string
}

// ParamType is the declared type of a tool parameter, used for
// dispatcher-side validation before a handler ever sees the arguments.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamInt    ParamType = "integer"
	ParamFloat  ParamType = "number"
	ParamBool   ParamType = "boolean"
)

// ToolParam declares one named, typed argument a tool accepts.
type ToolParam struct {
	Name        string
	Type        ParamType
	Required    bool
	Description string
}

// ToolHandler executes a tool call and returns its result as an
// ordered content-item sequence.
type ToolHandler func(ctx context.Context, args map[string]interface{}) ([]protocol.ContentItem, error)

// Tool is a registered, invocable method.
type Tool struct {
	Name        string
	Description string
	Params      []ToolParam
	Handler     ToolHandler
}

// ResourceHandler produces the content for a resource read. params is
// nil for a static (non-templated) resource and the extracted
// placeholder values for a templated one.
type ResourceHandler func(ctx context.Context, uri string, params map[string]interface{}) ([]protocol.ContentItem, error)

// StaticResource is a resource addressed by an exact URI.
type StaticResource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
	Handler     ResourceHandler
}

// resourceTemplateEntry pairs a compiled template with the handler
// invoked when a read_resource URI matches it. Registration order is
// preserved: the first matching template wins, per spec.md §4.4.
type resourceTemplateEntry struct {
	template    *uritemplate.Template
	name        string
	description string
	handler     ResourceHandler
}
