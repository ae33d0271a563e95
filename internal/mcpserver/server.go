package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"mcpfabric/internal/protocol"
	"mcpfabric/internal/rescache"
	"mcpfabric/internal/uritemplate"
	"mcpfabric/pkg/mcperr"
)

// Server is a process-wide MCP dispatcher: a method table, tool and
// static-resource registries, an ordered resource-template list, an
// optional API key, and the resource cache sitting in front of
// read_resource. One Server instance serves one transport-facing
// process; the aggregator owns one mcpclient per backend, not a
// Server.
type Server struct {
	info   Info
	apiKey string
	logger *slog.Logger
	cache  *rescache.Cache

	mu        sync.RWMutex
	tools     map[string]*Tool
	resources map[string]*StaticResource
	templates []*resourceTemplateEntry
}

// New builds a Server. apiKey == "" disables API-key enforcement. A
// nil cache disables resource caching entirely (every read_resource
// call invokes its handler).
func New(info Info, apiKey string, cache *rescache.Cache, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		info:      info,
		apiKey:    apiKey,
		logger:    logger,
		cache:     cache,
		tools:     make(map[string]*Tool),
		resources: make(map[string]*StaticResource),
	}
	// Every server advertises "ping" unconditionally: the aggregator's
	// health check (spec.md §4.6) calls it uniformly across transport
	// kinds instead of special-casing a bare HTTP GET endpoint.
	s.RegisterTool(&Tool{
		Name:        "ping",
		Description: "Liveness check; always succeeds while the server is reachable.",
		Handler: func(ctx context.Context, args map[string]interface{}) ([]protocol.ContentItem, error) {
			return []protocol.ContentItem{protocol.TextItem("text/plain", "pong")}, nil
		},
	})
	return s
}

// RegisterTool adds t to the tool registry, replacing any existing
// tool of the same name.
func (s *Server) RegisterTool(t *Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[t.Name] = t
}

// RegisterResource adds a statically-addressed resource.
func (s *Server) RegisterResource(r *StaticResource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[r.URI] = r
}

// RegisterResourceTemplate compiles templateSource and appends it to
// the ordered template list read_resource falls back to on a
// static-URI miss.
func (s *Server) RegisterResourceTemplate(templateSource, name, description string, handler ResourceHandler) error {
	tmpl, err := uritemplate.Compile(templateSource)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates = append(s.templates, &resourceTemplateEntry{
		template:    tmpl,
		name:        name,
		description: description,
		handler:     handler,
	})
	return nil
}

// HandleFrame parses raw as a JSON-RPC envelope, authenticates it if
// an API key is configured, and dispatches it. It returns nil for a
// notification (no id) — the caller must not send a response in that
// case, per spec.md §4.3.
func (s *Server) HandleFrame(ctx context.Context, raw []byte) *protocol.Response {
	req, err := protocol.DecodeRequest(raw)
	if err != nil {
		return protocol.NewErrorResponse(0, mcperr.ParseError, "Parse error")
	}

	if s.apiKey != "" && req.APIKey != s.apiKey {
		return protocol.NewErrorResponse(req.ID, mcperr.InvalidRequest, "Invalid API Key")
	}

	return s.Dispatch(ctx, req)
}

// Dispatch routes an already-decoded, already-authenticated request to
// its handler and wraps the outcome into a response envelope. Returns
// nil for a notification.
func (s *Server) Dispatch(ctx context.Context, req *protocol.Request) *protocol.Response {
	var result interface{}
	var err error

	switch req.Method {
	case "list_resources":
		result, err = s.handleListResources()
	case "list_resource_templates":
		result, err = s.handleListResourceTemplates()
	case "read_resource":
		result, err = s.handleReadResource(ctx, req.Params)
	case "list_tools":
		result, err = s.handleListTools()
	case "call_tool":
		result, err = s.handleCallTool(ctx, req.Params)
	default:
		err = mcperr.Newf(mcperr.MethodNotFound, "Method not found")
	}

	if req.IsNotification() {
		if err != nil {
			s.logger.Warn("mcpserver: notification handler failed", "method", req.Method, "error", err)
		}
		return nil
	}

	if err != nil {
		code := mcperr.CodeOf(err)
		msg := err.Error()
		if me, ok := err.(*mcperr.Error); ok {
			msg = me.Message
		}
		return protocol.NewErrorResponse(req.ID, code, msg)
	}
	return protocol.NewResultResponse(req.ID, result)
}

type resourceInfo struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

type resourceTemplateInfo struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

type toolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
}

func (s *Server) handleListResources() (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]resourceInfo, 0, len(s.resources))
	for _, r := range s.resources {
		list = append(list, resourceInfo{URI: r.URI, Name: r.Name, Description: r.Description, MimeType: r.MimeType})
	}
	return map[string]interface{}{"resources": list}, nil
}

func (s *Server) handleListResourceTemplates() (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]resourceTemplateInfo, 0, len(s.templates))
	for _, t := range s.templates {
		list = append(list, resourceTemplateInfo{URITemplate: t.template.Source, Name: t.name, Description: t.description})
	}
	return map[string]interface{}{"resourceTemplates": list}, nil
}

func (s *Server) handleListTools() (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]toolInfo, 0, len(s.tools))
	for _, t := range s.tools {
		list = append(list, toolInfo{Name: t.Name, Description: t.Description, InputSchema: schemaOf(t.Params)})
	}
	return map[string]interface{}{"tools": list}, nil
}

func schemaOf(params []ToolParam) map[string]interface{} {
	props := make(map[string]interface{}, len(params))
	var required []string
	for _, p := range params {
		props[p.Name] = map[string]interface{}{"type": string(p.Type), "description": p.Description}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

type resourceReadParams struct {
	URI string `json:"uri"`
}

func (s *Server) handleReadResource(ctx context.Context, params interface{}) (interface{}, error) {
	var p resourceReadParams
	if err := decodeParams(params, &p); err != nil {
		return nil, mcperr.Wrap(mcperr.InvalidParams, "invalid read_resource params", err)
	}
	if p.URI == "" {
		return nil, mcperr.New(mcperr.InvalidParams, "uri must not be empty")
	}

	if s.cache != nil {
		if content, hit := s.cache.Get(p.URI); hit {
			return content, nil
		}
	}

	content, err := s.readResourceUncached(ctx, p.URI)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Put(p.URI, content, 0)
	}
	return content, nil
}

func (s *Server) readResourceUncached(ctx context.Context, uri string) ([]protocol.ContentItem, error) {
	s.mu.RLock()
	static, ok := s.resources[uri]
	templates := s.templates
	s.mu.RUnlock()

	if ok {
		return static.Handler(ctx, uri, nil)
	}

	for _, t := range templates {
		if params, matched := uritemplate.Match(t.template, uri); matched {
			return t.handler(ctx, uri, params)
		}
	}

	return nil, mcperr.Newf(mcperr.ResourceNotFound, "no resource or template matches %q", uri)
}

type toolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

func (s *Server) handleCallTool(ctx context.Context, params interface{}) (interface{}, error) {
	var p toolCallParams
	if err := decodeParams(params, &p); err != nil {
		return nil, mcperr.Wrap(mcperr.InvalidParams, "invalid call_tool params", err)
	}

	s.mu.RLock()
	tool, ok := s.tools[p.Name]
	s.mu.RUnlock()
	if !ok {
		return nil, mcperr.Newf(mcperr.ToolNotFound, "tool %q is not registered", p.Name)
	}

	if err := validateArgs(tool.Params, p.Arguments); err != nil {
		return nil, err
	}

	return tool.Handler(ctx, p.Arguments)
}

func validateArgs(params []ToolParam, args map[string]interface{}) error {
	for _, p := range params {
		v, present := args[p.Name]
		if !present {
			if p.Required {
				return mcperr.Newf(mcperr.InvalidParams, "missing required parameter %q", p.Name)
			}
			continue
		}
		if !typeMatches(p.Type, v) {
			return mcperr.Newf(mcperr.InvalidParams, "parameter %q must be of type %s", p.Name, p.Type)
		}
	}
	return nil
}

func typeMatches(t ParamType, v interface{}) bool {
	switch t {
	case ParamString:
		_, ok := v.(string)
		return ok
	case ParamInt:
		switch v.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case ParamFloat:
		switch v.(type) {
		case float64, float32:
			return true
		}
		return false
	case ParamBool:
		_, ok := v.(bool)
		return ok
	default:
		return true
	}
}

// decodeParams re-marshals an opaque params value and unmarshals it
// into dst, the same "marshal then unmarshal" idiom the teacher uses
// throughout mcp.go (e.g. handleResourcesRead, handleToolsCall) to
// turn a generic interface{} into a typed struct.
func decodeParams(params interface{}, dst interface{}) error {
	if params == nil {
		return nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
