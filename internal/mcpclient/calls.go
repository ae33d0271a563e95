package mcpclient

import (
	"context"
	"encoding/json"

	"mcpfabric/internal/protocol"
	"mcpfabric/pkg/mcperr"
)

// ToolInfo is one entry of a list_tools response, used by the
// aggregator to build a backend's advertised tool-name set.
type ToolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
}

// ResourceInfo is one entry of a list_resources response, used by the
// aggregator to build a backend's advertised resource-URI set.
type ResourceInfo struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceTemplateInfo is one entry of a list_resource_templates
// response.
type ResourceTemplateInfo struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// CallTool invokes a remote tool and decodes its content-item result.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) ([]protocol.ContentItem, error) {
	result, err := c.SendRequest(ctx, "call_tool", map[string]interface{}{"name": name, "arguments": args})
	if err != nil {
		return nil, err
	}
	return decodeContentResult(result)
}

// ReadResource reads a remote resource by URI and decodes its
// content-item result.
func (c *Client) ReadResource(ctx context.Context, uri string) ([]protocol.ContentItem, error) {
	result, err := c.SendRequest(ctx, "read_resource", map[string]interface{}{"uri": uri})
	if err != nil {
		return nil, err
	}
	return decodeContentResult(result)
}

// Ping calls the well-known "ping" tool every mcpserver.Server
// advertises, used by the aggregator's health check (spec.md §4.6).
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.CallTool(ctx, "ping", nil)
	return err
}

// ListTools fetches and decodes the backend's tool advertisement set.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	result, err := c.SendRequest(ctx, "list_tools", nil)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := remarshalInto(result, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Tools, nil
}

// ListResources fetches and decodes the backend's static resource
// advertisement set.
func (c *Client) ListResources(ctx context.Context) ([]ResourceInfo, error) {
	result, err := c.SendRequest(ctx, "list_resources", nil)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Resources []ResourceInfo `json:"resources"`
	}
	if err := remarshalInto(result, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Resources, nil
}

// ListResourceTemplates fetches and decodes the backend's
// resource-template advertisement set.
func (c *Client) ListResourceTemplates(ctx context.Context) ([]ResourceTemplateInfo, error) {
	result, err := c.SendRequest(ctx, "list_resource_templates", nil)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		ResourceTemplates []ResourceTemplateInfo `json:"resourceTemplates"`
	}
	if err := remarshalInto(result, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.ResourceTemplates, nil
}

func remarshalInto(result interface{}, dst interface{}) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return mcperr.Wrap(mcperr.ParseError, "failed to re-marshal result", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return mcperr.Wrap(mcperr.ParseError, "failed to decode result", err)
	}
	return nil
}
