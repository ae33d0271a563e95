package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"mcpfabric/internal/protocol"
)

// RegisterFilesystemTools adds read_file and list_directory, rooted at
// rootDir via os.Root so a served directory tree cannot be escaped with
// "..".
//
// Grounded on mcp_tools.go's FileReadTool/ListDirectoryTool: the same
// os.Root-based secure-access pattern and Schema() shape, adapted to
// this package's declarative ToolParam validation and
// []protocol.ContentItem return convention instead of an opaque
// interface{} result.
func (s *Server) RegisterFilesystemTools(rootDir string) error {
	root, err := os.OpenRoot(rootDir)
	if err != nil {
		return fmt.Errorf("mcpserver: open root %q: %w", rootDir, err)
	}

	s.RegisterTool(&Tool{
		Name:        "read_file",
		Description: "Read the contents of a file from the filesystem",
		Params: []ToolParam{
			{Name: "path", Type: ParamString, Required: true, Description: "Path to the file to read"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) ([]protocol.ContentItem, error) {
			path, _ := args["path"].(string)
			f, err := root.Open(filepath.Clean(path))
			if err != nil {
				return nil, fmt.Errorf("open file: %w", err)
			}
			defer f.Close()
			data, err := io.ReadAll(f)
			if err != nil {
				return nil, fmt.Errorf("read file: %w", err)
			}
			return []protocol.ContentItem{protocol.TextItem("text/plain", string(data))}, nil
		},
	})

	s.RegisterTool(&Tool{
		Name:        "list_directory",
		Description: "List the contents of a directory",
		Params: []ToolParam{
			{Name: "path", Type: ParamString, Required: false, Description: "Path to the directory to list"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) ([]protocol.ContentItem, error) {
			path := "."
			if p, ok := args["path"].(string); ok && p != "" {
				path = p
			}
			dir, err := root.Open(filepath.Clean(path))
			if err != nil {
				return nil, fmt.Errorf("open directory: %w", err)
			}
			defer dir.Close()
			entries, err := dir.ReadDir(-1)
			if err != nil {
				return nil, fmt.Errorf("read directory: %w", err)
			}

			listing := make([]map[string]interface{}, 0, len(entries))
			for _, e := range entries {
				info, err := e.Info()
				if err != nil {
					continue
				}
				kind := "file"
				if e.IsDir() {
					kind = "directory"
				}
				listing = append(listing, map[string]interface{}{
					"name":    e.Name(),
					"type":    kind,
					"size":    info.Size(),
					"modTime": info.ModTime().Format(time.RFC3339),
				})
			}
			encoded, err := json.Marshal(listing)
			if err != nil {
				return nil, fmt.Errorf("encode directory listing: %w", err)
			}
			return []protocol.ContentItem{protocol.JSONItem(string(encoded))}, nil
		},
	})

	return nil
}
