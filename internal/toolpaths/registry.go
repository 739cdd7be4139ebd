// Package toolpaths maps Claude Code tool invocations to the files they touch.
//
// The set of tools is closed: each registered tool has a JSON Schema for its
// arguments and a list of fields naming the files it touches. Unknown tools
// and arguments that fail their schema touch no files.
package toolpaths

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Kind classifies a tool by how it uses the files it names.
type Kind int

const (
	KindNone Kind = iota
	KindWriting
	KindReading
)

func (k Kind) String() string {
	switch k {
	case KindWriting:
		return "writing"
	case KindReading:
		return "reading"
	default:
		return "none"
	}
}

// Sets holds the configured writing and reading tool names.
type Sets struct {
	Writing []string
	Reading []string
}

// Classify returns the kind of toolName. Writing wins if a tool appears in
// both sets.
func (s Sets) Classify(toolName string) Kind {
	for _, name := range s.Writing {
		if name == toolName {
			return KindWriting
		}
	}
	for _, name := range s.Reading {
		if name == toolName {
			return KindReading
		}
	}
	return KindNone
}

// Participates reports whether toolName takes file locks at all.
func (s Sets) Participates(toolName string) bool {
	return s.Classify(toolName) != KindNone
}

// Tool describes a tool whose arguments name files. PathFields lists the
// argument fields holding paths, in the order locks are taken; each field
// is a string or an array of strings. An empty Schema is generated from
// PathFields.
type Tool struct {
	Name       string
	Schema     string
	PathFields []string
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry is the closed set of tools with known argument shapes.
type Registry struct {
	tools map[string]entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

const filePathSchema = `{
  "type": "object",
  "required": ["file_path"],
  "properties": {
    "file_path": {"type": "string", "minLength": 1}
  }
}`

const editSchema = `{
  "type": "object",
  "required": ["file_path", "old_string", "new_string"],
  "properties": {
    "file_path": {"type": "string", "minLength": 1},
    "old_string": {"type": "string"},
    "new_string": {"type": "string"},
    "replace_all": {"type": "boolean"}
  }
}`

const multiEditSchema = `{
  "type": "object",
  "required": ["file_path", "edits"],
  "properties": {
    "file_path": {"type": "string", "minLength": 1},
    "edits": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["old_string", "new_string"]
      }
    }
  }
}`

const notebookEditSchema = `{
  "type": "object",
  "required": ["notebook_path"],
  "properties": {
    "notebook_path": {"type": "string", "minLength": 1},
    "cell_id": {"type": "string"},
    "new_source": {"type": "string"},
    "edit_mode": {"enum": ["replace", "insert", "delete"]}
  }
}`

// Builtins are the host's file tools.
var Builtins = []Tool{
	{Name: "Write", Schema: filePathSchema, PathFields: []string{"file_path"}},
	{Name: "Edit", Schema: editSchema, PathFields: []string{"file_path"}},
	{Name: "MultiEdit", Schema: multiEditSchema, PathFields: []string{"file_path"}},
	{Name: "NotebookEdit", Schema: notebookEditSchema, PathFields: []string{"notebook_path"}},
	{Name: "Read", Schema: filePathSchema, PathFields: []string{"file_path"}},
}

// DefaultRegistry returns a registry holding Builtins.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, t := range Builtins {
		if err := r.Register(t); err != nil {
			panic(fmt.Sprintf("toolpaths: %v", err))
		}
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool has no name")
	}
	if len(t.PathFields) == 0 {
		return fmt.Errorf("tool %s: no path fields", t.Name)
	}
	src := t.Schema
	if src == "" {
		src = pathFieldsSchema(t.PathFields)
	}
	schema, err := compile(t.Name, src)
	if err != nil {
		return err
	}
	r.tools[t.Name] = entry{tool: t, schema: schema}
	return nil
}

// pathFieldsSchema requires every field to be a path or a list of paths.
func pathFieldsSchema(fields []string) string {
	pathOrList := map[string]any{
		"anyOf": []any{
			map[string]any{"type": "string", "minLength": 1},
			map[string]any{
				"type":     "array",
				"minItems": 1,
				"items":    map[string]any{"type": "string", "minLength": 1},
			},
		},
	}
	props := make(map[string]any, len(fields))
	for _, f := range fields {
		props[f] = pathOrList
	}
	doc, _ := json.Marshal(map[string]any{
		"type":       "object",
		"required":   fields,
		"properties": props,
	})
	return string(doc)
}

func compile(name, src string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(src)))
	if err != nil {
		return nil, fmt.Errorf("tool %s: parse schema: %w", name, err)
	}
	url := name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("tool %s: add schema: %w", name, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tool %s: compile schema: %w", name, err)
	}
	return schema, nil
}

// Known reports whether toolName is registered.
func (r *Registry) Known(toolName string) bool {
	_, ok := r.tools[toolName]
	return ok
}

// Validate checks args against the schema of toolName.
func (r *Registry) Validate(toolName string, args json.RawMessage) error {
	e, ok := r.tools[toolName]
	if !ok {
		return fmt.Errorf("unknown tool %q", toolName)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return fmt.Errorf("%s arguments: invalid JSON: %w", toolName, err)
	}
	if err := e.schema.Validate(doc); err != nil {
		return fmt.Errorf("%s arguments: %w", toolName, err)
	}
	return nil
}

// Extract returns the canonical paths toolName would touch given args.
// Relative paths resolve against cwd. The result keeps argument order with
// duplicates removed; it is empty for unknown tools or invalid arguments.
func (r *Registry) Extract(toolName string, args json.RawMessage, cwd string) []string {
	e, ok := r.tools[toolName]
	if !ok || len(bytes.TrimSpace(args)) == 0 {
		return nil
	}
	if err := r.Validate(toolName, args); err != nil {
		return nil
	}
	raw, err := fieldPaths(args, e.tool.PathFields)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool, len(raw))
	paths := make([]string, 0, len(raw))
	for _, p := range raw {
		if p == "" {
			continue
		}
		c := Canonical(p, cwd)
		if seen[c] {
			continue
		}
		seen[c] = true
		paths = append(paths, c)
	}
	return paths
}

func fieldPaths(args json.RawMessage, fields []string) ([]string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(args, &obj); err != nil {
		return nil, err
	}
	var paths []string
	for _, f := range fields {
		raw, ok := obj[f]
		if !ok {
			continue
		}
		var one string
		if err := json.Unmarshal(raw, &one); err == nil {
			paths = append(paths, one)
			continue
		}
		var many []string
		if err := json.Unmarshal(raw, &many); err != nil {
			return nil, fmt.Errorf("field %s: %w", f, err)
		}
		paths = append(paths, many...)
	}
	return paths, nil
}

// Canonical returns path as a clean absolute path, resolving a relative path
// against cwd (or the process working directory when cwd is empty).
func Canonical(path, cwd string) string {
	if !filepath.IsAbs(path) {
		if cwd != "" {
			path = filepath.Join(cwd, path)
		} else if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	return filepath.Clean(path)
}
