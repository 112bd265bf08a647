package toolconv

import (
	"encoding/json"
	"testing"

	"google.golang.org/genai"

	"github.com/haasonsaas/steward/pkg/models"
)

func TestToGeminiTools(t *testing.T) {
	defs := []models.ToolDefinition{
		{
			Name:        "search",
			Description: "Search the index",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "Search query"},
					"limit": {"type": "integer"},
					"mode": {"type": "string", "enum": ["fast", "deep"]}
				},
				"required": ["query"]
			}`),
		},
	}

	tools, err := ToGeminiTools(defs)
	if err != nil {
		t.Fatalf("ToGeminiTools: %v", err)
	}
	if len(tools) != 1 || len(tools[0].FunctionDeclarations) != 1 {
		t.Fatalf("expected one tool with one declaration, got %#v", tools)
	}

	decl := tools[0].FunctionDeclarations[0]
	if decl.Name != "search" || decl.Description != "Search the index" {
		t.Errorf("declaration = %q / %q", decl.Name, decl.Description)
	}
	if decl.Parameters.Type != genai.TypeObject {
		t.Errorf("parameters type = %v, want OBJECT", decl.Parameters.Type)
	}
	query := decl.Parameters.Properties["query"]
	if query == nil || query.Type != genai.TypeString || query.Description != "Search query" {
		t.Errorf("query property = %#v", query)
	}
	mode := decl.Parameters.Properties["mode"]
	if mode == nil || len(mode.Enum) != 2 {
		t.Errorf("mode enum = %#v", mode)
	}
	if len(decl.Parameters.Required) != 1 || decl.Parameters.Required[0] != "query" {
		t.Errorf("required = %v", decl.Parameters.Required)
	}
}

func TestToGeminiToolsEmpty(t *testing.T) {
	tools, err := ToGeminiTools(nil)
	if err != nil {
		t.Fatalf("ToGeminiTools: %v", err)
	}
	if tools != nil {
		t.Errorf("expected nil for no definitions, got %#v", tools)
	}
}

func TestToGeminiSchemaItems(t *testing.T) {
	schema := ToGeminiSchema(map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	})
	if schema.Type != genai.TypeArray {
		t.Errorf("type = %v, want ARRAY", schema.Type)
	}
	if schema.Items == nil || schema.Items.Type != genai.TypeString {
		t.Errorf("items = %#v", schema.Items)
	}
}
