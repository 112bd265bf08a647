package toolconv

import (
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/haasonsaas/steward/pkg/models"
)

func TestToBedrockTools(t *testing.T) {
	defs := []models.ToolDefinition{
		{
			Name:        "search",
			Description: "Search tool",
			Schema:      json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`),
		},
	}

	cfg, err := ToBedrockTools(defs)
	if err != nil {
		t.Fatalf("ToBedrockTools: %v", err)
	}
	if cfg == nil || len(cfg.Tools) != 1 {
		t.Fatalf("expected 1 bedrock tool, got %#v", cfg)
	}

	spec, ok := cfg.Tools[0].(*types.ToolMemberToolSpec)
	if !ok {
		t.Fatalf("expected ToolMemberToolSpec, got %T", cfg.Tools[0])
	}
	if spec.Value.Name == nil || *spec.Value.Name != "search" {
		t.Errorf("tool name = %v", spec.Value.Name)
	}
	if spec.Value.InputSchema == nil {
		t.Error("missing input schema")
	}
}

func TestToBedrockToolsInvalidSchema(t *testing.T) {
	defs := []models.ToolDefinition{
		{Name: "broken", Schema: json.RawMessage(`{not-json}`)},
	}
	if _, err := ToBedrockTools(defs); err == nil {
		t.Fatal("expected error for invalid schema")
	}
}
