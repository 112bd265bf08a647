package toolconv

import (
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/haasonsaas/steward/pkg/models"
)

// ToBedrockTools converts tool definitions into a Converse API tool
// configuration.
func ToBedrockTools(defs []models.ToolDefinition) (*types.ToolConfiguration, error) {
	if len(defs) == 0 {
		return nil, nil
	}

	tools := make([]types.Tool, 0, len(defs))
	for _, def := range defs {
		var schema any
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			return nil, fmt.Errorf("tool %s: invalid schema: %w", def.Name, err)
		}
		tools = append(tools, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(def.Name),
				Description: aws.String(def.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		})
	}

	return &types.ToolConfiguration{Tools: tools}, nil
}
