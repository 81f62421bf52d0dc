package toolconv

import (
	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/lore/pkg/models"
)

// ToOpenAITools converts tool schemas to OpenAI function tools.
func ToOpenAITools(tools []models.ToolSchema) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  objectSchema(tool.Parameters),
			},
		}
	}
	return result
}
