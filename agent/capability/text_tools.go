package capability

import (
	"context"
	"fmt"

	"github.com/rehearsed/rehearsed/engine"
)

// Module and tool names of the first-party text capabilities.
const (
	TextToolsModule  = "text_tools"
	GenerateTextTool = "generate_text"
)

const markdownInstruction = "Return all responses in Markdown format"

// RegisterTextTools registers the text_tools module. model generates the
// markdown; modelName may be empty to use the model's default.
func RegisterTextTools(r *Registry, model engine.Model, modelName string) error {
	return r.Register(TextToolsModule, GenerateTextTool, Capability{
		Description: "Generate markdown text from a prompt.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt":    map[string]any{"type": "string", "description": "What to write."},
				"file_name": map[string]any{"type": "string", "description": "Artifact file name."},
			},
			"required": []any{"prompt"},
		},
		Invoke: generateText(model, modelName),
	})
}

func generateText(model engine.Model, modelName string) engine.ToolFunc {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		prompt, _ := args["prompt"].(string)
		if prompt == "" {
			return nil, fmt.Errorf("%s: prompt is required", GenerateTextTool)
		}
		fileName, _ := args["file_name"].(string)
		if fileName == "" {
			fileName = "text.md"
		}

		resp, err := model.Generate(ctx, &engine.ModelRequest{
			Model:             modelName,
			SystemInstruction: markdownInstruction,
			Contents:          []*engine.Content{engine.NewTextContent(engine.RoleUser, prompt)},
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", GenerateTextTool, err)
		}
		if resp.Content == nil || !resp.Content.HasText() {
			return map[string]any{
				"status":  "error",
				"details": "No markdown text was generated",
			}, nil
		}
		return map[string]any{
			"status":    "success",
			"details":   "Markdown text generated successfully",
			"file_name": fileName,
			"markdown":  resp.Content.Text(),
		}, nil
	}
}
