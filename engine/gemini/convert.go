package gemini

import (
	"google.golang.org/genai"

	"github.com/rehearsed/rehearsed/engine"
)

func toGenaiContents(in []*engine.Content) []*genai.Content {
	out := make([]*genai.Content, 0, len(in))
	for _, c := range in {
		if gc := toGenaiContent(c); gc != nil {
			out = append(out, gc)
		}
	}
	return out
}

func toGenaiContent(c *engine.Content) *genai.Content {
	if c == nil {
		return nil
	}
	parts := make([]*genai.Part, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch {
		case p.FunctionCall != nil:
			parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
				ID:   p.FunctionCall.ID,
				Name: p.FunctionCall.Name,
				Args: p.FunctionCall.Args,
			}})
		case p.FunctionResponse != nil:
			parts = append(parts, &genai.Part{FunctionResponse: toGenaiFunctionResponse(*p.FunctionResponse)})
		case p.InlineData != nil:
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{
				MIMEType: p.InlineData.MIMEType,
				Data:     p.InlineData.Data,
			}})
		case p.Text != "":
			parts = append(parts, &genai.Part{Text: p.Text})
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return &genai.Content{Role: c.Role, Parts: parts}
}

func toGenaiFunctionResponse(r engine.FunctionResponse) *genai.FunctionResponse {
	resp := r.Response
	if resp == nil {
		resp = map[string]any{}
	}
	return &genai.FunctionResponse{ID: r.ID, Name: r.Name, Response: resp}
}

func fromGenaiContent(c *genai.Content) *engine.Content {
	if c == nil {
		return nil
	}
	out := &engine.Content{Role: c.Role}
	for _, p := range c.Parts {
		if p == nil {
			continue
		}
		switch {
		case p.FunctionCall != nil:
			out.Parts = append(out.Parts, engine.Part{FunctionCall: &engine.FunctionCall{
				ID:   p.FunctionCall.ID,
				Name: p.FunctionCall.Name,
				Args: p.FunctionCall.Args,
			}})
		case p.InlineData != nil:
			out.Parts = append(out.Parts, engine.Part{InlineData: &engine.Blob{
				MIMEType: p.InlineData.MIMEType,
				Data:     p.InlineData.Data,
			}})
		case p.Text != "" && !p.Thought:
			out.Parts = append(out.Parts, engine.Part{Text: p.Text})
		}
	}
	return out
}

func toGenaiTools(decls []engine.ToolDeclaration) []*genai.Tool {
	if len(decls) == 0 {
		return nil
	}
	fds := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		fd := &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
		}
		if d.Parameters != nil {
			fd.ParametersJsonSchema = d.Parameters
		}
		fds = append(fds, fd)
	}
	return []*genai.Tool{{FunctionDeclarations: fds}}
}
