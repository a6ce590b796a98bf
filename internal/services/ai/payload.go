package ai

import (
	"encoding/json"
	"strings"

	"github.com/alfan-chat/relay/internal/config"
	"github.com/alfan-chat/relay/internal/models"
)

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"topP"`
	TopK             int     `json:"topK"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	ResponseMIMEType string  `json:"responseMimeType"`
}

type requestBody struct {
	SystemInstruction *content         `json:"system_instruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

// buildPayload maps the conversation to the Gemini request body. System turns
// are folded into the system instruction and the image rides on the last user
// turn only.
func buildPayload(req GenerateRequest, gen config.GenerationConfig) requestBody {
	system := []string{}
	if s := strings.TrimSpace(req.SystemPrompt); s != "" {
		system = append(system, s)
	}

	lastUser := -1
	contents := make([]content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case models.RoleSystem:
			if s := strings.TrimSpace(msg.Content); s != "" {
				system = append(system, s)
			}
			continue
		case models.RoleUser:
			lastUser = len(contents)
			contents = append(contents, content{Role: "user", Parts: []part{{Text: msg.Content}}})
		default:
			contents = append(contents, content{Role: "model", Parts: []part{{Text: msg.Content}}})
		}
	}

	if req.Image != nil && req.Image.Data != "" && lastUser >= 0 {
		contents[lastUser].Parts = append(contents[lastUser].Parts, part{
			InlineData: &inlineData{MIMEType: req.Image.MIMEType, Data: req.Image.Data},
		})
	}

	body := requestBody{
		Contents: contents,
		GenerationConfig: generationConfig{
			Temperature:      gen.Temperature,
			TopP:             gen.TopP,
			TopK:             gen.TopK,
			MaxOutputTokens:  gen.MaxOutputTokens,
			ResponseMIMEType: "text/plain",
		},
	}
	if len(system) > 0 {
		body.SystemInstruction = &content{Parts: []part{{Text: strings.Join(system, "\n\n")}}}
	}
	return body
}

// streamChunk is the subset of a streamGenerateContent record we read.
type streamChunk struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// extractText returns the text parts of one event payload. Payloads that do
// not decode yield nothing.
func extractText(payload string) []string {
	var chunk streamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return nil
	}
	var out []string
	for _, cand := range chunk.Candidates {
		for _, p := range cand.Content.Parts {
			if p.Text != "" {
				out = append(out, p.Text)
			}
		}
	}
	return out
}
