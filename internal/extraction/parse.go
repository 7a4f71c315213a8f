package extraction

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"github.com/medsnap/rxscan/internal/domain/medicine"
)

var (
	jsonFence = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	anyFence  = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
)

// ParseResponse turns a model response into a raw extraction. The function
// call arguments are preferred; otherwise the text content is parsed as JSON.
func ParseResponse(resp *genai.GenerateContentResponse) (*medicine.RawExtraction, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, ErrNoResponse
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return nil, ErrNoResponse
	}

	var text strings.Builder
	for _, part := range cand.Content.Parts {
		switch p := part.(type) {
		case genai.FunctionCall:
			if p.Name == functionName && p.Args != nil {
				return parseArgs(p.Args)
			}
		case *genai.FunctionCall:
			if p != nil && p.Name == functionName && p.Args != nil {
				return parseArgs(p.Args)
			}
		case genai.Text:
			text.WriteString(string(p))
		}
	}

	content := text.String()
	if strings.TrimSpace(content) == "" {
		return nil, ErrNoResponse
	}
	return ParseContent(content), nil
}

func parseArgs(args map[string]any) (*medicine.RawExtraction, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to parse AI response: %w", err)
	}
	var x medicine.RawExtraction
	if err := json.Unmarshal(data, &x); err != nil {
		return nil, fmt.Errorf("failed to parse AI response: %w", err)
	}
	return &x, nil
}

// ParseContent parses free-text model output. A ```json fence wins over a
// bare fence, which wins over the raw text. Unparseable content yields an
// extraction with no medicines and the content as raw text.
func ParseContent(content string) *medicine.RawExtraction {
	candidate := content
	if m := jsonFence.FindStringSubmatch(content); m != nil {
		candidate = m[1]
	} else if m := anyFence.FindStringSubmatch(content); m != nil {
		candidate = m[1]
	}

	var x medicine.RawExtraction
	if err := json.Unmarshal([]byte(strings.TrimSpace(candidate)), &x); err != nil {
		return &medicine.RawExtraction{RawText: medicine.Present(content)}
	}
	return &x
}
