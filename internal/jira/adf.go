package jira

import (
	"encoding/json"
	"strings"
)

// PlainTextToADF converts plain text to Jira's ADF (Atlassian Document Format),
// one paragraph per line.
func PlainTextToADF(text string) json.RawMessage {
	if text == "" {
		return nil
	}

	var content []any
	for _, para := range strings.Split(text, "\n") {
		if para == "" {
			content = append(content, map[string]any{
				"type":    "paragraph",
				"content": []any{},
			})
			continue
		}
		content = append(content, map[string]any{
			"type": "paragraph",
			"content": []any{
				map[string]any{"type": "text", "text": para},
			},
		})
	}

	doc := map[string]any{
		"type":    "doc",
		"version": 1,
		"content": content,
	}
	data, _ := json.Marshal(doc)
	return data
}
