package normalize

import "strings"

// ExtractText flattens an Atlassian document node into plain text. Only a
// node with type "doc" and a content list is accepted; each block
// contributes the text of its inline children and everything is joined
// with single spaces. Anything else yields "".
func ExtractText(node any) string {
	doc, ok := node.(map[string]any)
	if !ok || doc["type"] != "doc" {
		return ""
	}
	blocks, ok := doc["content"].([]any)
	if !ok {
		return ""
	}

	var spans []string
	for _, b := range blocks {
		block, ok := b.(map[string]any)
		if !ok {
			continue
		}
		inline, ok := block["content"].([]any)
		if !ok {
			continue
		}
		for _, i := range inline {
			leaf, ok := i.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := leaf["text"].(string); ok && text != "" {
				spans = append(spans, text)
			}
		}
	}
	return strings.Join(spans, " ")
}
