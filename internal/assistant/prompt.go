package assistant

import (
	"os"
	"strings"
)

// LoadSystemPrompt returns the trimmed contents of path, falling back to
// fallback and then DefaultSystemPrompt when the file is missing or empty.
func LoadSystemPrompt(path, fallback string) string {
	if path = strings.TrimSpace(path); path != "" {
		if b, err := os.ReadFile(path); err == nil {
			if p := strings.TrimSpace(string(b)); p != "" {
				return p
			}
		}
	}
	if p := strings.TrimSpace(fallback); p != "" {
		return p
	}
	return DefaultSystemPrompt
}
