package document

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// FrontMatter is the optional YAML header of a captured Markdown file.
type FrontMatter struct {
	Title   string   `yaml:"title,omitempty"`
	URL     string   `yaml:"url,omitempty"`
	Group   string   `yaml:"group,omitempty"`
	Tags    []string `yaml:"tags,omitempty"`
	Starred bool     `yaml:"starred,omitempty"`
}

const frontMatterDelim = "---"

// SplitFrontMatter parses an optional YAML front matter block from Markdown
// content. It returns the parsed header (nil when the content has none) and
// the body with the header stripped.
//
// Content without a leading "---" line is returned unchanged.
func SplitFrontMatter(content string) (*FrontMatter, string, error) {
	trimmed := strings.TrimLeft(content, "\uFEFF")
	if !strings.HasPrefix(trimmed, frontMatterDelim+"\n") && trimmed != frontMatterDelim {
		return nil, content, nil
	}

	rest := strings.TrimPrefix(trimmed, frontMatterDelim+"\n")
	idx := strings.Index(rest, "\n"+frontMatterDelim)
	if idx < 0 {
		// Unterminated header: treat the whole thing as body.
		return nil, content, nil
	}

	header := rest[:idx]
	body := rest[idx+len("\n"+frontMatterDelim):]
	body = strings.TrimPrefix(body, "\n")

	var fm FrontMatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return nil, "", fmt.Errorf("failed to parse front matter: %w", err)
	}
	return &fm, body, nil
}
