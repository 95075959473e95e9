package markdown

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("markdown: missing frontmatter")
	// ErrMalformedFrontMatter indicates the closing fence was not found.
	ErrMalformedFrontMatter = errors.New("markdown: malformed frontmatter")
)

var fence = []byte("---\n")

// SplitFrontMatter separates a `---` fenced YAML block from the body that
// follows it. The returned body starts right after the closing fence line.
func SplitFrontMatter(content []byte) (meta, body []byte, err error) {
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, fence) {
		return nil, nil, ErrMissingFrontMatter
	}
	rest := normalized[len(fence):]
	if bytes.HasPrefix(rest, fence) {
		return nil, rest[len(fence):], nil
	}
	parts := bytes.SplitN(rest, []byte("\n---\n"), 2)
	if len(parts) < 2 {
		// A closing fence on the very last line has no trailing newline.
		if bytes.HasSuffix(rest, []byte("\n---")) {
			return rest[:len(rest)-4], nil, nil
		}
		return nil, nil, ErrMalformedFrontMatter
	}
	return parts[0], parts[1], nil
}

// DecodeFrontMatter splits content and decodes the YAML block into v.
func DecodeFrontMatter(content []byte, v any) ([]byte, error) {
	meta, body, err := SplitFrontMatter(content)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(meta, v); err != nil {
		return nil, fmt.Errorf("markdown: parse frontmatter: %w", err)
	}
	return body, nil
}

// EncodeFrontMatter renders v as a fenced YAML block followed by body.
// SplitFrontMatter on the result yields body unchanged.
func EncodeFrontMatter(v any, body []byte) ([]byte, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("markdown: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.Write(fence)
	buf.Write(data)
	buf.Write(fence)
	buf.Write(body)
	return buf.Bytes(), nil
}
