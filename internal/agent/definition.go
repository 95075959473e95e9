package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/eqho10/eqho-aios/internal/markdown"
)

// Definition is a loaded agent prompt. It is never modified after Parse.
type Definition struct {
	Role         Role     `json:"name"`
	DisplayName  string   `json:"display_name"`
	Description  string   `json:"description"`
	Phase        Phase    `json:"phase"`
	Order        int      `json:"order"`
	Identity     string   `json:"identity"`
	Capabilities []string `json:"capabilities,omitempty"`
	Commands     []string `json:"commands,omitempty"`
	Scope        []string `json:"scope,omitempty"`
	Rules        []string `json:"rules,omitempty"`
	OutputFormat string   `json:"output_format,omitempty"`
	Source       string   `json:"source"`
	Raw          string   `json:"-"`
}

type definitionMeta struct {
	DisplayName    string `yaml:"display_name"`
	DisplayNameAlt string `yaml:"displayName"`
	Description    string `yaml:"description"`
	Phase          Phase  `yaml:"phase"`
	Order          int    `yaml:"order"`
}

// Heading aliases, lowercased. The Turkish names are accepted for
// definitions written for Turkish-language projects.
var (
	identityHeadings     = []string{"identity", "kimlik"}
	capabilityHeadings   = []string{"capabilities", "yetenekler"}
	commandHeadings      = []string{"commands", "komutlar"}
	scopeHeadings        = []string{"scope", "kapsam"}
	ruleHeadings         = []string{"rules", "working rules", "calisma kurallari", "kurallar"}
	outputFormatHeadings = []string{"output format", "cikti formati"}
)

// Parse builds a Definition for role from a markdown file with YAML
// frontmatter and "##" sections. Frontmatter is optional; missing fields
// fall back to the role table.
func Parse(role Role, content []byte) (*Definition, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("parse agent: unknown role %q", role)
	}
	var meta definitionMeta
	body, err := markdown.DecodeFrontMatter(content, &meta)
	if errors.Is(err, markdown.ErrMissingFrontMatter) {
		body = content
	} else if err != nil {
		return nil, fmt.Errorf("parse agent %s: %w", role, err)
	}

	sections := make(map[string]string)
	for _, s := range markdown.Parse(string(body)).Sections() {
		key := strings.ToLower(s.Name)
		if _, seen := sections[key]; !seen {
			sections[key] = s.Content()
		}
	}
	lookup := func(names []string) string {
		for _, n := range names {
			if v, ok := sections[n]; ok {
				return v
			}
		}
		return ""
	}

	def := &Definition{
		Role:         role,
		DisplayName:  firstNonEmpty(meta.DisplayName, meta.DisplayNameAlt, role.DisplayName()),
		Description:  strings.TrimSpace(meta.Description),
		Phase:        meta.Phase,
		Order:        meta.Order,
		Identity:     lookup(identityHeadings),
		Capabilities: listItems(lookup(capabilityHeadings)),
		Commands:     listItems(lookup(commandHeadings)),
		Scope:        listItems(lookup(scopeHeadings)),
		Rules:        listItems(lookup(ruleHeadings)),
		OutputFormat: lookup(outputFormatHeadings),
		Raw:          string(content),
	}
	if def.Phase == "" {
		def.Phase = role.Affinity()
	}
	if def.Order == 0 {
		def.Order = role.Order()
	}
	return def, nil
}

// listItems returns the "- " and "* " bullet lines of a section.
func listItems(s string) []string {
	var items []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
			if item := strings.TrimSpace(line[2:]); item != "" {
				items = append(items, item)
			}
		}
	}
	return items
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
