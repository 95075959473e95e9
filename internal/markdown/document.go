package markdown

import "strings"

// Section is one level-two heading and the raw text up to the next one.
type Section struct {
	Name    string
	heading string
	body    string
}

// Content is the section body with surrounding whitespace removed.
func (s Section) Content() string { return strings.TrimSpace(s.body) }

// Document is an ordered view of a markdown body split on "## " headings.
// Headings inside fenced code blocks are ignored. String reproduces the
// parsed input byte for byte until a section is modified.
type Document struct {
	preamble string
	sections []Section
}

// Parse splits body into a preamble and its level-two sections.
func Parse(body string) Document {
	var (
		doc     Document
		cur     *Section
		inFence bool
	)
	for _, line := range strings.SplitAfter(body, "\n") {
		if line == "" {
			continue
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if isFence(trimmed) {
			inFence = !inFence
		}
		if !inFence && strings.HasPrefix(trimmed, "## ") {
			doc.sections = append(doc.sections, Section{
				Name:    strings.TrimSpace(trimmed[3:]),
				heading: line,
			})
			cur = &doc.sections[len(doc.sections)-1]
			continue
		}
		if cur == nil {
			doc.preamble += line
		} else {
			cur.body += line
		}
	}
	return doc
}

func isFence(line string) bool {
	l := strings.TrimLeft(line, " ")
	return strings.HasPrefix(l, "```") || strings.HasPrefix(l, "~~~")
}

// fenceMarker returns the run of backticks or tildes opening a fence line.
func fenceMarker(line string) string {
	l := strings.TrimLeft(line, " ")
	n := 0
	for n < len(l) && l[n] == l[0] {
		n++
	}
	return l[:n]
}

// Contain rewrites text so that it parses as a single section body:
// level-two headings outside code fences are demoted to level three and
// a fence left open at the end is closed.
func Contain(text string) string {
	var (
		b     strings.Builder
		fence string
	)
	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimRight(line, "\r\n")
		switch {
		case isFence(trimmed):
			if fence == "" {
				fence = fenceMarker(trimmed)
			} else {
				fence = ""
			}
		case fence == "" && strings.HasPrefix(trimmed, "## "):
			line = "#" + line
		}
		b.WriteString(line)
	}
	if fence != "" {
		if !strings.HasSuffix(b.String(), "\n") {
			b.WriteString("\n")
		}
		b.WriteString(fence)
	}
	return b.String()
}

// String renders the document back to markdown.
func (d Document) String() string {
	var b strings.Builder
	b.WriteString(d.preamble)
	for _, s := range d.sections {
		b.WriteString(s.heading)
		b.WriteString(s.body)
	}
	return b.String()
}

// Preamble is the text before the first section heading.
func (d Document) Preamble() string { return d.preamble }

// Sections returns a copy of the sections in document order.
func (d Document) Sections() []Section {
	return append([]Section(nil), d.sections...)
}

// Section returns the trimmed content of the first section called name.
func (d Document) Section(name string) (string, bool) {
	i := d.index(name)
	if i < 0 {
		return "", false
	}
	return d.sections[i].Content(), true
}

func (d Document) index(name string) int {
	for i, s := range d.sections {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// Clone returns a document that shares no mutable state with d.
func (d Document) Clone() Document {
	return Document{preamble: d.preamble, sections: d.Sections()}
}

// Set replaces the body of section name with content, appending the
// section at the end of the document if it does not exist yet. Content is
// passed through Contain, so the document always parses back to the same
// sections.
func (d *Document) Set(name, content string) {
	content = Contain(strings.TrimSpace(content))
	defer d.reparse()
	i := d.index(name)
	if i < 0 {
		d.appendSection(name, content)
		return
	}
	s := &d.sections[i]
	if !strings.HasSuffix(s.heading, "\n") {
		s.heading += "\n"
	}
	s.body = "\n" + content + "\n" + d.separator(i)
}

// reparse rebuilds the section list from the rendered text, the same way
// a reload from disk would.
func (d *Document) reparse() {
	*d = Parse(d.String())
}

// AppendLine adds line to the end of section name, creating the section
// if needed.
func (d *Document) AppendLine(name, line string) {
	line = Contain(line)
	defer d.reparse()
	i := d.index(name)
	if i < 0 {
		d.appendSection(name, line)
		return
	}
	s := &d.sections[i]
	if !strings.HasSuffix(s.heading, "\n") {
		s.heading += "\n"
	}
	existing := strings.TrimRight(s.body, "\n")
	if strings.TrimSpace(existing) == "" {
		existing = ""
	}
	s.body = existing + "\n" + line + "\n" + d.separator(i)
}

// separator keeps a blank line between a section and the heading after it.
func (d *Document) separator(i int) string {
	if i < len(d.sections)-1 {
		return "\n"
	}
	return ""
}

func (d *Document) appendSection(name, content string) {
	tail := d.String()
	switch {
	case tail == "":
	case strings.HasSuffix(tail, "\n\n"):
	case strings.HasSuffix(tail, "\n"):
		d.padTail("\n")
	default:
		d.padTail("\n\n")
	}
	d.sections = append(d.sections, Section{
		Name:    name,
		heading: "## " + name + "\n",
		body:    "\n" + content + "\n",
	})
}

func (d *Document) padTail(pad string) {
	if n := len(d.sections); n > 0 {
		d.sections[n-1].body += pad
		return
	}
	d.preamble += pad
}
