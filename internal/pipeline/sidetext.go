package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/eqho10/eqho-aios/internal/memory"
	"github.com/eqho10/eqho-aios/internal/story"
	"go.uber.org/zap"
)

const (
	ProjectContextFile = "project-context.md"
	TechStackFile      = "tech-stack.md"
)

// SideText supplies optional prompt context. An error means "not
// provided" and never stops a step.
type SideText interface {
	ProjectContext(ctx context.Context, st story.Story) (string, error)
	TechStack(ctx context.Context) (string, error)
}

// MemorySearcher finds notes related to a query.
type MemorySearcher interface {
	Search(ctx context.Context, query string, limit int) ([]memory.Result, error)
}

// ContextFiles reads side text from the context directory and, when
// Memory is set, appends related memory hits to the project context.
type ContextFiles struct {
	Dir         string
	Memory      MemorySearcher
	MemoryLimit int
	Logger      *zap.Logger
}

func (c ContextFiles) ProjectContext(ctx context.Context, st story.Story) (string, error) {
	text, err := readOptional(filepath.Join(c.Dir, ProjectContextFile))
	if err != nil {
		return "", err
	}
	if c.Memory == nil {
		return text, nil
	}

	hits, err := c.Memory.Search(ctx, st.Title, c.MemoryLimit)
	if err != nil {
		if c.Logger != nil {
			c.Logger.Warn("memory search failed", zap.String("story", st.ID), zap.Error(err))
		}
		return text, nil
	}
	if block := memory.FormatContext(hits); block != "" {
		if text != "" {
			text += "\n\n"
		}
		text += block
	}
	return text, nil
}

func (c ContextFiles) TechStack(context.Context) (string, error) {
	return readOptional(filepath.Join(c.Dir, TechStackFile))
}

// readOptional returns "" for a missing file.
func readOptional(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
