package story

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/eqho10/eqho-aios/internal/agent"
	"github.com/eqho10/eqho-aios/internal/markdown"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no story file carries the requested id.
var ErrNotFound = errors.New("story not found")

// IDPrefix is the prefix of generated story ids.
const IDPrefix = "EQHO-"

// Parse decodes a story file.
func Parse(content []byte, path string) (Story, error) {
	var fm Frontmatter
	body, err := markdown.DecodeFrontMatter(content, &fm)
	if err != nil {
		return Story{}, fmt.Errorf("parse story %s: %w", path, err)
	}
	if fm.ID == "" {
		return Story{}, fmt.Errorf("parse story %s: frontmatter has no id", path)
	}
	return New(fm, string(body), path), nil
}

// Marshal renders a story back to frontmatter + body.
func Marshal(s Story) ([]byte, error) {
	return markdown.EncodeFrontMatter(s.Frontmatter, []byte(s.Body()))
}

// FileStore keeps stories as markdown files in one directory. Files whose
// name starts with "_" are templates and are never loaded.
type FileStore struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

// StoreOption configures a FileStore.
type StoreOption func(*FileStore)

// WithClock sets the time source used for created dates.
func WithClock(now func() time.Time) StoreOption {
	return func(s *FileStore) { s.now = now }
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string, logger *zap.Logger, opts ...StoreOption) *FileStore {
	s := &FileStore{dir: dir, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir is the stories directory.
func (s *FileStore) Dir() string { return s.dir }

// Load finds the story with the given id.
func (s *FileStore) Load(ctx context.Context, id string) (Story, error) {
	stories, err := s.scan(ctx)
	if err != nil {
		return Story{}, err
	}
	for _, st := range stories {
		if st.ID == id {
			return st, nil
		}
	}
	return Story{}, fmt.Errorf("%w: %s (in %s)", ErrNotFound, id, s.dir)
}

// List returns stories sorted by id, optionally filtered by status.
func (s *FileStore) List(ctx context.Context, status Status) ([]Story, error) {
	stories, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	out := stories[:0]
	for _, st := range stories {
		if status == "" || st.Status == status {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FileStore) scan(ctx context.Context) ([]Story, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read stories dir: %w", err)
	}
	var stories []Story
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".md") || strings.HasPrefix(name, "_") {
			continue
		}
		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read story %s: %w", path, err)
		}
		st, err := Parse(data, path)
		if err != nil {
			s.logger.Warn("skipping unreadable story", zap.String("path", path), zap.Error(err))
			continue
		}
		stories = append(stories, st)
	}
	return stories, nil
}

// Persist rewrites the story file in a single atomic replace.
func (s *FileStore) Persist(_ context.Context, st Story) error {
	if st.Path == "" {
		return fmt.Errorf("persist story %s: no file path", st.ID)
	}
	data, err := Marshal(st)
	if err != nil {
		return fmt.Errorf("persist story %s: %w", st.ID, err)
	}
	if err := writeFileAtomic(st.Path, data); err != nil {
		return fmt.Errorf("persist story %s: %w", st.ID, err)
	}
	s.logger.Debug("story persisted", zap.String("story", st.ID), zap.String("status", string(st.Status)))
	return nil
}

// NextID returns the id after the highest numbered story.
func (s *FileStore) NextID(ctx context.Context) (string, error) {
	stories, err := s.scan(ctx)
	if err != nil {
		return "", err
	}
	highest := 0
	for _, st := range stories {
		n, err := strconv.Atoi(strings.TrimPrefix(st.ID, IDPrefix))
		if err == nil && n > highest {
			highest = n
		}
	}
	return fmt.Sprintf("%s%03d", IDPrefix, highest+1), nil
}

// Draft describes a story to create.
type Draft struct {
	Title    string
	Priority Priority
	Tags     []string
}

// Create writes a new draft story with the standard section skeleton.
func (s *FileStore) Create(ctx context.Context, d Draft) (Story, error) {
	if strings.TrimSpace(d.Title) == "" {
		return Story{}, errors.New("create story: title is required")
	}
	if d.Priority == "" {
		d.Priority = PriorityMedium
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Story{}, fmt.Errorf("create stories dir: %w", err)
	}
	id, err := s.NextID(ctx)
	if err != nil {
		return Story{}, err
	}
	fm := Frontmatter{
		ID:              id,
		Title:           strings.TrimSpace(d.Title),
		Status:          StatusDraft,
		Priority:        d.Priority,
		Phase:           "planning",
		AgentsCompleted: []agent.Role{},
		Created:         s.now().Format(dateLayout),
		Tags:            d.Tags,
	}
	path := filepath.Join(s.dir, id+"-"+slugify(fm.Title)+".md")
	if _, err := os.Stat(path); err == nil {
		return Story{}, fmt.Errorf("create story: %s already exists", path)
	}
	st := New(fm, skeleton(id, fm.Title), path)
	if err := s.Persist(ctx, st); err != nil {
		return Story{}, err
	}
	return st, nil
}

func skeleton(id, title string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n# %s: %s\n\n## Summary\n\n\n", id, title)
	for _, r := range agent.Roles() {
		fmt.Fprintf(&b, "## %s\n\n\n", r.Section())
		if r == agent.ScrumMaster {
			b.WriteString("## Test Checklist (for @qa)\n\n\n")
		}
	}
	fmt.Fprintf(&b, "## %s\n", HistorySection)
	return b.String()
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(title string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if len(slug) > 48 {
		slug = strings.TrimRight(slug[:48], "-")
	}
	if slug == "" {
		slug = "story"
	}
	return slug
}
