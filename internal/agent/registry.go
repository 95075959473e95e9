package agent

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/zap"
)

//go:embed bundled/*.md
var bundledFS embed.FS

var (
	// ErrNotFound is returned when neither the custom directory nor the
	// bundled set contains a definition for a role.
	ErrNotFound = errors.New("agent definition not found")
	// ErrNoAgents is returned by LoadAll when no enabled agent loads.
	ErrNoAgents = errors.New("no agent definitions could be loaded")
)

// Registry resolves agent definitions, preferring a project's custom
// directory over the definitions compiled into the binary.
type Registry struct {
	customDir string
	bundled   fs.FS
	enabled   func(Role) bool
	logger    *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithBundledFS replaces the compiled-in definitions. The FS must hold
// the files under a "bundled" directory.
func WithBundledFS(fsys fs.FS) RegistryOption {
	return func(r *Registry) { r.bundled = fsys }
}

// WithEnabled sets the predicate LoadAll uses to skip disabled agents.
func WithEnabled(fn func(Role) bool) RegistryOption {
	return func(r *Registry) { r.enabled = fn }
}

// NewRegistry creates a registry reading overrides from customDir.
func NewRegistry(customDir string, logger *zap.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		customDir: customDir,
		bundled:   bundledFS,
		enabled:   func(Role) bool { return true },
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load returns the definition for role.
func (r *Registry) Load(role Role) (*Definition, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("load agent: unknown role %q", role)
	}
	customPath := filepath.Join(r.customDir, role.FileName())
	if r.customDir != "" {
		data, err := os.ReadFile(customPath)
		switch {
		case err == nil:
			def, err := Parse(role, data)
			if err != nil {
				return nil, err
			}
			def.Source = customPath
			r.logger.Debug("loaded custom agent", zap.String("agent", string(role)), zap.String("path", customPath))
			return def, nil
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("read agent %s: %w", customPath, err)
		}
	}

	bundledPath := path.Join("bundled", role.FileName())
	data, err := fs.ReadFile(r.bundled, bundledPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s (searched %s and bundled:%s)", ErrNotFound, role, customPath, bundledPath)
	}
	if err != nil {
		return nil, fmt.Errorf("read bundled agent %s: %w", bundledPath, err)
	}
	def, err := Parse(role, data)
	if err != nil {
		return nil, err
	}
	def.Source = "bundled:" + bundledPath
	return def, nil
}

// LoadAll loads every enabled agent. Individual failures are logged and
// skipped; an error is returned only when nothing loads.
func (r *Registry) LoadAll() (map[Role]*Definition, error) {
	defs := make(map[Role]*Definition)
	for _, role := range Roles() {
		if !r.enabled(role) {
			continue
		}
		def, err := r.Load(role)
		if err != nil {
			r.logger.Warn("skipping agent", zap.String("agent", string(role)), zap.Error(err))
			continue
		}
		defs[role] = def
	}
	if len(defs) == 0 {
		return nil, ErrNoAgents
	}
	return defs, nil
}
