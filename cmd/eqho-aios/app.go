package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/eqho10/eqho-aios/internal/agent"
	"github.com/eqho10/eqho-aios/internal/config"
	"github.com/eqho10/eqho-aios/internal/logging"
	"github.com/eqho10/eqho-aios/internal/story"
)

// errNoProject is returned when a command needs a config file and there is none.
var errNoProject = errors.New("no EqhoAIOS project here, run 'eqho-aios init' first")

func (a *app) getenv(name string) string {
	if a.env == nil {
		return os.Getenv(name)
	}
	return a.env(name)
}

func (a *app) configPath() string {
	if p := a.getenv("EQHO_AIOS_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(a.root, config.DefaultPath)
}

// loadConfig reads and validates the project config. When required is
// false a missing file yields the defaults.
func (a *app) loadConfig(required bool) (*config.Config, error) {
	path := a.configPath()
	data, err := os.ReadFile(path)
	var cfg *config.Config
	switch {
	case errors.Is(err, fs.ErrNotExist) && !required:
		cfg = config.Default()
		cfg.Env = a.env
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w (%s not found)", errNoProject, path)
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		cfg, err = config.Parse(data, a.env)
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.Root = a.root
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup loads the config and builds the logger every command shares.
func (a *app) setup(required bool) (*config.Config, *zap.Logger, error) {
	cfg, err := a.loadConfig(required)
	if err != nil {
		return nil, nil, err
	}
	logCfg := cfg.Log
	if logCfg.File != "" {
		logCfg.File = cfg.Path(logCfg.File)
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func storyStore(cfg *config.Config, logger *zap.Logger) *story.FileStore {
	return story.NewFileStore(cfg.Path(cfg.Paths.Stories), logger)
}

func agentRegistry(cfg *config.Config, logger *zap.Logger) *agent.Registry {
	return agent.NewRegistry(cfg.Path(cfg.Paths.Agents), logger, agent.WithEnabled(cfg.AgentEnabled))
}
