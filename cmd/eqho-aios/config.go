package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eqho10/eqho-aios/internal/config"
	"github.com/eqho10/eqho-aios/internal/console"
	"github.com/eqho10/eqho-aios/internal/pipeline"
)

func (a *app) cmdConfig(_ context.Context, args []string) error {
	if len(args) < 1 {
		return a.usageError("config <show|validate> [options]")
	}
	switch args[0] {
	case "show":
		return a.cmdConfigShow(args[1:])
	case "validate":
		if len(args) > 1 {
			return a.usageError("config validate")
		}
		return a.cmdConfigValidate()
	default:
		fmt.Fprintf(a.stderr, "unknown config subcommand: %s\n", args[0])
		return a.usageError("config <show|validate> [options]")
	}
}

func (a *app) cmdConfigShow(args []string) error {
	flags := a.flags("config show")
	key := flags.String("key", "", "dotted key to print, e.g. llm.model")
	pos, err := parseFlags(flags, args)
	if err != nil {
		return err
	}
	if len(pos) > 0 {
		return a.usageError("config show [--key a.b]")
	}

	cfg, err := a.loadConfig(false)
	if err != nil {
		return err
	}
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	if *key == "" {
		_, err = a.stdout.Write(data)
		return err
	}

	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return err
	}
	v, ok := lookup(tree, *key)
	if !ok {
		return fmt.Errorf("config key %q not found", *key)
	}
	if m, isMap := v.(map[string]any); isMap {
		out, err := yaml.Marshal(m)
		if err != nil {
			return err
		}
		_, err = a.stdout.Write(out)
		return err
	}
	fmt.Fprintln(a.stdout, v)
	return nil
}

func lookup(tree map[string]any, key string) (any, bool) {
	var cur any = tree
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func (a *app) cmdConfigValidate() error {
	cfg, err := a.loadConfig(true)
	if err != nil {
		return err
	}
	if _, err := a.newBackend(cfg, zap.NewNop()); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, console.OK(fmt.Sprintf("configuration is valid (%s, model %s)", cfg.LLM.Provider, cfg.LLM.Model)))
	return nil
}

// frameworkMarkers maps a marker file to the stack it implies.
var frameworkMarkers = []struct {
	file      string
	framework string
}{
	{"go.mod", "go"},
	{"package.json", "node"},
	{"requirements.txt", "python"},
	{"pyproject.toml", "python"},
	{"Cargo.toml", "rust"},
	{"pom.xml", "java"},
	{"composer.json", "php"},
	{"Gemfile", "ruby"},
}

func (a *app) detectFramework() string {
	for _, m := range frameworkMarkers {
		if _, err := os.Stat(filepath.Join(a.root, m.file)); err == nil {
			return m.framework
		}
	}
	return ""
}

func (a *app) cmdInit(_ context.Context, args []string) error {
	flags := a.flags("init")
	framework := flags.String("framework", "", "framework or language (detected when empty)")
	language := flags.String("language", "en", "language of agent outputs: en or tr")
	force := flags.Bool("force", false, "overwrite an existing configuration")
	pos, err := parseFlags(flags, args)
	if err != nil {
		return err
	}
	if len(pos) > 1 {
		return a.usageError("init [name] [--framework f] [--language en|tr] [--force]")
	}
	if *language != "en" && *language != "tr" {
		return fmt.Errorf("language must be en or tr, got %q", *language)
	}

	cfgPath := a.configPath()
	if _, err := os.Stat(cfgPath); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	name := ""
	if len(pos) == 1 {
		name = pos[0]
	} else if abs, err := filepath.Abs(a.root); err == nil {
		name = filepath.Base(abs)
	}
	if *framework == "" {
		*framework = a.detectFramework()
	}

	cfg := config.Default()
	cfg.Root = a.root
	cfg.Project.Name = name
	cfg.Project.Framework = *framework
	cfg.Project.Language = *language

	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	files := []struct {
		path    string
		content string
	}{
		{cfgPath, string(data)},
		{cfg.Path(cfg.Paths.Context, pipeline.ProjectContextFile), projectContextTemplate(name)},
		{cfg.Path(cfg.Paths.Context, pipeline.TechStackFile), techStackTemplate(name, *framework, *language)},
		{cfg.Path(cfg.Paths.Stories, "_template.md"), storyTemplate},
	}
	for _, dir := range []string{cfg.Path(cfg.Paths.History), cfg.Path(cfg.Paths.Agents)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	for _, f := range files {
		if f.path != cfgPath {
			if _, err := os.Stat(f.path); err == nil {
				continue
			}
		}
		if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(f.path, []byte(f.content), 0o644); err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, console.OK(rel(a.root, f.path)+" written"))
	}

	fmt.Fprintln(a.stdout)
	fmt.Fprintln(a.stdout, console.Title(name+" is ready."))
	fmt.Fprintln(a.stdout, "Next steps:")
	fmt.Fprintf(a.stdout, "  1. fill in %s\n", rel(a.root, files[1].path))
	fmt.Fprintf(a.stdout, "  2. update %s\n", rel(a.root, files[2].path))
	fmt.Fprintln(a.stdout, `  3. eqho-aios story create "User login" --priority high --tags auth`)
	fmt.Fprintln(a.stdout, "  4. eqho-aios run EQHO-001")
	return nil
}

func rel(root, path string) string {
	if root == "" {
		return path
	}
	if r, err := filepath.Rel(root, path); err == nil {
		return r
	}
	return path
}

func projectContextTemplate(name string) string {
	return "# " + name + " - Project Context\n\n" +
		"## Overview\n<!-- What the project is for and its scope -->\n\n" +
		"## Target Users\n<!-- Who uses it -->\n\n" +
		"## Key Features\n<!-- Main features -->\n\n" +
		"## Business Requirements\n<!-- Business rules and constraints -->\n"
}

func techStackTemplate(name, framework, language string) string {
	if framework == "" {
		framework = "<!-- framework -->"
	}
	lang := "English"
	if language == "tr" {
		lang = "Turkish"
	}
	return "# " + name + " - Tech Stack\n\n" +
		"## Framework\n- " + framework + "\n\n" +
		"## Output Language\n- " + lang + "\n\n" +
		"## Dependencies\n<!-- Main dependencies -->\n\n" +
		"## Database\n<!-- Databases in use -->\n\n" +
		"## Infrastructure\n<!-- Deployment and hosting -->\n\n" +
		"## Code Standards\n<!-- Lint rules, test strategy -->\n"
}

const storyTemplate = `---
id: "EQHO-XXX"
title: ""
status: "draft"
priority: "medium"
phase: ""
current_agent: null
agents_completed: []
created: ""
tags: []
estimated_tokens: 0
actual_tokens: 0
---

## User Story

As a [user type], I want [goal] so that [benefit].

## Acceptance Criteria

- [ ] Criterion 1

## Technical Notes

`
