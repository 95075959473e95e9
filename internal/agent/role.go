package agent

import (
	"fmt"
	"strings"
)

// Role identifies one of the five fixed pipeline agents.
type Role string

const (
	Analyst     Role = "analyst"
	Architect   Role = "architect"
	ScrumMaster Role = "scrum_master"
	Developer   Role = "developer"
	QA          Role = "qa"
)

// Phase is the phase affinity declared by an agent definition.
type Phase string

const (
	PhasePlanning    Phase = "planning"
	PhaseDevelopment Phase = "development"
	PhaseBoth        Phase = "both"
)

type roleInfo struct {
	file        string
	displayName string
	phase       Phase
	order       int
	section     string
}

// roles is the static table for every known role. Adding a role means
// adding an entry here and a bundled definition file.
var roles = map[Role]roleInfo{
	Analyst: {
		file:        "analyst.md",
		displayName: "Analyst",
		phase:       PhasePlanning,
		order:       1,
		section:     "Requirements (@analyst output)",
	},
	Architect: {
		file:        "architect.md",
		displayName: "Architect",
		phase:       PhasePlanning,
		order:       2,
		section:     "Architecture Design (@architect output)",
	},
	ScrumMaster: {
		file:        "scrum-master.md",
		displayName: "Scrum Master",
		phase:       PhaseBoth,
		order:       3,
		section:     "Tasks (for @developer)",
	},
	Developer: {
		file:        "developer.md",
		displayName: "Developer",
		phase:       PhaseDevelopment,
		order:       4,
		section:     "Development Notes (@developer output)",
	},
	QA: {
		file:        "qa.md",
		displayName: "QA",
		phase:       PhaseDevelopment,
		order:       5,
		section:     "QA Report (@qa output)",
	},
}

// Roles returns every known role in pipeline order.
func Roles() []Role {
	return []Role{Analyst, Architect, ScrumMaster, Developer, QA}
}

// ParseRole converts a name such as "scrum_master" into a Role. The
// hyphenated form "scrum-master" is accepted as well.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !r.Valid() {
		return "", fmt.Errorf("unknown agent %q (valid: %s)", s, strings.Join(roleNames(), ", "))
	}
	return r, nil
}

func roleNames() []string {
	names := make([]string, 0, len(roles))
	for _, r := range Roles() {
		names = append(names, string(r))
	}
	return names
}

func (r Role) Valid() bool {
	_, ok := roles[r]
	return ok
}

func (r Role) String() string { return string(r) }

// DisplayName is the default human-readable name, used when a definition
// file does not declare its own.
func (r Role) DisplayName() string { return roles[r].displayName }

// Affinity is the phase the role is designed for.
func (r Role) Affinity() Phase { return roles[r].phase }

// Order is the role's position in the full pipeline.
func (r Role) Order() int { return roles[r].order }

// Section is the story section the role's output is committed to.
func (r Role) Section() string { return roles[r].section }

// FileName is the definition file name, both in the custom agents
// directory and in the bundled set.
func (r Role) FileName() string { return roles[r].file }
