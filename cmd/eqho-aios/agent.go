package main

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/eqho10/eqho-aios/internal/agent"
	"github.com/eqho10/eqho-aios/internal/console"
)

func (a *app) cmdAgent(_ context.Context, args []string) error {
	if len(args) < 1 {
		return a.usageError("agent <list|show> [name]")
	}
	switch args[0] {
	case "list":
		if len(args) > 1 {
			return a.usageError("agent list")
		}
		return a.cmdAgentList()
	case "show":
		if len(args) != 2 {
			return a.usageError("agent show <name>")
		}
		return a.cmdAgentShow(args[1])
	default:
		fmt.Fprintf(a.stderr, "unknown agent subcommand: %s\n", args[0])
		return a.usageError("agent <list|show> [name]")
	}
}

func (a *app) cmdAgentList() error {
	cfg, logger, err := a.setup(false)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// every role is listed, including disabled ones
	reg := agent.NewRegistry(cfg.Path(cfg.Paths.Agents), logger)
	rows := make([][]string, 0, len(agent.Roles()))
	for _, role := range agent.Roles() {
		desc := "-"
		if def, err := reg.Load(role); err != nil {
			logger.Warn("agent definition unavailable", zap.String("agent", string(role)), zap.Error(err))
		} else if def.Description != "" {
			desc = truncate(def.Description, 50)
		}
		enabled := "yes"
		if !cfg.AgentEnabled(role) {
			enabled = "no"
		}
		rows = append(rows, []string{
			"@" + string(role),
			role.DisplayName(),
			string(role.Affinity()),
			enabled,
			cfg.AgentModel(role),
			desc,
		})
	}
	fmt.Fprintln(a.stdout, console.Table([]string{"Agent", "Name", "Phase", "Enabled", "Model", "Description"}, rows))
	fmt.Fprintln(a.stdout, console.Dim("Details: eqho-aios agent show <name>"))
	return nil
}

func (a *app) cmdAgentShow(name string) error {
	role, err := agent.ParseRole(name)
	if err != nil {
		return err
	}
	cfg, logger, err := a.setup(false)
	if err != nil {
		return err
	}
	defer logger.Sync()

	def, err := agent.NewRegistry(cfg.Path(cfg.Paths.Agents), logger).Load(role)
	if err != nil {
		return err
	}

	w := a.stdout
	fmt.Fprintln(w, console.Title("Agent: "+def.DisplayName))
	fmt.Fprintf(w, "  Name:        %s\n", def.Role)
	fmt.Fprintf(w, "  Phase:       %s\n", def.Phase)
	fmt.Fprintf(w, "  Order:       %d\n", def.Order)
	fmt.Fprintf(w, "  Model:       %s\n", cfg.AgentModel(role))
	fmt.Fprintf(w, "  Enabled:     %t\n", cfg.AgentEnabled(role))
	fmt.Fprintf(w, "  Source:      %s\n", def.Source)
	if def.Description != "" {
		fmt.Fprintf(w, "  Description: %s\n", def.Description)
	}
	printList(w, "Capabilities", def.Capabilities)
	printList(w, "Commands", def.Commands)
	printList(w, "Scope", def.Scope)
	fmt.Fprintln(w)
	fmt.Fprintln(w, console.Dim("Run it alone: eqho-aios run <story-id> --agent "+string(role)))
	return nil
}

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n  %s:\n", title)
	for _, it := range items {
		fmt.Fprintf(w, "    - %s\n", it)
	}
}
