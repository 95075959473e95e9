package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/eqho10/eqho-aios/internal/console"
	"github.com/eqho10/eqho-aios/internal/notify"
)

const testMessage = "EqhoAIOS test notification: the integration works."

func (a *app) cmdNotify(ctx context.Context, args []string) error {
	fs := a.flags("notify")
	test := fs.Bool("test", false, "send a canned test message")
	pos, err := parseFlags(fs, args)
	if err != nil {
		return err
	}
	msg := strings.TrimSpace(strings.Join(pos, " "))
	if *test {
		msg = testMessage
	}
	if msg == "" {
		return a.usageError("notify <message> | --test")
	}

	cfg, logger, err := a.setup(true)
	if err != nil {
		return err
	}
	defer logger.Sync()

	d := notify.FromConfig(ctx, cfg, logger)
	defer d.Close()

	sinks := d.Sinks()
	if len(sinks) == 0 {
		return errors.New("no notification sink is enabled (see integrations in .eqho-aios/config.yaml)")
	}
	if err := d.Broadcast(ctx, notify.Event{Event: notify.Message, Result: msg}); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	fmt.Fprintln(a.stdout, console.OK("sent via "+strings.Join(sinks, ", ")))
	return nil
}
