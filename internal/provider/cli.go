package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultCLITimeout bounds one subprocess call.
const DefaultCLITimeout = 5 * time.Minute

// CLIConfig holds the settings for the subprocess backend.
type CLIConfig struct {
	Command   string
	Args      []string
	ModelFlag string // e.g. "--model"; empty disables passing the model
	Model     string
	Timeout   time.Duration
}

// CLIBackend runs a local text-generation command, writing the prompt to
// its stdin and reading the answer from stdout. Token counts are
// estimated from text length.
type CLIBackend struct {
	config CLIConfig
	logger *zap.Logger
}

// NewCLIBackend creates the subprocess backend.
func NewCLIBackend(cfg CLIConfig, logger *zap.Logger) (*CLIBackend, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, newError(ErrMissingParam, 0, "command is empty", nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCLITimeout
	}
	return &CLIBackend{config: cfg, logger: logger}, nil
}

func (b *CLIBackend) Name() string { return "cli:" + b.config.Command }

// Execute runs the command once. The process is killed when the timeout
// expires or ctx is cancelled.
func (b *CLIBackend) Execute(ctx context.Context, systemPrompt, userMessage string, opts Options) (*Response, error) {
	model := b.config.Model
	if opts.Model != "" {
		model = opts.Model
	}
	args := append([]string{}, b.config.Args...)
	if b.config.ModelFlag != "" && model != "" {
		args = append(args, b.config.ModelFlag, model)
	}
	prompt := systemPrompt + "\n\n---\n\n" + userMessage

	runCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, b.config.Command, args...)
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children that inherit the pipes must not keep Wait blocked.
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		switch {
		case errors.Is(err, exec.ErrNotFound):
			return nil, newError(ErrCommandNotFound, 0,
				fmt.Sprintf("%q is not installed or not on PATH (install it, e.g. `npm install -g @anthropic-ai/claude-code`, or set llm.provider: anthropic)", b.config.Command), err)
		case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			b.logger.Warn("backend command timed out", zap.String("command", b.config.Command), zap.Duration("timeout", b.config.Timeout))
			return nil, newError(ErrTimeout, 0, fmt.Sprintf("no answer after %s", b.config.Timeout), err)
		case ctx.Err() != nil:
			return nil, newError(ErrConnection, 0, "call cancelled", ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, newError(ErrCommandFailed, 0, msg, err)
	}

	content := strings.TrimSpace(stdout.String())
	b.logger.Debug("backend command finished",
		zap.String("command", b.config.Command), zap.Duration("elapsed", elapsed), zap.Int("bytes", len(content)))
	return &Response{
		Content:      content,
		InputTokens:  EstimateTokens(prompt),
		OutputTokens: EstimateTokens(content),
		Model:        model,
	}, nil
}
