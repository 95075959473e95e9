package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrNotInteractive is returned when approval is needed but stdin is not
// a terminal.
var ErrNotInteractive = errors.New("stdin is not a terminal, rerun with --auto to skip approvals")

// Confirmer asks yes/no questions on a terminal. Empty answers mean yes.
// A single goroutine owns the input; a line typed after a cancelled
// question is delivered to the next one.
type Confirmer struct {
	in          io.Reader
	out         io.Writer
	interactive bool

	start sync.Once
	lines chan answer
}

type answer struct {
	line string
	err  error
}

// NewConfirmer reads answers from in and writes prompts to out.
func NewConfirmer(in *os.File, out io.Writer) *Confirmer {
	return newConfirmer(in, out, term.IsTerminal(int(in.Fd())))
}

func newConfirmer(in io.Reader, out io.Writer, interactive bool) *Confirmer {
	return &Confirmer{in: in, out: out, interactive: interactive, lines: make(chan answer)}
}

// read forwards lines until the input fails, then reports the error and
// closes the channel.
func (c *Confirmer) read() {
	defer close(c.lines)
	r := bufio.NewReader(c.in)
	for {
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			c.lines <- answer{err: err}
			return
		}
		c.lines <- answer{line: line}
	}
}

// Confirm blocks until an answer is read or ctx is done.
func (c *Confirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	if !c.interactive {
		return false, ErrNotInteractive
	}
	fmt.Fprintf(c.out, "%s %s %s ", agentStyle.Render("?"), prompt, Dim("[Y/n]"))
	c.start.Do(func() { go c.read() })

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a, ok := <-c.lines:
		if !ok {
			return false, fmt.Errorf("read answer: %w", io.EOF)
		}
		if a.err != nil {
			return false, fmt.Errorf("read answer: %w", a.err)
		}
		return parseAnswer(a.line), nil
	}
}

func parseAnswer(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "y", "yes", "e", "evet":
		return true
	}
	return false
}
