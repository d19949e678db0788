// Package cli implements the coverletter commands.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/coverletter-agent/backend/internal/bootstrap"
	"github.com/coverletter-agent/backend/pkg/config"
	"github.com/coverletter-agent/backend/pkg/logger"
)

// Options are the persistent flags shared by every command.
type Options struct {
	ConfigPath string
	Verbose    bool
}

// openApp loads configuration and wires the application. Interactive
// commands log warnings and above unless --verbose is set.
func openApp(ctx context.Context, opts *Options) (*bootstrap.App, error) {
	cfg, err := config.LoadFile(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if !opts.Verbose && (level == "" || level == "info" || level == "debug") {
		level = "warn"
	}
	if err := logger.Init(level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return bootstrap.New(ctx, cfg)
}

// prompter reads answers line by line from the command's input.
type prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	return &prompter{in: sc, out: out}
}

// ask prints the question and returns the trimmed answer. ok is false at
// end of input.
func (p *prompter) ask(question string) (answer string, ok bool) {
	fmt.Fprint(p.out, question)
	if !p.in.Scan() {
		fmt.Fprintln(p.out)
		return "", false
	}
	return strings.TrimSpace(p.in.Text()), true
}

// confirm defaults to no.
func (p *prompter) confirm(question string) bool {
	answer, ok := p.ask(question + " [y/N]: ")
	if !ok {
		return false
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true
	}
	return false
}
