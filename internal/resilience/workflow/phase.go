package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/vietddude/inframate/internal/core/config"
	"github.com/vietddude/inframate/internal/infra/advisor"
)

// Phase is one named step of a workflow.
type Phase struct {
	Name string
	Run  func(ctx context.Context) error
}

// CommandError is returned when a command phase exits unsuccessfully.
// Output holds the tail of its combined stdout and stderr.
type CommandError struct {
	Phase    string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("phase %s failed: %v", e.Phase, e.Err)
	if line := lastLine(e.Output); line != "" {
		msg += ": " + line
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// CommandPhase runs cfg.Command as a phase.
func CommandPhase(cfg config.PhaseConfig) Phase {
	return Phase{
		Name: cfg.Name,
		Run: func(ctx context.Context) error {
			if len(cfg.Command) == 0 {
				return fmt.Errorf("phase %s has no command", cfg.Name)
			}
			if cfg.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
				defer cancel()
			}

			cmd := exec.CommandContext(ctx, cfg.Command[0], cfg.Command[1:]...)
			cmd.Dir = cfg.Dir
			if len(cfg.Env) > 0 {
				cmd.Env = append(os.Environ(), cfg.Env...)
			}

			out := &tailBuffer{limit: advisor.MaxLogExcerpt}
			cmd.Stdout = out
			cmd.Stderr = out

			err := cmd.Run()
			if err == nil {
				return nil
			}

			cerr := &CommandError{Phase: cfg.Name, ExitCode: -1, Output: out.String(), Err: err}
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				cerr.ExitCode = exitErr.ExitCode()
			}
			// Surface timeouts so they classify as network errors
			if ctx.Err() != nil {
				cerr.Err = fmt.Errorf("%w: %w", ctx.Err(), err)
			}
			return cerr
		},
	}
}

// PhasesFromConfig builds command phases in configured order.
func PhasesFromConfig(cfgs []config.PhaseConfig) []Phase {
	phases := make([]Phase, 0, len(cfgs))
	for _, c := range cfgs {
		phases = append(phases, CommandPhase(c))
	}
	return phases
}

// Select picks phases by name in the given order. No names, or the single
// name "auto", selects every phase.
func Select(phases []Phase, names []string) ([]Phase, error) {
	if len(names) == 0 || (len(names) == 1 && names[0] == "auto") {
		return phases, nil
	}

	byName := make(map[string]Phase, len(phases))
	for _, p := range phases {
		byName[p.Name] = p
	}

	selected := make([]Phase, 0, len(names))
	for _, n := range names {
		p, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown phase %q", n)
		}
		selected = append(selected, p)
	}
	return selected, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > 2*b.limit {
		b.buf = append(b.buf[:0], b.buf[len(b.buf)-b.limit:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return advisor.Excerpt(string(b.buf), b.limit)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
