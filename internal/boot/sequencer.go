package boot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/acolita/de10boot/internal/console"
	"github.com/acolita/de10boot/internal/logging"
)

// Separator is printed after each completed stage at verbosity 1 and up.
var Separator = strings.Repeat("=", 49)

// Console is the part of a console.Channel the sequencer drives.
type Console interface {
	SendLine(text string) error
	Expect(ctx context.Context, pattern console.Pattern, timeout time.Duration) (console.Match, error)
}

// StageError reports the interaction that aborted a boot.
type StageError struct {
	Stage       Stage
	Step        int
	Interaction string
	Err         error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: step %d (%s): %v", e.Stage, e.Step, e.Interaction, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Result describes a boot that reached its stop stage.
type Result struct {
	Completed []Stage
	StoppedAt Stage
}

// Sequencer runs a Plan against a console.
type Sequencer struct {
	// Out receives echoed console output and stage separators (may be nil).
	Out io.Writer
	// Verbosity 0 prints only echoed output; 1 and up adds separators.
	Verbosity int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Run executes the stages of plan in order, stopping after stopAt. Any
// failed interaction aborts the run; nothing is retried and the stage that
// failed is reported in a *StageError.
func (s *Sequencer) Run(ctx context.Context, plan Plan, con Console, stopAt Stage) (Result, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := plan.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid plan: %w", err)
	}
	if !plan.Contains(stopAt) {
		return Result{}, fmt.Errorf("stop stage %s is not in the plan", stopAt)
	}

	var res Result
	for _, sp := range plan {
		logger.Info("entering stage", slog.String("stage", sp.Stage.String()))
		start := time.Now()

		for i, it := range sp.Steps {
			if err := s.step(ctx, con, it, logger); err != nil {
				attrs := []any{
					slog.String("stage", sp.Stage.String()),
					slog.String("step", it.Name),
					slog.String("error", err.Error()),
				}
				var te *console.TimeoutError
				if errors.As(err, &te) {
					attrs = append(attrs, logging.Excerpt("buffered", te.Buffered))
				}
				logger.Error("stage failed", attrs...)
				return res, &StageError{Stage: sp.Stage, Step: i, Interaction: it.Name, Err: err}
			}
		}

		res.Completed = append(res.Completed, sp.Stage)
		logger.Info("stage complete",
			slog.String("stage", sp.Stage.String()),
			slog.Duration("duration", time.Since(start)),
		)
		if s.Verbosity >= 1 {
			s.printf("%s\n", Separator)
		}

		if sp.Stage == stopAt {
			res.StoppedAt = stopAt
			return res, nil
		}
	}

	// Unreachable: Contains(stopAt) held above.
	return res, fmt.Errorf("stop stage %s not reached", stopAt)
}

func (s *Sequencer) step(ctx context.Context, con Console, it Interaction, logger *slog.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if it.Send {
		logger.Debug("send", slog.String("step", it.Name), slog.String("line", it.Line))
		if err := con.SendLine(it.Line); err != nil {
			return err
		}
	}

	m, err := con.Expect(ctx, it.Expect, it.Timeout)
	if err != nil {
		return err
	}
	if it.Echo {
		s.printf("%s\n", m.Before)
	}
	return nil
}

func (s *Sequencer) printf(format string, args ...any) {
	if s.Out != nil {
		fmt.Fprintf(s.Out, format, args...)
	}
}
