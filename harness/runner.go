// Package harness runs ordered suites of steps against a forked chain. A
// suite stops at its first failing step; later steps are reported as not
// run.
package harness

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"

	"github.com/nexusmutual/forkmigrate/log"
	"github.com/nexusmutual/forkmigrate/metrics"
	"github.com/nexusmutual/forkmigrate/telemetry"
)

// StepFunc is the body of a step.
type StepFunc func(ctx context.Context) error

// Step is one named action of a suite. Skipped steps are reported but never
// run.
type Step struct {
	Name string
	Skip bool
	Run  StepFunc
}

// Suite is an ordered list of steps sharing state through closures.
type Suite struct {
	Name  string
	Steps []Step
}

// StepResult is the outcome of one step.
type StepResult struct {
	Name     string
	Outcome  string
	Duration time.Duration
	Err      error
}

// Report is the outcome of one suite run.
type Report struct {
	RunID    uuid.UUID
	Suite    string
	Started  time.Time
	Duration time.Duration
	Steps    []StepResult
}

// Failed reports whether any step failed.
func (r *Report) Failed() bool { return r.Err() != nil }

// Err returns the error of the failed step, if any.
func (r *Report) Err() error {
	for _, s := range r.Steps {
		if s.Outcome == metrics.OutcomeFailed {
			return errors.Wrapf(s.Err, "%s: %s", r.Suite, s.Name)
		}
	}
	if n := r.Count(metrics.OutcomeNotRun); n > 0 {
		return errors.Wrapf(ErrInterrupted, "%s: %d steps not run", r.Suite, n)
	}
	return nil
}

// ErrInterrupted is reported when a suite stopped before its last step
// without a step failing.
var ErrInterrupted = errors.New("harness: suite interrupted")

// Count returns how many steps ended with outcome.
func (r *Report) Count(outcome string) int {
	n := 0
	for _, s := range r.Steps {
		if s.Outcome == outcome {
			n++
		}
	}
	return n
}

// Summary renders one line per step, mocha style.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (run %s)\n", r.Suite, r.RunID)
	for _, s := range r.Steps {
		mark := "✓"
		switch s.Outcome {
		case metrics.OutcomeFailed:
			mark = "✗"
		case metrics.OutcomeSkipped:
			mark = "-"
		case metrics.OutcomeNotRun:
			mark = " "
		}
		fmt.Fprintf(&b, "  %s %s", mark, s.Name)
		if s.Outcome == metrics.OutcomePassed {
			fmt.Fprintf(&b, " (%s)", s.Duration.Round(time.Millisecond))
		}
		if s.Err != nil {
			fmt.Fprintf(&b, ": %v", s.Err)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "  %d passing, %d failing, %d pending, %d not run\n",
		r.Count(metrics.OutcomePassed), r.Count(metrics.OutcomeFailed),
		r.Count(metrics.OutcomeSkipped), r.Count(metrics.OutcomeNotRun))
	return b.String()
}

// Runner executes suites.
type Runner struct {
	log *log.Logger
	now func() time.Time
}

// NewRunner returns a Runner logging through l.
func NewRunner(l *log.Logger) *Runner {
	if l == nil {
		l = log.Default()
	}
	return &Runner{log: l.Module("harness"), now: time.Now}
}

// Run executes the steps of suite in order. It stops at the first failure
// or when ctx is done; the steps after that are reported as not run.
func (r *Runner) Run(ctx context.Context, suite Suite) *Report {
	report := &Report{
		RunID:   uuid.New(),
		Suite:   suite.Name,
		Started: r.now(),
	}
	logger := r.log.With("suite", suite.Name, "run", report.RunID.String())
	ctx, span := telemetry.Tracer("harness").Start(ctx, "suite "+suite.Name)
	span.SetAttributes(
		attribute.String("suite.run_id", report.RunID.String()),
		attribute.Int("suite.steps", len(suite.Steps)),
	)
	defer span.End()

	logger.Info("suite started", "steps", len(suite.Steps))
	var stopped error
	for i, step := range suite.Steps {
		res := StepResult{Name: step.Name}
		switch {
		case stopped != nil:
			res.Outcome = metrics.OutcomeNotRun
		case step.Skip || step.Run == nil:
			res.Outcome = metrics.OutcomeSkipped
			logger.Info("step skipped", "step", step.Name, "index", i)
		case ctx.Err() != nil:
			stopped = ctx.Err()
			res.Outcome = metrics.OutcomeNotRun
			logger.Warn("suite interrupted", "step", step.Name, "err", stopped)
		default:
			res = r.runStep(ctx, logger, suite.Name, i, step)
			if res.Err != nil {
				stopped = res.Err
			}
		}
		metrics.StepsTotal.WithLabelValues(suite.Name, res.Outcome).Inc()
		report.Steps = append(report.Steps, res)
	}
	report.Duration = r.now().Sub(report.Started)

	if err := report.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		logger.Error("suite failed", "err", err, "elapsed", report.Duration)
	} else {
		logger.Info("suite passed", "elapsed", report.Duration)
	}
	return report
}

func (r *Runner) runStep(ctx context.Context, logger *log.Logger, suite string, i int, step Step) (res StepResult) {
	res.Name = step.Name
	ctx, span := telemetry.Tracer("harness").Start(ctx, step.Name)
	span.SetAttributes(attribute.Int("step.index", i))
	start := r.now()
	defer func() {
		if p := recover(); p != nil {
			res.Err = errors.Errorf("panic: %v", p)
		}
		res.Duration = r.now().Sub(start)
		metrics.StepDuration.WithLabelValues(suite).Observe(res.Duration.Seconds())
		if res.Err != nil {
			res.Outcome = metrics.OutcomeFailed
			span.RecordError(res.Err)
			span.SetStatus(otelcodes.Error, res.Err.Error())
			logger.Error("step failed", "step", step.Name, "index", i, "err", res.Err)
		} else {
			res.Outcome = metrics.OutcomePassed
			logger.Info("step passed", "step", step.Name, "index", i, "elapsed", res.Duration)
		}
		span.End()
	}()

	logger.Debug("step started", "step", step.Name, "index", i)
	res.Err = step.Run(ctx)
	return res
}
