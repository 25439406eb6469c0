package harness

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/compiletest/internal/diagmode"
	"github.com/715d/compiletest/internal/runpass"
)

// FailureRecord is one failed fixture in the verdict.
type FailureRecord struct {
	Mode     string   `json:"mode"`
	Target   string   `json:"target"`
	Fixture  string   `json:"fixture"`
	Reason   string   `json:"reason"`
	Message  string   `json:"message,omitempty"`
	ExitCode *int     `json:"exit_code,omitempty"`
	Stdout   string   `json:"stdout,omitempty"`
	Stderr   string   `json:"stderr,omitempty"`
	Details  []string `json:"details,omitempty"`
}

// TargetResult tallies the outcomes of one mode under one target.
type TargetResult struct {
	Mode    string `json:"mode"`
	Target  string `json:"target"`
	Passed  int    `json:"passed"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
}

// Verdict is the aggregate result of a run.
type Verdict struct {
	Passed   int             `json:"passed"`
	Failed   int             `json:"failed"`
	Skipped  int             `json:"skipped"`
	Targets  []TargetResult  `json:"targets"`
	Failures []FailureRecord `json:"failures,omitempty"`
}

// OK reports whether no fixture failed under any target.
func (v *Verdict) OK() bool {
	return v.Failed == 0
}

// Summary renders a one-line summary of the verdict.
func (v *Verdict) Summary() string {
	status := "ok"
	if !v.OK() {
		status = "FAILED"
	}
	return fmt.Sprintf("test result: %s. %d passed; %d failed; %d ignored", status, v.Passed, v.Failed, v.Skipped)
}

// Err returns a non-nil error if any fixture failed.
func (v *Verdict) Err() error {
	if v.OK() {
		return nil
	}
	return fmt.Errorf("some tests failed: %d failed, %d passed, %d ignored", v.Failed, v.Passed, v.Skipped)
}

// tally counts outcomes of one mode/target pair. Counters are updated by
// concurrent workers.
type tally struct {
	mode, target string
	order        int
	passed       *xsync.Counter
	failed       *xsync.Counter
	skipped      *xsync.Counter
}

// ReporterOptions configures a Reporter.
type ReporterOptions struct {
	// Color enables colored status words.
	Color bool
}

// Reporter prints per-fixture progress and aggregates every outcome of a
// run. It implements runpass.Sink and diagmode.Sink.
type Reporter struct {
	out io.Writer

	// mu serializes writes so each fixture report is one unit.
	mu       sync.Mutex
	failures []FailureRecord

	failed  *xsync.Counter
	passed  *xsync.Counter
	skipped *xsync.Counter
	tallies *xsync.Map[string, *tally]
	order   *xsync.Counter

	ok, fail, ignored *color.Color
}

var (
	_ runpass.Sink  = (*Reporter)(nil)
	_ diagmode.Sink = (*Reporter)(nil)
)

// NewReporter creates a Reporter writing to out.
func NewReporter(out io.Writer, opts ReporterOptions) *Reporter {
	r := &Reporter{
		out:     out,
		failed:  xsync.NewCounter(),
		passed:  xsync.NewCounter(),
		skipped: xsync.NewCounter(),
		tallies: xsync.NewMap[string, *tally](),
		order:   xsync.NewCounter(),
		ok:      color.New(color.FgGreen),
		fail:    color.New(color.FgRed, color.Bold),
		ignored: color.New(color.FgYellow),
	}
	for _, c := range []*color.Color{r.ok, r.fail, r.ignored} {
		if opts.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

// Failed reports whether any failure has been recorded so far.
func (r *Reporter) Failed() bool {
	return r.failed.Value() > 0
}

func (r *Reporter) tally(mode, target string) *tally {
	key := mode + "\x00" + target
	if t, ok := r.tallies.Load(key); ok {
		return t
	}
	t, _ := r.tallies.LoadOrStore(key, &tally{
		mode:    mode,
		target:  target,
		order:   int(r.order.Value()),
		passed:  xsync.NewCounter(),
		failed:  xsync.NewCounter(),
		skipped: xsync.NewCounter(),
	})
	return t
}

// BeginTarget announces that mode starts running under target.
func (r *Reporter) BeginTarget(mode, target string) {
	r.order.Inc()
	r.tally(mode, target)
	r.write(fmt.Sprintf("running %s tests for target %s\n", mode, target))
}

// EndTarget closes the report section of target.
func (r *Reporter) EndTarget(_, _ string) {
	r.write("\n")
}

// Record aggregates and prints one run-pass outcome.
func (r *Reporter) Record(o runpass.Outcome) {
	t := r.tally(o.Mode, o.Target)

	var b strings.Builder
	fmt.Fprintf(&b, "test [%s] %s ... ", o.Mode, o.Fixture)
	switch o.Status {
	case runpass.StatusPass:
		r.passed.Inc()
		t.passed.Inc()
		b.WriteString(r.ok.Sprint("ok"))
		b.WriteString("\n")
		r.write(b.String())
		return
	case runpass.StatusSkip:
		r.skipped.Inc()
		t.skipped.Inc()
		fmt.Fprintf(&b, "%s (%s)\n", r.ignored.Sprint("ignored"), o.Note)
		r.write(b.String())
		return
	}

	r.failed.Inc()
	t.failed.Inc()
	rec := FailureRecord{
		Mode:    o.Mode,
		Target:  o.Target,
		Fixture: o.Fixture,
		Reason:  string(o.Reason),
		Stdout:  o.Stdout,
		Stderr:  o.Stderr,
	}
	if o.Err != nil {
		rec.Message = o.Err.Error()
	}
	switch {
	case o.Reason == runpass.ReasonExit && o.ExitCode >= 0:
		code := o.ExitCode
		rec.ExitCode = &code
		fmt.Fprintf(&b, "%s with exit code %d\n", r.fail.Sprint("FAILED"), code)
	case o.Err != nil:
		fmt.Fprintf(&b, "%s: %v\n", r.fail.Sprint("FAILED"), o.Err)
	default:
		fmt.Fprintf(&b, "%s: %s\n", r.fail.Sprint("FAILED"), o.Reason)
	}
	if o.Reason != runpass.ReasonLaunch && o.Reason != runpass.ReasonFixture {
		fmt.Fprintf(&b, "stdout: \n %s\n", o.Stdout)
		fmt.Fprintf(&b, "stderr: \n %s\n", o.Stderr)
	}
	r.appendFailure(rec, b.String())
}

// RecordFailure aggregates and prints one diagnostic-mode failure.
func (r *Reporter) RecordFailure(f diagmode.Failure) {
	r.failed.Inc()
	r.tally(f.Mode, f.Target).failed.Inc()

	var b strings.Builder
	fmt.Fprintf(&b, "test [%s] %s ... %s: %s\n", f.Mode, f.Fixture, r.fail.Sprint("FAILED"), f.Message)
	for _, d := range f.Details {
		fmt.Fprintf(&b, "  %s\n", d)
	}
	r.appendFailure(FailureRecord{
		Mode:    f.Mode,
		Target:  f.Target,
		Fixture: f.Fixture,
		Reason:  "diagnostic mismatch",
		Message: f.Message,
		Details: f.Details,
	}, b.String())
}

// Progress returns the observer for passing and skipped fixtures of a
// diagnostic mode.
func (r *Reporter) Progress(mode, target string) diagmode.Progress {
	t := r.tally(mode, target)
	return func(fixture string, skipped bool, note string) {
		if skipped {
			r.skipped.Inc()
			t.skipped.Inc()
			r.write(fmt.Sprintf("test [%s] %s ... %s (%s)\n", mode, fixture, r.ignored.Sprint("ignored"), note))
			return
		}
		r.passed.Inc()
		t.passed.Inc()
		r.write(fmt.Sprintf("test [%s] %s ... %s\n", mode, fixture, r.ok.Sprint("ok")))
	}
}

func (r *Reporter) appendFailure(rec FailureRecord, report string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, rec)
	_, _ = io.WriteString(r.out, report)
}

func (r *Reporter) write(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = io.WriteString(r.out, s)
}

// Verdict returns the aggregate result. It must be called after every
// worker has finished.
func (r *Reporter) Verdict() *Verdict {
	v := &Verdict{
		Passed:  int(r.passed.Value()),
		Failed:  int(r.failed.Value()),
		Skipped: int(r.skipped.Value()),
	}

	var tallies []*tally
	r.tallies.Range(func(_ string, t *tally) bool {
		tallies = append(tallies, t)
		return true
	})
	slices.SortFunc(tallies, func(a, b *tally) int {
		if a.order != b.order {
			return a.order - b.order
		}
		return strings.Compare(a.mode+a.target, b.mode+b.target)
	})
	for _, t := range tallies {
		v.Targets = append(v.Targets, TargetResult{
			Mode:    t.mode,
			Target:  t.target,
			Passed:  int(t.passed.Value()),
			Failed:  int(t.failed.Value()),
			Skipped: int(t.skipped.Value()),
		})
	}

	r.mu.Lock()
	v.Failures = slices.Clone(r.failures)
	r.mu.Unlock()
	return v
}
