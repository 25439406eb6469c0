package compiletest

import (
	"errors"
	"testing"
)

// RunTest runs the harness as part of a go test run. The test fails
// fatally if the sysroot cannot be resolved or any fixture failed.
func RunTest(t testing.TB, opts Options) *Verdict {
	t.Helper()
	if opts.Output == nil {
		opts.Output = testWriter{t}
	}

	verdict, err := Run(t.Context(), opts)
	if errors.Is(err, ErrNoSysroot) {
		t.Fatalf("configuration error: %v", err)
	}
	if err != nil {
		t.Fatalf("running fixtures: %v", err)
	}
	t.Log(verdict.Summary())
	if err := verdict.Err(); err != nil {
		t.Fatal(err)
	}
	return verdict
}

// testWriter forwards the progress report to the test log.
type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}
