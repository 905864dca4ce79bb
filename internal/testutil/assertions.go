package testutil

import (
	"errors"
	"strings"
	"testing"

	"github.com/specialistvlad/modeljit/internal/diag"
	"github.com/stretchr/testify/require"
)

// RequireBodyError checks that err is a compile error carrying a diagnostic
// with the given summary at line:col of the model body, and returns it.
func RequireBodyError(t *testing.T, err error, summary string, line, col int) diag.Diagnostic {
	t.Helper()

	var ce *diag.CompileError
	require.True(t, errors.As(err, &ce), "expected a compile error, got %v", err)
	for _, d := range ce.Report.Errors() {
		if d.Summary == summary {
			require.Equal(t, line, d.Line, "line of %q", summary)
			require.Equal(t, col, d.Column, "column of %q", summary)
			return d
		}
	}
	require.Failf(t, "diagnostic not found", "no %q among %v", summary, ce.Report.Errors())
	return diag.Diagnostic{}
}

// RequireLogged checks that the log output contains every fragment.
func RequireLogged(t *testing.T, buf *SafeBuffer, fragments ...string) {
	t.Helper()
	out := buf.String()
	for _, f := range fragments {
		require.True(t, strings.Contains(out, f), "expected %q in log output:\n%s", f, out)
	}
}
