package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/specialistvlad/modeljit/internal/cli"
	"github.com/stretchr/testify/require"
)

func TestRun_Compile(t *testing.T) {
	t.Parallel()

	src := "body = \"out[0] = 2.0*state[0] + param[0]\"\nentry_point \"f\" {\n  signature = \"state_deriv\"\n}\n"
	filePath := filepath.Join(t.TempDir(), "model.hcl")
	require.NoError(t, os.WriteFile(filePath, []byte(src), 0600))

	out := &bytes.Buffer{}
	err := run(context.Background(), out, io.Discard, []string{"eval", filePath, "--entry", "f", "--state", "3", "--param", "1"})

	require.NoError(t, err)
	require.Equal(t, "f = [7]\n", out.String())
}

func TestRun_InvalidManifest(t *testing.T) {
	t.Parallel()

	// Missing closing brace.
	invalidHCL := "entry_point \"f\" {\n  signature = \"state_deriv\"\n"
	filePath := filepath.Join(t.TempDir(), "model.hcl")
	require.NoError(t, os.WriteFile(filePath, []byte(invalidHCL), 0600))

	err := run(context.Background(), &bytes.Buffer{}, io.Discard, []string{"compile", filePath})

	require.Error(t, err)
	exitErr, ok := err.(*cli.ExitError)
	require.True(t, ok, "run() should report failures as *cli.ExitError")
	require.Equal(t, 1, exitErr.Code)
	require.Contains(t, exitErr.Message, "failed to parse manifest")
}

func TestRun_Help(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(context.Background(), out, io.Discard, []string{"-h"})

	require.NoError(t, err, "run() should return a nil error for help")
	require.Contains(t, out.String(), "Usage:", "Expected help text to be printed to the output buffer")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	err := run(context.Background(), &bytes.Buffer{}, io.Discard, []string{"--this-is-not-a-valid-flag"})

	require.Error(t, err, "run() should return an error when argument parsing fails")
	require.Contains(t, err.Error(), "unknown flag: --this-is-not-a-valid-flag")
}
