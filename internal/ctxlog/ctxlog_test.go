package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	t.Run("Logger present", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))
		ctx := WithLogger(context.Background(), logger)

		FromContext(ctx).Info("hello")
		require.Contains(t, buf.String(), "msg=hello")
	})

	t.Run("Logger missing falls back to discard", func(t *testing.T) {
		require.NotNil(t, FromContext(context.Background()))
	})
}

func TestEnsure(t *testing.T) {
	var buf bytes.Buffer
	fallback := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := Ensure(context.Background(), fallback)
	FromContext(ctx).Info("from fallback")
	require.Contains(t, buf.String(), "from fallback")

	// An existing logger wins over the fallback.
	var other bytes.Buffer
	own := WithLogger(context.Background(), slog.New(slog.NewTextHandler(&other, nil)))
	require.Equal(t, own, Ensure(own, fallback))
}
