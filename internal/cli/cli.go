package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/docker/go-units"
	"github.com/specialistvlad/modeljit/internal/app"
	"github.com/specialistvlad/modeljit/internal/manifestfile"
	"github.com/spf13/cobra"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(err error) error {
	return &ExitError{Code: 2, Message: err.Error()}
}

// exactArgs reports a wrong argument count as a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}

type globalFlags struct {
	logFormat     string
	logLevel      string
	cacheCapacity int
	opt           string
	includeUnit   bool
	maxCodeSize   string
	metricsAddr   string
}

func (f *globalFlags) config() (*app.Config, error) {
	var maxCodeSize int64
	if f.maxCodeSize != "" {
		n, err := units.RAMInBytes(f.maxCodeSize)
		if err != nil {
			return nil, fmt.Errorf("invalid max-code-size: %w", err)
		}
		maxCodeSize = n
	}
	return app.NewConfig(app.Config{
		LogFormat:     f.logFormat,
		LogLevel:      f.logLevel,
		CacheCapacity: f.cacheCapacity,
		OptLevel:      f.opt,
		IncludeUnit:   f.includeUnit,
		MaxCodeSize:   int(maxCodeSize),
		MetricsAddr:   f.metricsAddr,
	})
}

// NewRootCommand builds the modeljit command tree. Program output goes to
// outW and logs to logW.
func NewRootCommand(outW, logW io.Writer) *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:   "modeljit",
		Short: "Compile equation models into callable kernels",
		Long: `modeljit compiles model manifests (an equation body plus the entry
points a solver needs) into native kernels, reports diagnostics in body
coordinates and evaluates entry points.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(outW)
	root.SetErr(outW)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError(err) })

	pf := root.PersistentFlags()
	pf.StringVar(&flags.logFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")
	pf.StringVar(&flags.logLevel, "log-level", "warn", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	pf.IntVar(&flags.cacheCapacity, "cache-capacity", 0, "Number of compiled artifacts to keep (default 64).")
	pf.StringVar(&flags.opt, "opt", "throughput", "Optimisation level. Options: 'throughput' or 'none'.")
	pf.BoolVar(&flags.includeUnit, "include-unit", false, "Attach the assembled translation unit to compile errors.")
	pf.StringVar(&flags.maxCodeSize, "max-code-size", "", "Maximum closures per artifact, e.g. 512k or 1m.")
	pf.StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve /health and /metrics on this address while watching.")

	newApp := func() (*app.App, error) {
		cfg, err := flags.config()
		if err != nil {
			return nil, usageError(err)
		}
		return app.NewApp(outW, logW, cfg)
	}

	root.AddCommand(
		newCompileCommand(newApp),
		newEvalCommand(newApp),
		newWatchCommand(newApp),
	)
	return root
}

func newCompileCommand(newApp func() (*app.App, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "compile FILE",
		Short: "Compile a manifest and print its entry points or diagnostics",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			return a.Compile(cmd.Context(), args[0])
		},
	}
}

type evalFlags struct {
	entry  string
	state  string
	param  string
	t      string
	outLen int
}

func newEvalCommand(newApp func() (*app.App, error)) *cobra.Command {
	var flags evalFlags
	cmd := &cobra.Command{
		Use:   "eval FILE",
		Short: "Compile a manifest and evaluate one entry point",
		Example: `  modeljit eval model.hcl --entry f --state "3" --param "1"
  modeljit eval model.hcl --entry jac --state "1, 2" --t 0.5`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request()
			if err != nil {
				return usageError(err)
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			_, err = a.Eval(cmd.Context(), args[0], req)
			return err
		},
	}

	cmd.Flags().StringVar(&flags.entry, "entry", "", "Entry point to evaluate.")
	cmd.Flags().StringVar(&flags.state, "state", "", "State vector, e.g. \"1, 2.5\".")
	cmd.Flags().StringVar(&flags.param, "param", "", "Parameter vector.")
	cmd.Flags().StringVar(&flags.t, "t", "0", "Independent variable.")
	cmd.Flags().IntVar(&flags.outLen, "out-len", 0, "Output length, required for algebraic and root entry points.")
	_ = cmd.MarkFlagRequired("entry")
	return cmd
}

func (f *evalFlags) request() (app.EvalRequest, error) {
	state, err := manifestfile.ParseVector(f.state)
	if err != nil {
		return app.EvalRequest{}, fmt.Errorf("invalid --state: %w", err)
	}
	param, err := manifestfile.ParseVector(f.param)
	if err != nil {
		return app.EvalRequest{}, fmt.Errorf("invalid --param: %w", err)
	}
	t, err := manifestfile.ParseScalar(f.t)
	if err != nil {
		return app.EvalRequest{}, fmt.Errorf("invalid --t: %w", err)
	}
	if f.outLen < 0 {
		return app.EvalRequest{}, errors.New("invalid --out-len: must not be negative")
	}
	return app.EvalRequest{EntryPoint: f.entry, State: state, Param: param, T: t, OutLen: f.outLen}, nil
}

func newWatchCommand(newApp func() (*app.App, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "watch FILE",
		Short: "Recompile a manifest whenever it changes",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			return a.Watch(cmd.Context(), args[0])
		},
	}
}

// Execute runs the command line in args. Every failure is returned as an
// *ExitError: 2 for usage errors, 1 for everything else.
func Execute(ctx context.Context, args []string, outW, logW io.Writer) error {
	root := NewRootCommand(outW, logW)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	return &ExitError{Code: 1, Message: err.Error()}
}
