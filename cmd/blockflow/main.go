// Command blockflow runs a pipeline document against the configured
// storage, run store and executors.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/kbukum/blockflow/version"
)

// errRunFailed signals that the run finished but some block did not.
var errRunFailed = stderrors.New("pipeline run failed")

type options struct {
	configFile   string
	envFile      string
	pipeline     string
	pipelineDirs []string
	partition    string
	strategy     string
	blocks       []string
	runID        string
	logLevel     string
	save         bool
	version      bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	var o options
	fs := pflag.NewFlagSet("blockflow", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&o.configFile, "config", "c", "", "path to the engine config file")
	fs.StringVar(&o.envFile, "env-file", "", "path to a .env file")
	fs.StringVarP(&o.pipeline, "pipeline", "p", "", "pipeline document path, name or stored uuid")
	fs.StringSliceVar(&o.pipelineDirs, "pipelines-dir", []string{"pipelines"}, "directories searched for pipeline documents by name")
	fs.StringVar(&o.partition, "partition", "", "variable partition (default \"default\")")
	fs.StringVar(&o.strategy, "strategy", "", "scheduling strategy: concurrent or sequential")
	fs.StringArrayVarP(&o.blocks, "block", "b", nil, "run only this block (repeatable)")
	fs.StringVar(&o.runID, "run-id", "", "pipeline run id to record block runs under")
	fs.StringVar(&o.logLevel, "log-level", "", "override the configured log level")
	fs.BoolVar(&o.save, "save", false, "persist the pipeline with its block statuses after the run")
	fs.BoolVarP(&o.version, "version", "v", false, "print the version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.pipeline == "" && !o.version {
		if fs.NArg() == 0 {
			return nil, fmt.Errorf("--pipeline is required")
		}
		o.pipeline = fs.Arg(0)
	}
	return &o, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	switch {
	case err == nil:
	case stderrors.Is(err, pflag.ErrHelp):
	case stderrors.Is(err, errRunFailed):
		os.Exit(1)
	default:
		fmt.Fprintln(os.Stderr, "blockflow:", err)
		os.Exit(2)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if opts.version {
		fmt.Fprintln(stdout, "blockflow", version.Get())
		return nil
	}

	app, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	return app.Run(ctx, opts, stdout)
}
