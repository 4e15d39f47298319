package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/frisk-from-paris/Chanina/pkg/queue"
)

var (
	runConfigPairs []string
	runWait        bool
	runTimeout     time.Duration
	runLocal       bool
)

var runCmd = &cobra.Command{
	Use:   "run <identifier> [args...]",
	Short: "Enqueue a libretto by identifier",
	Long: `Enqueue a libretto for execution by a worker. Positional arguments after
the identifier are forwarded as the libretto's argument list; -g pairs become
its configuration mapping.

With --local the libretto runs in-process on an in-memory queue instead of
being submitted to the Redis broker. Only the built-in libretti are available
there; user libretti live in the worker's process image.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := ParseConfig(runConfigPairs)
		if err != nil {
			return err
		}

		title, taskArgs := args[0], args[1:]
		if runLocal {
			return runLocally(cmd, title, taskArgs, config)
		}
		return runRemotely(cmd, title, taskArgs, config)
	},
}

func init() {
	runCmd.Flags().StringArrayVarP(&runConfigPairs, "set", "g", nil, "config pair key=value (repeatable)")
	runCmd.Flags().BoolVar(&runWait, "wait", false, "block until the result is available")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 30*time.Second, "how long --wait blocks")
	runCmd.Flags().BoolVar(&runLocal, "local", false, "run in-process instead of enqueueing")
	rootCmd.AddCommand(runCmd)
}

// runRemotely submits the item to the configured broker and, with --wait,
// blocks for its outcome.
func runRemotely(cmd *cobra.Command, title string, args []string, config map[string]string) error {
	app, err := buildApp(false)
	if err != nil {
		return err
	}

	result, err := app.Enqueue(cmd.Context(), title, args, config)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s (%s)\n", title, result.ID())

	if !runWait {
		return nil
	}
	return printOutcome(cmd, result)
}

// runLocally spins an in-process worker up around a single dispatch. The
// worker loop is cancelled once the outcome arrives, which also runs the
// session teardown hooks.
func runLocally(cmd *cobra.Command, title string, args []string, config map[string]string) error {
	app, err := buildApp(true)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	workerErr := make(chan error, 1)
	go func() { workerErr <- app.Run(ctx) }()

	result, err := app.Enqueue(ctx, title, args, config)
	if err != nil {
		cancel()
		<-workerErr
		return err
	}

	outcomeErr := printOutcome(cmd, result)
	cancel()
	if err := <-workerErr; err != nil {
		return err
	}
	return outcomeErr
}

func printOutcome(cmd *cobra.Command, result queue.Result) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
	defer cancel()

	value, err := result.Get(ctx)
	if err != nil {
		return err
	}
	if value != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%v\n", value)
	}
	return nil
}
