// Command taski-example is a small, self-contained demonstration of the
// library: a short chain of tasks that fetches a version string, builds a
// greeting from it, and prints the greeting, run through taski.Execute.
//
// taski has no CLI proper; this binary exists only to exercise the
// library end to end, the way a teacher's cmd/ entry point wires its own
// engine together.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"taski"
	"taski/internal/progress"
)

// BuildGreeting's Run body references FetchVersion by this variable name;
// the analyzer maps the identifier back to the Descriptor through the
// Register call below, so the variable name need not equal the registered
// name.
var FetchVersion = taski.Register("FetchVersion", []string{"version"}, func() taski.Task {
	return &fetchVersionTask{}
})

type fetchVersionTask struct {
	taski.Base
}

func (t *fetchVersionTask) Run(ctx context.Context) error {
	t.Export("version", "1.0.0")
	return nil
}

var BuildGreeting = taski.Register("BuildGreeting", []string{"greeting"}, func() taski.Task {
	return &buildGreetingTask{}
})

type buildGreetingTask struct {
	taski.Base
}

func (t *buildGreetingTask) Run(ctx context.Context) error {
	version, err := taski.Get[string](ctx, FetchVersion, "version")
	if err != nil {
		return err
	}
	t.Export("greeting", fmt.Sprintf("taski-example v%s", version))
	return nil
}

var PrintGreeting = taski.Register("PrintGreeting", nil, func() taski.Task {
	return &printGreetingTask{}
})

type printGreetingTask struct{}

func (t *printGreetingTask) Run(ctx context.Context) error {
	greeting, err := taski.Get[string](ctx, BuildGreeting, "greeting")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, greeting)
	return nil
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	args, err := taski.NewArgs(taski.ConfigOptions{
		EnvPrefix: "TASKI_EXAMPLE",
		Defaults:  map[string]any{"_workers": 4},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	result, err := taski.Execute(context.Background(), PrintGreeting,
		taski.WithLogger(logger),
		taski.WithArgs(args),
		taski.WithObserver(progress.FromEnv(os.Stdout, logger)),
	)
	if err != nil {
		var agg *taski.AggregateError
		if errors.As(err, &agg) {
			fmt.Fprintln(os.Stderr, agg.Error())
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "completed: %v\n", result.Completed)
}
