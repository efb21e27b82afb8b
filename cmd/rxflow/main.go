package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/rxtech-lab/rxflow/internal/config"
	"github.com/rxtech-lab/rxflow/internal/service"
	"github.com/rxtech-lab/rxflow/internal/state"
	"github.com/rxtech-lab/rxflow/internal/state/memory"
	"github.com/rxtech-lab/rxflow/internal/workflow"
	"github.com/rxtech-lab/rxflow/internal/workflow/jsrunner"
	"github.com/rxtech-lab/rxflow/internal/workflow/toolrunner"
)

var (
	name    = "rxflow"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

// ///////////////////////////////////////////////////////////////////

func run(ctx context.Context) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	workflowPath := fs.String("workflow", "", "path to the workflow JSON document")
	contextJSON := fs.String("context", "", "workflow invocation context as a JSON object")
	dryRun := fs.Bool("dry-run", false, "fake all tool calls and use in-memory state")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	if *workflowPath == "" {
		return errors.New("-workflow is required")
	}

	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	data, err := os.ReadFile(*workflowPath)
	if err != nil {
		return fmt.Errorf("read workflow: %w", err)
	}

	wf, err := service.ParseWorkflow(data)
	if err != nil {
		return err
	}

	var invocation map[string]any
	if *contextJSON != "" {
		if err := json.Unmarshal([]byte(*contextJSON), &invocation); err != nil {
			return fmt.Errorf("parse -context: %w", err)
		}
	}

	handlerTimeout, err := cfg.Handler.TimeoutDuration()
	if err != nil {
		return fmt.Errorf("parse handler timeout: %w", err)
	}
	js := jsrunner.New(jsrunner.WithTimeout(handlerTimeout))

	var tools service.ToolRunner
	var stateClient service.StateClient

	if *dryRun {
		slog.Info("dry run: tool calls are faked, state is in-memory")
		tools = toolrunner.NewTestRunner(nil, nil)
		stateClient = memory.New()
	} else {
		gatewayTimeout, err := cfg.Gateway.TimeoutDuration()
		if err != nil {
			return fmt.Errorf("parse gateway timeout: %w", err)
		}
		tools, err = toolrunner.New(cfg.Gateway.BaseURL, cfg.Gateway.APIKey,
			toolrunner.WithTimeout(gatewayTimeout))
		if err != nil {
			return err
		}

		if cfg.State.Redis == nil && cfg.State.Postgres == nil && cfg.State.SQLite == nil {
			slog.Warn("no state store configured, falling back to in-memory state")
			stateClient = memory.New()
		} else {
			durable, err := state.New(ctx, cfg.State)
			if err != nil {
				return err
			}
			defer durable.Close()
			stateClient = durable
		}
	}

	engine, err := workflow.NewEngine(js, tools, stateClient)
	if err != nil {
		return err
	}

	output, err := engine.Execute(ctx, wf, invocation)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(output)
}
