package surrealshop

import (
	"errors"
	"flag"
	"fmt"
	"io"
)

const usage = `subcommand required

Usage: surrealshop [flags] <command> [command flags]

Commands:
  run       Start the HTTP server and the consistency monitor
  migrate   Create tables and indexes on PostgreSQL and SurrealDB
  backfill  Copy source records missing in the target
  phase     Print the configured phase, or query/change it on a running server

Examples:
  surrealshop migrate
  surrealshop -phase dual_write_source_read run
  surrealshop -config surrealshop.yaml -port 8090 run
  surrealshop -backend memory run
  surrealshop backfill -batch 1000
  surrealshop phase -server http://localhost:8080 -to dual_write_target_read`

// Parse parses command line arguments and returns the command to execute and the
// resolved configuration.
//
// Configuration is layered: defaults, then the YAML file named by -config, then the
// environment, then the global flags that were given explicitly.
func Parse(args []string) (Command, *Config, error) {
	flagSet := flag.NewFlagSet("surrealshop", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var (
		configPath = flagSet.String("config", "", "Path to a YAML configuration file")
		port       = flagSet.String("port", "", "Server port")
		startPhase = flagSet.String("phase", "", "Initial migration phase")
		backend    = flagSet.String("backend", "", "Storage backends: database or memory")
		logLevel   = flagSet.String("log-level", "", "Log level")
		logPretty  = flagSet.Bool("log-pretty", false, "Human readable console logs")
	)

	if err := flagSet.Parse(args); err != nil {
		return nil, nil, err
	}

	remainingArgs := flagSet.Args()
	if len(remainingArgs) == 0 {
		return nil, nil, errors.New(usage)
	}

	cmd, err := parseCommand(remainingArgs[0], remainingArgs[1:])
	if err != nil {
		return nil, nil, err
	}

	config := DefaultConfig()
	if *configPath != "" {
		if err := config.LoadFile(*configPath); err != nil {
			return nil, nil, err
		}
	}
	if err := config.LoadEnv(); err != nil {
		return nil, nil, err
	}

	flagSet.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			config.Server.Port = *port
		case "phase":
			config.Migration.Phase = *startPhase
		case "backend":
			config.Backend = *backend
		case "log-level":
			config.Log.Level = *logLevel
		case "log-pretty":
			config.Log.Pretty = *logPretty
		}
	})

	if err := config.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cmd, config, nil
}

func parseCommand(name string, args []string) (Command, error) {
	flagSet := flag.NewFlagSet(name, flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var cmd Command
	switch name {
	case "run":
		cmd = &RunCommand{}
	case "migrate":
		cmd = &MigrateCommand{}
	case "backfill":
		c := &BackfillCommand{}
		flagSet.IntVar(&c.BatchSize, "batch", 0, "Records read per page")
		flagSet.IntVar(&c.Concurrency, "concurrency", 0, "Concurrent target writes per page")
		cmd = c
	case "phase":
		c := &PhaseCommand{}
		flagSet.StringVar(&c.Server, "server", "", "Base URL of a running surrealshop")
		flagSet.StringVar(&c.Target, "to", "", "Phase to move the server to")
		flagSet.BoolVar(&c.Rollback, "rollback", false, "Allow moving one phase backward")
		flagSet.BoolVar(&c.Force, "force", false, "Bypass the advancement gate")
		cmd = c
	default:
		return nil, fmt.Errorf("unknown command: %s\n\nValid commands: run, migrate, backfill, phase", name)
	}

	if err := flagSet.Parse(args); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if flagSet.NArg() > 0 {
		return nil, fmt.Errorf("%s: unexpected arguments %v", name, flagSet.Args())
	}
	if c, ok := cmd.(*PhaseCommand); ok && c.Target != "" && c.Server == "" {
		return nil, fmt.Errorf("phase: -to requires -server")
	}
	return cmd, nil
}
