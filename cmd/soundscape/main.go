package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jllopis/soundscape/pkg/config"
)

var version = "dev"

type globalFlags struct {
	ConfigArgs []string
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(NewInvalidArgumentError("flags", err.Error()))
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	cfg, err := config.LoadWithCLI(global.ConfigArgs)
	if err != nil {
		fatal(NewConfigError(err, configPath(global.ConfigArgs)))
	}

	switch cmd := args[0]; cmd {
	case "serve":
		ensureNoArgs(args[1:])
		if err := runServe(ctx, global, cfg); err != nil {
			fatal(err)
		}
	case "agent":
		if len(args) != 2 {
			fatal(NewInvalidArgumentError("agent", "usage: soundscape agent <buildings|weather|time>"))
		}
		if err := runAgent(ctx, cfg, args[1]); err != nil {
			fatal(err)
		}
	case "cycles":
		if err := runCycles(ctx, global, cfg, args[1:]); err != nil {
			fatal(err)
		}
	case "config":
		ensureNoArgs(args[1:])
		if err := cfg.Validate(); err != nil {
			fatal(NewConfigError(err, configPath(global.ConfigArgs)))
		}
		out, err := cfg.YAML()
		if err != nil {
			fatal(err)
		}
		fmt.Print(string(out))
	case "help":
		printUsage()
	case "version":
		printVersion(global)
	default:
		fatal(NewInvalidArgumentError("command", fmt.Sprintf("unknown command %q", cmd)))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var flags globalFlags

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config" || arg == "--set" || arg == "--profile" || arg == "--env":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for %s", arg)
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--config="),
			strings.HasPrefix(arg, "--set="),
			strings.HasPrefix(arg, "--profile="),
			strings.HasPrefix(arg, "--env="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

// configPath returns the --config value from args, if any.
func configPath(args []string) string {
	for i, arg := range args {
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			return v
		}
	}
	return ""
}

func printVersion(flags globalFlags) {
	if flags.JSON {
		printJSON(map[string]string{"version": version})
		return
	}
	fmt.Println(version)
}

func printUsage() {
	fmt.Println(`SoundScape

Usage:
  soundscape [global flags] <command> [args]

Global flags:
  --config <path>      Path to a YAML config file
  --profile <name>     Overlay config.<name>.yaml (alias --env)
  --set key=value      Override config (repeatable)
  --json               JSON output
  -h, --help           Show help

Commands:
  serve                         Run the orchestrator, the agents and the HTTP API
  agent <buildings|weather|time> Run one capability agent behind the gRPC bridge
  cycles [--outcome o] [--limit n]
                                List journaled cycles (storage.driver=sqlite)
  config                        Print the effective configuration
  version                       Print version
  help                          Show help`)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	if cliErr, ok := err.(*CLIError); ok {
		cliErr.PrintError(false)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func ensureNoArgs(args []string) {
	if len(args) > 0 {
		fatal(fmt.Errorf("unexpected args: %v", args))
	}
}
