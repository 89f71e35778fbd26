package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/germanamz/danube/internal/startup"
)

// Exit codes.
const (
	exitOK      = 0
	exitRuntime = 1
	exitInit    = 2
)

func main() {
	command := "serve"
	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "serve" || args[0] == "resolve") {
		command, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: danube [serve|resolve] [flags]\n\n"+
			"serve    load the model and answer JSON lines on stdin (default)\n"+
			"resolve  locate or download the model and print its path\n\nFlags:\n")
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "", "path to YAML configuration file (optional)")
	envFile := fs.String("env", ".env", "path to .env file (ignored if missing)")
	_ = fs.Parse(args)

	if err := startup.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitInit)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	var err error
	switch command {
	case "resolve":
		err = runResolve(ctx, *configPath, os.Stdout)
	default:
		err = runServe(ctx, *configPath, os.Stdin, os.Stdout)
	}

	cancel()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case startup.IsInit(err):
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitInit
	case errors.Is(err, context.Canceled):
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRuntime
	}
}
