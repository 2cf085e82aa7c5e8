package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/go-appsec/pasetool/pasetool/cliutil"
	"github.com/go-appsec/pasetool/pasetool/config"
	"github.com/go-appsec/pasetool/pasetool/logger"
	"github.com/go-appsec/pasetool/pasetool/paseto"
	"github.com/go-appsec/pasetool/pasetool/proxy"
	"github.com/go-appsec/pasetool/pasetool/replay"
	"github.com/go-appsec/pasetool/pasetool/service"
)

var rootCommands = []string{"mcp", "proxy", "paseto", "replay", "version", "help"}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	mcpURL, args, err := extractGlobalFlags(args)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(args) < 1 {
		printRootUsage()
		return 1
	}

	switch args[0] {
	case "mcp":
		return runMCPServer(args[1:])
	case "proxy":
		err = proxy.Parse(args[1:], mcpURL)
	case "paseto":
		err = paseto.Parse(args[1:], mcpURL)
	case "replay":
		err = replay.Parse(args[1:], mcpURL)
	case "version", "--version", "-v":
		fmt.Printf("pasetool version %s (%s)\n", config.Version, config.RevNum)
		return 0
	case "help", "--help", "-h":
		printRootUsage()
		return 0
	default:
		err = cliutil.UnknownCommandError(args[0], rootCommands)
	}

	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runMCPServer(args []string) int {
	flags, err := service.ParseMCPServerFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error parsing mcp flags: %v\n", err)
		return 1
	}

	log := logger.New(flags.LogLevel)
	srv, err := service.NewServer(flags, log)
	if err != nil {
		log.Error().Err(err).Msg("create server")
		return 1
	} else if err := srv.Run(context.Background()); err != nil {
		log.Error().Err(err).Msg("server stopped")
		return 1
	}
	return 0
}
