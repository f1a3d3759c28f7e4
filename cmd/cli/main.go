package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/tierstore/internal/cli"
	"github.com/dmitrijs2005/tierstore/internal/logging"
	"github.com/dmitrijs2005/tierstore/internal/server"
	"github.com/dmitrijs2005/tierstore/internal/server/config"
)

func main() {
	os.Exit(run())
}

func run() int {

	ctx := context.Background()

	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 2
	}

	cmd, args := cli.SplitCommand(os.Args[1:])
	if !cli.NeedsEngine(cmd) {
		return cli.NewApp(nil).Run(ctx, cmd, args)
	}

	logger := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	engine, err := server.OpenEngine(ctx, cfg, logger, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer engine.Close()

	return cli.NewApp(engine).Run(ctx, cmd, args)
}
