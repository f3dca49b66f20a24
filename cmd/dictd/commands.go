package main

import (
	"fmt"
	"log/slog"

	"github.com/scott-cotton/cli"

	"github.com/signadot/dictd/internal/cmdmain"
	"github.com/signadot/dictd/logging"
)

type MainConfig struct {
	Main     *cli.Command
	LogLevel string `cli:"name=log-level desc='minimum log level: error, warning, info or debug'"`
	Quiet    bool   `cli:"name=q aliases=quiet desc='do not echo log lines to the console'"`
}

func MainCommand() *cli.Command {
	cfg := &MainConfig{}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Main, "dictd").
		WithSynopsis("dictd [opts] command [opts]").
		WithDescription("dictd serves a shared dictionary over TCP.").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return cmdmain.Dispatch(cfg.Main, cc, args)
		}).
		WithSubs(
			ServeCommand(cfg),
			FmtCommand(cfg))
}

// logger configures the process-wide logging hook from the global options
// and returns a logger writing to it.
func (cfg *MainConfig) logger() (*slog.Logger, error) {
	hook := logging.Default()
	if cfg.LogLevel != "" {
		lvl, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", cli.ErrUsage, err)
		}
		hook.SetLevel(lvl)
	}
	if cfg.Quiet {
		hook.SetConsoleEcho(false)
	}
	return hook.Logger(), nil
}
