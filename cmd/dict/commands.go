package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/scott-cotton/cli"

	"github.com/signadot/dictd/api"
	"github.com/signadot/dictd/client"
	"github.com/signadot/dictd/internal/cmdmain"
	"github.com/signadot/dictd/logging"
)

// errNoResponse makes the process exit non-zero when the server could not
// be reached.
var errNoResponse = errors.New("no response from server")

type MainConfig struct {
	Main       *cli.Command
	ConfigFile string `cli:"name=config desc='client configuration file (yaml)'"`
	Addr       string `cli:"name=addr desc='server address (default localhost:1234)'"`
	Timeout    string `cli:"name=timeout desc='request timeout, e.g. 5s'"`
	LogLevel   string `cli:"name=log-level desc='minimum log level: error, warning, info or debug'"`
	Verbose    bool   `cli:"name=v desc='echo client log lines to the console'"`
}

func MainCommand() *cli.Command {
	cfg := &MainConfig{}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Main, "dict").
		WithSynopsis("dict [opts] command [args]").
		WithDescription("dict queries and edits a dictd dictionary.").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return cmdmain.Dispatch(cfg.Main, cc, args)
		}).
		WithSubs(
			SearchCommand(cfg),
			AddCommand(cfg),
			RemoveCommand(cfg),
			AddMeaningCommand(cfg),
			UpdateMeaningCommand(cfg),
			ShellCommand(cfg))
}

// clientConfig builds the supervisor configuration from the config file
// and the global flags.
func (cfg *MainConfig) clientConfig() (*client.Config, error) {
	cc := client.DefaultConfig()
	if cfg.ConfigFile != "" {
		var err error
		if cc, err = client.LoadConfig(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}
	if cfg.Addr != "" {
		cc.Addr = cfg.Addr
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("%w: -timeout: %v", cli.ErrUsage, err)
		}
		cc.RequestTimeout = d
	}

	hook := logging.Default()
	hook.SetConsoleEcho(cfg.Verbose)
	if cfg.LogLevel != "" {
		lvl, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", cli.ErrUsage, err)
		}
		hook.SetLevel(lvl)
	}
	cc.Log = hook.Logger()
	return cc, nil
}

// oneShot connects, sends req and prints the response.
func oneShot(cfg *MainConfig, cc *cli.Context, req *api.Request) error {
	ccfg, err := cfg.clientConfig()
	if err != nil {
		return err
	}
	ccfg.AutoConnect = false
	sup := client.New(ccfg)
	defer sup.Close()

	ctx := context.Background()
	if !sup.Connect(ctx) {
		return fmt.Errorf("%w: cannot connect to %s", errNoResponse, ccfg.Addr)
	}
	resp := sup.SendRequest(ctx, req)
	if resp == nil {
		return errNoResponse
	}
	printResponse(cc.Out, resp)
	return nil
}

// printResponse writes resp in a human readable form.
func printResponse(w io.Writer, resp *api.Response) {
	if resp.Status == api.StatusSuccess && len(resp.Meanings) != 0 {
		fmt.Fprintln(w, color.New(color.Bold).Sprint(resp.Word))
		for i, m := range resp.Meanings {
			fmt.Fprintf(w, "  %d. %s\n", i+1, m)
		}
		return
	}
	msg := resp.Message
	if resp.Word != "" && !strings.Contains(msg, resp.Word) {
		msg = fmt.Sprintf("%s: %s", resp.Word, msg)
	}
	if resp.Status == api.StatusSuccess {
		fmt.Fprintln(w, color.GreenString("%s", msg))
		return
	}
	fmt.Fprintln(w, color.YellowString("%s (%s)", msg, resp.Status))
}
