package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/scott-cotton/cli"
	"golang.org/x/sync/errgroup"

	"github.com/signadot/dictd/logging"
	"github.com/signadot/dictd/server"
)

type ServeConfig struct {
	*MainConfig
	Serve      *cli.Command
	ConfigFile string `cli:"name=config desc='configuration file (yaml)'"`
	Addr       string `cli:"name=addr desc='TCP listen address (default localhost:1234)'"`
	Dict       string `cli:"name=dict desc='dictionary file (default dictionary.txt)'"`
	Workers    int    `cli:"name=workers desc='maximum number of clients served at once (default 100)'"`
	Idle       string `cli:"name=idle desc='close connections idle for this long, e.g. 10m'"`
	LogFile    string `cli:"name=log desc='also write log lines to this file'"`
	Status     string `cli:"name=status desc='interval between status log lines (default 1m, 0 disables)'"`
	Gops       bool   `cli:"name=gops desc='start the gops diagnostics agent'"`
}

func ServeCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &ServeConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Serve, "serve").
		WithSynopsis("serve [-config <file>] [-addr <addr>] [-dict <file>] [-workers <n>]").
		WithDescription("run the dictionary server until interrupted").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return serve(cfg, cc, args)
		})
}

// serverConfig merges the configuration file, if any, with the flags.
// Flags win.
func (cfg *ServeConfig) serverConfig() (*server.Config, error) {
	sc := server.DefaultConfig()
	if cfg.ConfigFile != "" {
		var err error
		sc, err = server.LoadConfig(cfg.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	if cfg.Addr != "" {
		sc.Addr = cfg.Addr
	}
	if cfg.Dict != "" {
		sc.Dictionary = cfg.Dict
	}
	if cfg.Workers != 0 {
		sc.Workers = cfg.Workers
	}
	if cfg.Idle != "" {
		d, err := time.ParseDuration(cfg.Idle)
		if err != nil {
			return nil, fmt.Errorf("%w: -idle: %v", cli.ErrUsage, err)
		}
		sc.IdleTimeout = d
	}
	if cfg.LogFile != "" {
		if sc.Log == nil {
			sc.Log = &server.LogConfig{}
		}
		sc.Log.File = cfg.LogFile
	}
	return sc, sc.Validate()
}

func serve(cfg *ServeConfig, cc *cli.Context, args []string) error {
	_, err := cfg.Serve.Parse(cc, args)
	if err != nil {
		return err
	}
	statusEvery := time.Minute
	if cfg.Status != "" {
		if statusEvery, err = time.ParseDuration(cfg.Status); err != nil {
			return fmt.Errorf("%w: -status: %v", cli.ErrUsage, err)
		}
	}

	sc, err := cfg.serverConfig()
	if err != nil {
		return err
	}
	closeLog, err := sc.Log.Apply(logging.Default())
	if err != nil {
		return err
	}
	defer closeLog()
	log, err := cfg.logger()
	if err != nil {
		return err
	}

	if cfg.Gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			fmt.Fprintf(cc.Out, "gops agent failed: %v\n", err)
		} else {
			defer agent.Close()
		}
	}

	srv, err := server.Open(sc, log)
	if err != nil {
		return err
	}
	if err := srv.Start(""); err != nil {
		return fmt.Errorf("failed to start TCP listener: %w", err)
	}
	fmt.Fprintf(cc.Out, "dictd listening on %s (%d words)\n", srv.Addr(), srv.WordCount())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		return srv.Stop()
	})
	if statusEvery > 0 {
		g.Go(func() error {
			reportStatus(ctx, srv, log, statusEvery)
			return nil
		})
	}
	return g.Wait()
}

// reportStatus logs the server's client and word counts every interval.
func reportStatus(ctx context.Context, srv *server.Server, log *slog.Logger, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		st := srv.PoolStats()
		log.Info("status",
			"clients", srv.ClientCount(),
			"words", srv.WordCount(),
			"queued", st.Queued,
			"served", st.Completed,
			"failed", st.Failed)
	}
}
