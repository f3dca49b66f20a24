package main

import (
	"fmt"

	"github.com/scott-cotton/cli"

	"github.com/signadot/dictd/api"
)

type RequestConfig struct {
	*MainConfig
	Command *cli.Command
}

// requestCommand builds a one-shot subcommand. build turns the positional
// arguments into a request, or reports a usage error.
func requestCommand(mainCfg *MainConfig, name, synopsis, desc string, build func(args []string) (*api.Request, error), aliases ...string) *cli.Command {
	cfg := &RequestConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Command, name).
		WithAliases(aliases...).
		WithSynopsis(synopsis).
		WithDescription(desc).
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			args, err := cfg.Command.Parse(cc, args)
			if err != nil {
				return err
			}
			req, err := build(args)
			if err != nil {
				return err
			}
			return oneShot(cfg.MainConfig, cc, req)
		})
}

func SearchCommand(cfg *MainConfig) *cli.Command {
	return requestCommand(cfg, "search", "search <word>", "print the meanings of a word",
		func(args []string) (*api.Request, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("%w: search requires one word", cli.ErrUsage)
			}
			return api.Search(args[0]), nil
		}, "s")
}

func AddCommand(cfg *MainConfig) *cli.Command {
	return requestCommand(cfg, "add", "add <word> <meaning> [meaning...]", "add a new word with its meanings",
		func(args []string) (*api.Request, error) {
			if len(args) < 2 {
				return nil, fmt.Errorf("%w: add requires a word and at least one meaning", cli.ErrUsage)
			}
			return api.Add(args[0], args[1:]...), nil
		}, "a")
}

func RemoveCommand(cfg *MainConfig) *cli.Command {
	return requestCommand(cfg, "remove", "remove <word>", "remove a word and all its meanings",
		func(args []string) (*api.Request, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("%w: remove requires one word", cli.ErrUsage)
			}
			return api.Remove(args[0]), nil
		}, "rm")
}

func AddMeaningCommand(cfg *MainConfig) *cli.Command {
	return requestCommand(cfg, "add-meaning", "add-meaning <word> <meaning>", "append a meaning to an existing word",
		func(args []string) (*api.Request, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("%w: add-meaning requires a word and a meaning", cli.ErrUsage)
			}
			return api.AddMeaning(args[0], args[1]), nil
		}, "addm")
}

func UpdateMeaningCommand(cfg *MainConfig) *cli.Command {
	return requestCommand(cfg, "update-meaning", "update-meaning <word> <old meaning> <new meaning>", "replace one meaning of a word in place",
		func(args []string) (*api.Request, error) {
			if len(args) != 3 {
				return nil, fmt.Errorf("%w: update-meaning requires a word, the old meaning and the new meaning", cli.ErrUsage)
			}
			return api.UpdateMeaning(args[0], args[1], args[2]), nil
		}, "update")
}
