package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/scott-cotton/cli"
	diffpatch "github.com/sergi/go-diff/diffmatchpatch"

	"github.com/signadot/dictd/storage"
)

type FmtConfig struct {
	*MainConfig
	Fmt   *cli.Command
	Diff  bool `cli:"name=d desc='print a diff between the file and its canonical form'"`
	Write bool `cli:"name=w desc='rewrite the file in canonical form'"`
}

func FmtCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &FmtConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Fmt, "fmt").
		WithSynopsis("fmt [-d] [-w] <dictionary file>").
		WithDescription("print a dictionary file in the canonical form dictd writes").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return dictFmt(cfg, cc, args)
		})
}

func dictFmt(cfg *FmtConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Fmt.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: fmt requires one argument, a dictionary file", cli.ErrUsage)
	}
	path := args[0]
	orig, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	words, err := storage.Parse(bytes.NewReader(orig))
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := storage.Render(&buf, words); err != nil {
		return err
	}

	if cfg.Diff {
		writeLineDiff(cc.Out, path, string(orig), buf.String())
	}
	if cfg.Write {
		if bytes.Equal(orig, buf.Bytes()) {
			return nil
		}
		return os.WriteFile(path, buf.Bytes(), 0o644)
	}
	if !cfg.Diff {
		_, err = cc.Out.Write(buf.Bytes())
	}
	return err
}

// writeLineDiff prints a line oriented diff from a to b. It prints nothing
// when they are equal.
func writeLineDiff(w io.Writer, name, a, b string) {
	if a == b {
		return
	}
	dmp := diffpatch.New()
	ca, cb, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)

	fmt.Fprintf(w, "--- %s\n+++ %s (canonical)\n", name, name)
	for _, d := range diffs {
		text := strings.TrimSuffix(d.Text, "\n")
		for _, line := range strings.Split(text, "\n") {
			switch d.Type {
			case diffpatch.DiffDelete:
				fmt.Fprintln(w, color.RedString("-%s", line))
			case diffpatch.DiffInsert:
				fmt.Fprintln(w, color.GreenString("+%s", line))
			case diffpatch.DiffEqual:
				fmt.Fprintf(w, " %s\n", line)
			}
		}
	}
}
