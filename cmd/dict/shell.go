package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-shellwords"
	"github.com/scott-cotton/cli"

	"github.com/signadot/dictd/api"
	"github.com/signadot/dictd/client"
)

type ShellConfig struct {
	*MainConfig
	Shell  *cli.Command
	Manual bool `cli:"name=manual desc='start with auto-connect off'"`
}

func ShellCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &ShellConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Shell, "shell").
		WithAliases("sh").
		WithSynopsis("shell [-manual]").
		WithDescription("run an interactive session which keeps its connection alive").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return runShell(cfg, cc, args)
		})
}

func runShell(cfg *ShellConfig, cc *cli.Context, args []string) error {
	_, err := cfg.Shell.Parse(cc, args)
	if err != nil {
		return err
	}
	ccfg, err := cfg.clientConfig()
	if err != nil {
		return err
	}
	ccfg.AutoConnect = !cfg.Manual

	sh := newShell(cc.Out, client.New(ccfg))
	defer sh.sup.Close()

	ctx := context.Background()
	if cfg.Manual {
		sh.sup.Connect(ctx)
	}
	return sh.loop(ctx, cc.In, interactive(cc.In))
}

// interactive reports whether r is a terminal, in which case the shell
// prints a prompt.
func interactive(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// shell serializes writes to out: lifecycle events arrive on the
// supervisor's dispatch goroutine.
type shell struct {
	sup *client.Supervisor
	mu  sync.Mutex
	out io.Writer
}

func newShell(out io.Writer, sup *client.Supervisor) *shell {
	sh := &shell{sup: sup, out: out}
	sup.AddListener(&client.ListenerFuncs{
		Connected:       func() { sh.event(color.GreenString("connected")) },
		Disconnected:    func() { sh.event(color.YellowString("disconnected")) },
		Reconnecting:    func() { sh.event(color.YellowString("reconnecting...")) },
		ReconnectFailed: func() { sh.event(color.RedString("reconnect failed")) },
		StillFailing: func(attempt int, err error) {
			sh.event(color.RedString("still unable to connect after %d attempts: %v", attempt, err))
		},
	})
	return sh
}

func (sh *shell) event(msg string) {
	sh.printf("* %s\n", msg)
}

func (sh *shell) printf(format string, args ...any) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	fmt.Fprintf(sh.out, format, args...)
}

func (sh *shell) loop(ctx context.Context, in io.Reader, prompt bool) error {
	scanner := bufio.NewScanner(in)
	for {
		if prompt {
			sh.printf("dict> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		quit, err := sh.exec(ctx, scanner.Text())
		if err != nil {
			sh.printf("%s\n", color.RedString("%v", err))
		}
		if quit {
			return nil
		}
	}
}

var errArgs = errors.New("wrong number of arguments")

// exec runs one shell line. It reports whether the shell should exit.
func (sh *shell) exec(ctx context.Context, line string) (bool, error) {
	args, err := splitArgs(line)
	if err != nil {
		return false, err
	}
	if len(args) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(args[0]), args[1:]
	var req *api.Request
	switch cmd {
	case "quit", "exit":
		return true, nil
	case "help", "?":
		sh.printf("%s", shellHelp)
		return false, nil
	case "status":
		sh.printf("%s (auto-connect %s)\n", sh.sup.State(), onOff(sh.sup.AutoConnect()))
		return false, nil
	case "connect":
		if !sh.sup.Connect(ctx) && !sh.sup.AutoConnect() {
			return false, errors.New("could not connect")
		}
		return false, nil
	case "disconnect":
		sh.sup.Disconnect()
		return false, nil
	case "auto":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return false, fmt.Errorf("%w: auto on|off", errArgs)
		}
		sh.sup.SetAutoConnect(args[0] == "on")
		return false, nil
	case "search", "s":
		if len(args) != 1 {
			return false, fmt.Errorf("%w: search <word>", errArgs)
		}
		req = api.Search(args[0])
	case "add", "a":
		if len(args) < 2 {
			return false, fmt.Errorf("%w: add <word> <meaning> [meaning...]", errArgs)
		}
		req = api.Add(args[0], args[1:]...)
	case "remove", "rm":
		if len(args) != 1 {
			return false, fmt.Errorf("%w: remove <word>", errArgs)
		}
		req = api.Remove(args[0])
	case "addm", "add-meaning":
		if len(args) != 2 {
			return false, fmt.Errorf("%w: addm <word> <meaning>", errArgs)
		}
		req = api.AddMeaning(args[0], args[1])
	case "update", "update-meaning":
		if len(args) != 3 {
			return false, fmt.Errorf("%w: update <word> <old meaning> <new meaning>", errArgs)
		}
		req = api.UpdateMeaning(args[0], args[1], args[2])
	default:
		return false, fmt.Errorf("unknown command %q, try help", cmd)
	}

	resp := sh.sup.SendRequest(ctx, req)
	if resp == nil {
		return false, errNoResponse
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	printResponse(sh.out, resp)
	return false, nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

const shellHelp = `commands:
  search <word>
  add <word> <meaning> [meaning...]
  remove <word>
  addm <word> <meaning>
  update <word> <old meaning> <new meaning>
  connect | disconnect | auto on|off | status
  help | quit
quote arguments containing spaces with ' or "
`

// splitArgs splits line into words with shell quoting rules. Unquoted
// ; & | < > would end the command early, so they are rejected.
func splitArgs(line string) ([]string, error) {
	p := shellwords.NewParser()
	args, err := p.Parse(line)
	if err != nil {
		return nil, err
	}
	if rs := []rune(line); p.Position >= 0 && p.Position < len(rs) {
		return nil, fmt.Errorf("unquoted %q in command line", rs[p.Position])
	}
	return args, nil
}
