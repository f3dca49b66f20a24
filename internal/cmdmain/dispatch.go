// Package cmdmain holds the top level command dispatch shared by the dict
// and dictd binaries.
package cmdmain

import (
	"errors"
	"fmt"

	"github.com/scott-cotton/cli"
)

// Dispatch parses the global options of main from args and runs the
// subcommand they name. A usage error from the subcommand prints that
// subcommand's usage and comes back as a cli.ExitCodeErr, so the top level
// usage is not printed after it.
func Dispatch(main *cli.Command, cc *cli.Context, args []string) error {
	args, err := main.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return cli.ErrNoCommandProvided
	}
	sub := main.FindSub(cc, args[0])
	if sub == nil {
		return fmt.Errorf("%w: %q not found", cli.ErrNoSuchCommand, args[0])
	}
	err = sub.Run(cc, args[1:])
	if errors.Is(err, cli.ErrUsage) {
		sub.Usage(cc, err)
		return cli.ExitCodeErr(sub.Exit(cc, err))
	}
	return err
}
