package command

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/asus-linux/supergfxd/pkg/version"
)

func cmdVersion(cliContext *cli.Context) error {
	fmt.Fprintln(cliContext.App.Writer, version.Version)
	return nil
}
