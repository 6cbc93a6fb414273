// Command supergfxd is the reference daemon binary wiring the
// mode-transition core (internal/modectl) to the sysfs/PCI/kernel-module
// world, a sqlite-backed persistence layer, and the pkg/server HTTP
// binding of the api/v1 RPC surface.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/asus-linux/supergfxd/cmd/supergfxd/command"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	app := command.App()
	app.Writer = stdout
	app.ErrWriter = stderr
	if err := app.Run(args); err != nil {
		fmt.Fprintf(stderr, "supergfxd: %v\n", err)
		return 1
	}
	return 0
}
