// Package command builds supergfxd's own urfave/cli app: this is the
// daemon's startup flags (--log-level, --log-file, --data-dir, --no-logind,
// ...), not a full external user-facing CLI front-end.
package command

import (
	"github.com/urfave/cli"

	"github.com/asus-linux/supergfxd/pkg/version"
)

const usage = `
# run the daemon in the foreground
sudo supergfxd run

# check the hardware profile, config, and pending transition
supergfxd status
`

var (
	logLevel string
	logFile  string

	listenAddress string
	dataDir       string

	noLogind     bool
	alwaysReboot bool
	vfioEnable   bool
	vfioSave     bool
	hotplugType  string

	showLogs bool
)

// App builds the supergfxd cli.App: "run" boots the daemon, "status"
// dumps a table of the current hardware profile/config/pending state
// against a running daemon's HTTP API, "version" prints the build version.
func App() *cli.App {
	app := cli.NewApp()
	app.Name = "supergfxd"
	app.Version = version.Version
	app.Usage = usage
	app.Description = "switches a laptop's graphics configuration between dGPU, iGPU, and special-purpose modes"

	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "run the mode-transition daemon in the foreground",
			Action: cmdRun,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:        "log-level, l",
					Usage:       "set the logging level [debug, info, warn, error]",
					Destination: &logLevel,
				},
				cli.StringFlag{
					Name:        "log-file",
					Usage:       "set the log file path (empty logs JSON to stderr)",
					Destination: &logFile,
				},
				cli.StringFlag{
					Name:        "listen-address",
					Usage:       "address the api/v1 HTTP binding listens on",
					Destination: &listenAddress,
					Value:       "127.0.0.1:1337",
				},
				cli.StringFlag{
					Name:        "data-dir",
					Usage:       "directory for the sqlite state file (default: /var/lib/supergfxd or ~/.supergfxd)",
					Destination: &dataDir,
				},
				cli.BoolFlag{
					Name:        "no-logind",
					Usage:       "never wait on/inhibit via logind; treat the machine as having no graphical sessions",
					Destination: &noLogind,
				},
				cli.BoolFlag{
					Name:        "always-reboot",
					Usage:       "require a reboot for every transition instead of logout-gating where possible",
					Destination: &alwaysReboot,
				},
				cli.BoolFlag{
					Name:        "vfio-enable",
					Usage:       "offer the Vfio mode when the vfio kernel modules are loadable",
					Destination: &vfioEnable,
				},
				cli.BoolFlag{
					Name:        "vfio-save",
					Usage:       "reassert a persisted Vfio mode on boot if the probed mode doesn't match",
					Destination: &vfioSave,
				},
				cli.StringFlag{
					Name:        "hotplug-type",
					Usage:       "None|Std|Asus: how the daemon removes/re-adds the dGPU for Integrated mode",
					Destination: &hotplugType,
					Value:       "Std",
				},
			},
		},
		{
			Name:   "status",
			Usage:  "show the hardware profile, config, and any pending transition as a table",
			Action: cmdStatus,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:        "address",
					Usage:       "address of a running supergfxd's api/v1 HTTP binding",
					Destination: &listenAddress,
					Value:       "127.0.0.1:1337",
				},
				cli.BoolFlag{
					Name:        "show-logs",
					Usage:       "append the tail of the supergfxd.service journal, if journalctl is available",
					Destination: &showLogs,
				},
			},
		},
		{
			Name:   "version",
			Usage:  "print the daemon version",
			Action: cmdVersion,
		},
	}

	return app
}
