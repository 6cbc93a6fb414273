package command

import (
	"context"
	"os"
	"os/signal"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/asus-linux/supergfxd/pkg/log"
	"github.com/asus-linux/supergfxd/pkg/server"
	"github.com/asus-linux/supergfxd/pkg/systemd"
)

// handledSignals: SIGTERM/SIGINT trigger a graceful shutdown, SIGUSR1 dumps
// goroutine stacks for debugging, and SIGPIPE is swallowed so a broken
// client socket never kills the daemon.
var handledSignals = []os.Signal{unix.SIGTERM, unix.SIGINT, unix.SIGUSR1, unix.SIGPIPE}

func notifySignals(signals chan os.Signal) {
	signal.Notify(signals, handledSignals...)
}

// handleSignals returns a channel that closes once a terminating signal has
// been handled and the httpServer told to stop.
func handleSignals(cancel context.CancelFunc, signals chan os.Signal, httpServer *server.Server) chan struct{} {
	done := make(chan struct{})
	go func() {
		for s := range signals {
			switch s {
			case unix.SIGPIPE:
				continue
			case unix.SIGUSR1:
				dumpStacks()
				continue
			default:
				log.Logger.Infow("received signal, shutting down", "signal", s)
				if systemd.SystemctlExists() {
					if err := systemd.NotifyStopping(context.Background()); err != nil {
						log.Logger.Warnw("sd_notify STOPPING failed", "error", err)
					}
				}
				httpServer.Stop()
				cancel()
				close(done)
				return
			}
		}
	}()
	return done
}

func dumpStacks() {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	log.Logger.Infow("goroutine dump", "stacks", string(buf[:n]))
}
