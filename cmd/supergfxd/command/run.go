package command

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	v1 "github.com/asus-linux/supergfxd/api/v1"
	"github.com/asus-linux/supergfxd/internal/executor"
	"github.com/asus-linux/supergfxd/internal/hwprobe"
	"github.com/asus-linux/supergfxd/internal/modectl"
	"github.com/asus-linux/supergfxd/internal/session"
	"github.com/asus-linux/supergfxd/pkg/config"
	"github.com/asus-linux/supergfxd/pkg/log"
	"github.com/asus-linux/supergfxd/pkg/server"
	"github.com/asus-linux/supergfxd/pkg/sqlite"
	"github.com/asus-linux/supergfxd/pkg/state"
	"github.com/asus-linux/supergfxd/pkg/systemd"
)

func cmdRun(cliContext *cli.Context) error {
	zapLvl, err := log.ParseLogLevel(logLevel)
	if err != nil {
		return err
	}
	log.SetGlobal(log.CreateLogger(zapLvl, logFile))
	httpLogger := newHTTPLogger(zapLvl.Level())

	configOpts := []config.OpOption{
		config.WithNoLogind(noLogind),
		config.WithAlwaysReboot(alwaysReboot),
		config.WithVfioEnable(vfioEnable),
		config.WithVfioSave(vfioSave),
		config.WithHotplugType(v1.HotplugType(hotplugType)),
	}
	if dataDir != "" {
		configOpts = append(configOpts, config.WithDataDir(dataDir))
	}

	bootCtx, bootCancel := context.WithTimeout(context.Background(), time.Minute)
	defer bootCancel()

	cfg, err := config.DefaultConfig(bootCtx, configOpts...)
	if err != nil {
		return fmt.Errorf("resolving config: %w", err)
	}

	stateFile, err := config.DefaultStateFile(configOpts...)
	if err != nil {
		return fmt.Errorf("resolving state file path: %w", err)
	}

	dbRW, err := sqlite.Open(stateFile)
	if err != nil {
		return fmt.Errorf("opening state file %s: %w", stateFile, err)
	}
	defer dbRW.Close()

	dbRO, err := sqlite.Open(stateFile, sqlite.WithReadOnly(true))
	if err != nil {
		return fmt.Errorf("opening state file %s read-only: %w", stateFile, err)
	}
	defer dbRO.Close()

	persistence, err := state.New(bootCtx, dbRW, dbRO)
	if err != nil {
		return fmt.Errorf("initializing state store: %w", err)
	}
	defer persistence.Close()

	if stored, err := persistence.LoadConfig(bootCtx); err != nil {
		log.Logger.Warnw("loading persisted config failed, using resolved defaults", "error", err)
	} else if stored != nil {
		cfg = stored
	} else if err := persistence.SaveConfig(bootCtx, cfg); err != nil {
		log.Logger.Warnw("persisting initial config failed", "error", err)
	}

	result, err := hwprobe.Probe(cfg)
	if err != nil {
		log.Logger.Warnw("initial hardware probe failed, continuing unmanaged", "error", err)
		result = &hwprobe.Result{Profile: &v1.HardwareProfile{}, Mode: v1.ModeNone}
	}
	log.Logger.Infow("probed hardware", "mode", result.Mode, "vendor", result.Profile.DGPUVendor, "supported", result.Profile.Supported)

	sessionCoord, err := session.New(cfg)
	if err != nil {
		return fmt.Errorf("connecting session coordinator: %w", err)
	}
	defer sessionCoord.Close()

	exec := executor.New(executor.Deps{
		Session:     sessionCoord,
		Persistence: persistence,
		DGPUAddress: result.Profile.DGPUAddress,
	})

	controller, err := modectl.New(modectl.Deps{
		Persistence: persistence,
		Session:     sessionCoord,
		Executor:    exec,
		Profile:     result.Profile,
		Mode:        result.Mode,
		Config:      cfg,
	})
	if err != nil {
		return fmt.Errorf("constructing mode controller: %w", err)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	if err := controller.Start(rootCtx); err != nil {
		return fmt.Errorf("running boot-time resume sequence: %w", err)
	}

	httpServer, err := server.New(listenAddress, controller, controller, httpLogger)
	if err != nil {
		return fmt.Errorf("constructing api/v1 HTTP binding: %w", err)
	}

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- httpServer.Serve() }()

	signals := make(chan os.Signal, 16)
	done := handleSignals(rootCancel, signals, httpServer)
	notifySignals(signals)

	if systemd.SystemctlExists() {
		if err := systemd.NotifyReady(rootCtx); err != nil {
			log.Logger.Warnw("sd_notify READY failed", "error", err)
		}
	}

	log.Logger.Infow("supergfxd started", "mode", result.Mode, "listen_address", listenAddress)

	select {
	case <-done:
	case err := <-serveErrCh:
		if err != nil {
			return fmt.Errorf("api/v1 HTTP binding stopped: %w", err)
		}
	}
	return nil
}

// newHTTPLogger builds the *zap.Logger pkg/server's gin middlewares need;
// pkg/log's package-level Logger is a sugared wrapper with its own
// context.Canceled special-casing, so the HTTP access logger is its own
// small instance at the same level rather than threading that wrapper
// through gin.
func newHTTPLogger(level zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
