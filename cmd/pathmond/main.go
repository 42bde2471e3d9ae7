package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/pathmond/internal/api"
	"github.com/dmdmdm-nz/pathmond/internal/mdns"
	"github.com/dmdmdm-nz/pathmond/internal/netmon"
	"github.com/dmdmdm-nz/pathmond/internal/runtime"
	"github.com/dmdmdm-nz/pathmond/pkg/cli"
	"github.com/dmdmdm-nz/pathmond/pkg/version"
)

func main() {
	// Parse command line flags
	cfg := cli.ParseFlags()

	// Configure logging
	setLogLevel(cfg.LogLevel)
	log.SetFormatter(&log.TextFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FullTimestamp:   true,
	})

	log.Info(version.String())
	if cfg.ConfigFile != "" {
		log.Infof("Config: File=%s", cfg.ConfigFile)
	}
	log.Infof("Config: Host=%s", cfg.Host)
	log.Infof("Config: Port=%d", cfg.Port)
	log.Infof("Config: LogLevel=%s", cfg.LogLevel)
	log.Infof("Config: Watcher=%s", cfg.Watcher)
	log.Infof("Config: PollInterval=%s", cfg.PollInterval)
	log.Infof("Config: LogChanges=%v", cfg.LogChanges)
	log.Infof("Config: Advertise=%v", cfg.Advertise)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errExec := runtime.NewSerial()
	defer errExec.Close()

	watcher := netmon.NewWatcher(netmon.WatcherConfig{
		Mode:         cfg.Watcher,
		PollInterval: cfg.PollInterval,
	})
	monitor := netmon.NewMonitor(watcher, netmon.WithErrorHandler(errExec, func(err error) {
		log.WithError(err).Warn("Serving the last known network path until shutdown")
	}))
	apiSvc := api.NewService(cfg.Host, cfg.Port, monitor)

	// Wire observers BEFORE starting the monitor to avoid missing the first path.
	if cfg.LogChanges {
		changes := netmon.NewChangeLogger(log.StandardLogger())
		changes.Attach(monitor)
		defer changes.Close()
	}

	// Start in dependency order: netmon → api → mdns
	super := runtime.NewSupervisor()
	super.Add("netmon", monitor.Run, monitor.Close)
	super.Add("api", apiSvc.Start, apiSvc.Close)

	if cfg.Advertise {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "pathmond"
		}
		advertiser := mdns.NewAdvertiser(hostname, cfg.Port, api.ProtocolVersion)
		advertiser.AttachPath(monitor.Updates())
		super.Add("mdns", advertiser.Start, advertiser.Close)
	}

	if err := super.Start(ctx); err != nil {
		log.WithError(err).Error("Supervisor start failed")
		os.Exit(1)
	}
	if err := super.Wait(ctx); err != nil {
		log.WithError(err).Error("Supervisor wait failed")
		os.Exit(1)
	}
}

func setLogLevel(level string) {
	switch level {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}
