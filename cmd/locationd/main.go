// Command locationd runs the process-wide location service: the Engine, its
// registered Providers, and whatever Sessions the external IPC skeleton
// would otherwise create. One daemon loop driven by os/signal and a ticker.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ubports/locationd/pkg/connectivity"
	"github.com/ubports/locationd/pkg/criteria"
	"github.com/ubports/locationd/pkg/engine"
	"github.com/ubports/locationd/pkg/gpsconf"
	"github.com/ubports/locationd/pkg/harvester"
	"github.com/ubports/locationd/pkg/harvester/reporter"
	"github.com/ubports/locationd/pkg/lastfix"
	"github.com/ubports/locationd/pkg/logx"
	"github.com/ubports/locationd/pkg/metrics"
	"github.com/ubports/locationd/pkg/mqtttelemetry"
	"github.com/ubports/locationd/pkg/provider/dummy"
	"github.com/ubports/locationd/pkg/provider/remote"
	"github.com/ubports/locationd/pkg/session"
	"github.com/ubports/locationd/pkg/units"
)

const (
	version = "1.0.0-dev"
	appName = "locationd"
)

var (
	gpsConfPath = flag.String("gps-conf", "/etc/gps.conf", "vendor gps.conf path")
	logLevel    = flag.String("log-level", "info", "log level (debug|info|warn|error)")
	lastFixDB   = flag.String("last-fix-db", "", "sqlite path for the last-known-fix cache (empty disables)")
	metricsAddr = flag.String("metrics-addr", "", "Prometheus listen address, e.g. :9475 (empty disables)")
	remoteURL   = flag.String("remote-provider-url", "", "optional network-based remote location provider endpoint")
	showVersion = flag.Bool("version", false, "show version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", appName, version)
		os.Exit(0)
	}

	logger := logx.New(*logLevel)
	logger.Info("starting location service", "version", version, "gps_conf", *gpsConfPath)

	if conf, err := loadGPSConf(*gpsConfPath); err != nil {
		logger.Warn("gps.conf not loaded, continuing with defaults", "error", err.Error())
	} else {
		logger.Debug("gps.conf loaded", "xtra_hosts", conf.XTRAHosts(), "supl_host", conf.SUPLHost)
	}

	connSnap := connectivity.NewSnapshot()
	connSnap.State.Set(connectivity.StateOnline)

	eng := engine.New(connSnap, logger)

	// The metrics server observes provider activations and selection
	// outcomes, so it is installed before any provider registers.
	var metricsServer *metrics.Server
	if *metricsAddr != "" {
		metricsServer = metrics.NewServer(logger)
		eng.SetObserver(metricsServer)
		if err := metricsServer.Start(*metricsAddr); err != nil {
			logger.Error("failed to start metrics server", "error", err.Error())
		}
	}

	if *lastFixDB != "" {
		restoreLastFix(eng, *lastFixDB, logger)
	}

	// No vendor GPS shim is linked into this build; a dummy provider
	// stands in as the position source so the Engine/selection/session
	// machinery has something to fuse against.
	dummyCaps := criteria.Capabilities{
		Features:           criteria.FeaturePosition | criteria.FeatureHeading | criteria.FeatureVelocity,
		Requirements:       criteria.RequiresSatellites,
		HorizontalAccuracy: units.Length(5),
		VerticalAccuracy:   units.Length(8),
		VelocityAccuracy:   units.Velocity(0.5),
		HeadingAccuracy:    units.Angle(2),
	}
	satProvider := dummy.New(dummyCaps, dummy.Script{
		Interval: 2 * time.Second,
		Positions: []units.Update[units.Position]{
			mustDemoPosition(37.8199, -122.4783, 10),
			mustDemoPosition(37.8201, -122.4779, 8),
		},
	})
	eng.Add(satProvider)

	if *remoteURL != "" {
		netProvider := remote.New(remote.Config{
			Endpoint: *remoteURL,
			Capabilities: criteria.Capabilities{
				Features:           criteria.FeaturePosition,
				Requirements:       criteria.RequiresDataNetwork,
				HorizontalAccuracy: units.Length(50),
			},
		}, logger)
		eng.Add(netProvider)
		logger.Info("registered remote location provider", "endpoint", *remoteURL)
	}

	mqttCfg := mqtttelemetry.DefaultConfig()
	mqttCfg.Enabled = os.Getenv("COM_UBUNTU_LOCATION_SERVICE_MQTT_ENABLE") == "1"
	mqttPublisher := mqtttelemetry.NewPublisher(mqttCfg, logger)
	if err := mqttPublisher.Connect(); err != nil {
		logger.Warn("mqtt telemetry connect failed", "error", err.Error())
	}
	defer mqttPublisher.Disconnect()

	rep := buildReporter(logger)
	harv := harvester.New(&eng.LastKnownLocation, harvester.GetterFunc(func() bool {
		return eng.WifiAndCellReporting.Get() == engine.On
	}), connSnap, rep, logger)
	if metricsServer != nil {
		harv.SetObserver(metricsServer)
	}
	harv.Start()

	unsubState := eng.State.Subscribe(func(s engine.State) {
		if metricsServer != nil {
			metricsServer.SetEngineState(int(s))
		}
		if err := mqttPublisher.PublishEngineState(s.String()); err != nil {
			logger.Debug("mqtt engine state publish failed", "error", err.Error())
		}
	})
	defer eng.State.Unsubscribe(unsubState)

	unsubFix := eng.LastKnownLocation.Subscribe(func(u *units.Update[units.Position]) {
		if u == nil {
			return
		}
		if metricsServer != nil {
			metricsServer.SetLastFixAccuracy(u.Value.Accuracy.HorizontalOrInfinite().Meters())
		}
		if err := mqttPublisher.PublishFix(*u); err != nil {
			logger.Debug("mqtt fix publish failed", "error", err.Error())
		}
		if *lastFixDB != "" {
			persistLastFix(*lastFixDB, *u, logger)
		}
	})
	defer eng.LastKnownLocation.Unsubscribe(unsubFix)

	// Demonstration session: a single in-process client requesting a
	// position-only fix at whatever accuracy the default policy can supply.
	// The external IPC skeleton is what would normally create one Session
	// per connecting client.
	demoSel := eng.DetermineProviderSelectionForCriteria(criteria.Criteria{})
	demoProxy := session.NewProxyProvider(demoSel)
	demoSession := session.New(demoProxy, eng)
	if err := demoSession.SetPositionStatus(session.Enabled); err != nil {
		logger.Warn("demo session failed to start position updates", "error", err.Error())
	}
	defer demoSession.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	logger.Info("location service started")

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				logger.Info("received SIGHUP, reloading gps.conf")
				if conf, err := loadGPSConf(*gpsConfPath); err != nil {
					logger.Warn("gps.conf reload failed", "error", err.Error())
				} else {
					logger.Debug("gps.conf reloaded", "xtra_hosts", conf.XTRAHosts())
				}
			case syscall.SIGINT, syscall.SIGTERM:
				logger.Info("received shutdown signal", "signal", sig.String())
				harv.Stop()
				if metricsServer != nil {
					metricsServer.Stop()
				}
				cancel()
				return
			}
		case <-ticker.C:
			if metricsServer != nil {
				metricsServer.SetEngineState(int(eng.State.Get()))
			}
		case <-ctx.Done():
			return
		}
	}
}

func loadGPSConf(path string) (gpsconf.Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return gpsconf.Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	return gpsconf.Parse(string(body)), nil
}

func buildReporter(logger *logx.Logger) reporter.Reporter {
	instanceURL := os.Getenv("COM_UBUNTU_LOCATION_SERVICE_PROVIDER_ICHNAEA_INSTANCE_URL")
	apiKey := os.Getenv("COM_UBUNTU_LOCATION_SERVICE_PROVIDER_ICHNAEA_API_KEY")
	if instanceURL == "" {
		instanceURL = "https://location.services.mozilla.com/v1/geosubmit"
	}
	logger.Debug("harvester reporter configured", "instance_url", instanceURL)
	return reporter.NewHTTPReporter(instanceURL, apiKey)
}

func restoreLastFix(eng *engine.Engine, path string, logger *logx.Logger) {
	store, err := lastfix.Open(path)
	if err != nil {
		logger.Warn("last-fix store open failed", "error", err.Error())
		return
	}
	defer store.Close()

	u, ok, err := store.Load(context.Background())
	if err != nil {
		logger.Warn("last-fix load failed", "error", err.Error())
		return
	}
	if ok {
		eng.SeedLastKnownLocation(u)
		logger.Info("restored last-known fix from disk", "timestamp_ns", u.Timestamp)
	}
}

func persistLastFix(path string, u units.Update[units.Position], logger *logx.Logger) {
	store, err := lastfix.Open(path)
	if err != nil {
		logger.Debug("last-fix store open failed", "error", err.Error())
		return
	}
	defer store.Close()
	if err := store.Save(context.Background(), u); err != nil {
		logger.Debug("last-fix save failed", "error", err.Error())
	}
}

var demoStartNs = time.Now().UnixNano()

// mustDemoPosition builds one entry of the dummy provider's scripted fixture
// route, each entry one second past the previous so the script carries
// strictly increasing timestamps.
func mustDemoPosition(lat, lon, accuracyM float64) units.Update[units.Position] {
	acc := units.Length(accuracyM)
	pos, err := units.NewPosition(units.Angle(lat), units.Angle(lon), nil, units.Accuracy{Horizontal: &acc})
	if err != nil {
		panic(err)
	}
	demoStartNs += int64(time.Second)
	return units.Update[units.Position]{Value: pos, Timestamp: demoStartNs}
}
