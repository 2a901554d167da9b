// RAKO Bridge - Home Assistant MQTT bridge for RAKO lighting hubs
//
// This is the main entry point. The bridge keeps a session to the hub's JSON
// interface on TCP 9762 and maps rooms, channels and scenes onto Home
// Assistant MQTT lights:
//   - Discovery configs and retained state for every enabled channel
//   - One switchable light per room scene
//   - Level and scene commands from the bus forwarded to the hub
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/rako-bridge/migrations"

	"github.com/nerrad567/rako-bridge/internal/api"
	"github.com/nerrad567/rako-bridge/internal/audit"
	"github.com/nerrad567/rako-bridge/internal/bridges/rako"
	"github.com/nerrad567/rako-bridge/internal/infrastructure/config"
	"github.com/nerrad567/rako-bridge/internal/infrastructure/database"
	"github.com/nerrad567/rako-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/rako-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/rako-bridge/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCommand builds the rakobridge command.
func newRootCommand() *cobra.Command {
	opts := NewOptions()
	cmd := &cobra.Command{
		Use:   "rakobridge",
		Short: "Bridge a RAKO lighting hub to Home Assistant over MQTT",
		Long: "rakobridge connects to a RAKO hub, publishes its rooms, channels and scenes " +
			"as Home Assistant MQTT lights and forwards light commands back to the hub.",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().AddFlagSet(opts.Flags())
	return cmd
}

// loadConfig reads the config file (if any), applies flags and validates.
func loadConfig(opts *Options) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := opts.Apply(cfg); err != nil {
		return nil, fmt.Errorf("applying flags: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// logStartup logs the build. The logger already carries the version.
func logStartup(log *logging.Logger) {
	log.Info("starting RAKO bridge",
		"commit", commit,
		"build_date", date,
	)
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - opts: Parsed command line options
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts *Options) error { //nolint:gocognit,gocyclo // linear startup sequence
	// Use default logging settings until config is loaded
	log := logging.New(config.Default().Logging, version)
	logStartup(log)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", opts.ConfigPath,
		"hub", cfg.HubAddress(),
		"level", cfg.Logging.Level,
	)

	// Connect to MQTT broker. The bridge is useless without it.
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Command journal (optional)
	var (
		db          *database.DB
		journalRepo audit.Repository
		journal     rako.CommandJournal
	)
	if cfg.Database.Enabled {
		db, err = database.Open(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		repo := audit.NewSQLiteRepository(db.DB)
		journalRepo = repo
		journal = journalAdapter{repo: repo}
		log.Info("command journal ready", "path", cfg.Database.Path)
	} else {
		log.Info("command journal disabled")
	}

	var sinks []rako.EventSink

	// Telemetry (optional)
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	if err = ignoreDisabled(err, influxdb.ErrDisabled); err != nil {
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		sinks = append(sinks, telemetrySink{w: influxClient})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// The event stream must exist before the bridge so it can receive events.
	var events *api.EventStream
	if cfg.API.Enabled {
		events = api.NewEventStream(cfg.WebSocket, log.Component("websocket"))
		sinks = append(sinks, events)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	bridge, err := rako.NewBridge(rako.BridgeOptions{
		Config:     rako.ConfigFrom(cfg),
		MQTTClient: mqttClient,
		Version:    version,
		Logger:     log.Component("rako"),
		Metrics:    rako.NewMetrics(registry),
		Journal:    journal,
		Events:     newEventSink(sinks...),
	})
	if err != nil {
		return fmt.Errorf("creating RAKO bridge: %w", err)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := bridge.Start(gctx); err != nil {
		return fmt.Errorf("starting RAKO bridge: %w", err)
	}
	defer func() {
		log.Info("stopping RAKO bridge")
		bridge.Stop()
	}()

	if cfg.API.Enabled {
		srv, srvErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log.Component("api"),
			Bridge:   bridge,
			MQTT:     mqttClient,
			Journal:  journalRepo,
			Gatherer: registry,
			Events:   events,
			Version:  version,
		})
		if srvErr != nil {
			return fmt.Errorf("creating API server: %w", srvErr)
		}
		if startErr := srv.Start(gctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		g.Go(srv.Wait)
		g.Go(func() error {
			<-gctx.Done()
			return srv.Close()
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	// Deferred calls run in reverse order: bridge, InfluxDB, database, MQTT.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// healthCheck verifies the infrastructure connections before the bridge
// starts.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Journal database (nil if disabled)
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client (nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// The hub link is not checked here: the bridge keeps retrying it.
	return nil
}
