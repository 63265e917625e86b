// BLE Bridge - Bluetooth Low Energy to MQTT gateway
//
// The bridge connects to bonded BLE peripherals, relays their attribute
// notifications to MQTT as retained state and turns MQTT control messages
// into attribute writes. A small local HTTP API exposes status, bonds and
// the event log.
//
// Run with -simulate to replace the HCI adapter with in-process peers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-blebridge/internal/api"
	"github.com/nerrad567/gray-logic-blebridge/internal/audit"
	"github.com/nerrad567/gray-logic-blebridge/internal/bonds"
	"github.com/nerrad567/gray-logic-blebridge/internal/bridges/ble"
	"github.com/nerrad567/gray-logic-blebridge/internal/bridges/ble/goble"
	"github.com/nerrad567/gray-logic-blebridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-blebridge/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-blebridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-blebridge/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-blebridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-blebridge/internal/peersim"
	"github.com/nerrad567/gray-logic-blebridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// Simulated peers started by -simulate.
var (
	simCO2Address          = ble.MustParseAddress("C0:2C:02:00:00:01")
	simDehumidifierAddress = ble.MustParseAddress("DE:40:1D:00:00:02")
)

// simReadingInterval is how often the simulated CO2 sensor takes a reading.
const simReadingInterval = 5 * time.Second

// options are the command-line flags.
type options struct {
	configPath string
	simulate   bool
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("blebridge", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "path to the YAML configuration file (default $BLEBRIDGE_CONFIG or "+defaultConfigPath+")")
	fs.BoolVar(&opts.simulate, "simulate", false, "use simulated peers instead of the HCI adapter")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.configPath == "" {
		opts.configPath = getConfigPath()
	}
	return opts, nil
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context, opts options) error {
	log := logging.Default()
	log.Info("starting BLE bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", db.Path())

	bondSource, err := bonds.New(cfg.Bluetooth.Bonds, db.DB, fmt.Sprintf("hci%d", cfg.Bluetooth.Adapter))
	if err != nil {
		return fmt.Errorf("opening bond source: %w", err)
	}
	log.Info("bond source ready", "source", cfg.Bluetooth.Bonds.Source)

	central, closeCentral, err := startCentral(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCentral()

	attributes := ble.NewAttributeStore(db.DB)
	attributes.SetLogger(log.Component("attributes"))
	if startErr := attributes.Start(); startErr != nil {
		return fmt.Errorf("starting attribute store: %w", startErr)
	}
	defer attributes.Stop()

	// Optional sinks stay nil interfaces when disabled.
	var telemetry ble.TelemetryWriter
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	var (
		events     ble.EventSink
		eventStore audit.Repository
	)
	if cfg.Bridge.RecordEvents {
		repo := audit.NewSQLiteRepository(db.DB)
		recorder := audit.NewRecorder(audit.RecorderOptions{
			Repository: repo,
			Retention:  cfg.Bridge.EventRetention,
			Logger:     log.Component("audit"),
		})
		recorder.Start()
		defer recorder.Stop()
		events, eventStore = recorder, repo
	}

	var (
		hub  *api.Hub
		live ble.EventSink
	)
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log.Component("websocket"))
		live = hub
	}

	publisher := &sessionPublisher{}
	bridge, err := ble.NewBridge(ble.BridgeOptions{
		ID:             cfg.Bridge.ID,
		Version:        version,
		Topics:         ble.Topics{Prefix: cfg.Bridge.TopicPrefix},
		MaxConnections: cfg.Bluetooth.MaxConnections,
		DialTimeout:    cfg.Bluetooth.DialTimeout,
		RescanDelay:    cfg.Bluetooth.RescanDelay,
		HealthInterval: cfg.Bridge.HealthInterval,
		Central:        central,
		Bonds:          bondSource,
		MQTTClient:     publisher,
		Logger:         log.Component("ble"),
		Recorder:       attributes,
		Telemetry:      telemetry,
		Events:         events,
		Live:           live,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	session, err := newSession(cfg, bridge, log)
	if err != nil {
		return err
	}
	publisher.session = session

	sessionCtx, stopSession := context.WithCancel(ctx)
	defer stopSession()
	sessionDone := make(chan error, 1)
	go func() { sessionDone <- session.Run(sessionCtx) }()

	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Logger:     log.Component("api"),
			Bridge:     bridge,
			Bonds:      bondSource,
			Events:     eventStore,
			Attributes: attributes,
			MQTT:       session,
			DB:         db.DB,
			Hub:        hub,
			Version:    version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"control_topic", ble.Topics{Prefix: cfg.Bridge.TopicPrefix}.ControlFilter(),
		"simulate", cfg.Bluetooth.Simulate,
	)

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if runErr := <-sessionDone; runErr != nil {
		log.Error("MQTT session ended with error", "error", runErr)
	}

	log.Info("BLE bridge stopped")
	return nil
}

// loadConfig reads the configuration file. In simulate mode a missing file
// falls back to defaults.
func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		if !opts.simulate || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg = config.Default()
	}
	if opts.simulate {
		cfg.Bluetooth.Simulate = true
	}
	if cfg.Bluetooth.Simulate && cfg.Bluetooth.Bonds.Source == config.BondSourceConfig {
		cfg.Bluetooth.Bonds.Addresses = append(cfg.Bluetooth.Bonds.Addresses,
			simCO2Address.String(), simDehumidifierAddress.String())
	}
	return cfg, nil
}

// getConfigPath returns the configuration file path.
// Uses BLEBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BLEBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startCentral opens the HCI adapter, or builds a simulated radio holding
// a CO2 sensor and a dehumidifier.
func startCentral(ctx context.Context, cfg *config.Config, log *logging.Logger) (ble.Central, func(), error) {
	if cfg.Bluetooth.Simulate {
		radio := peersim.NewCentral(0)
		co2 := peersim.NewCO2Sensor(simCO2Address)
		radio.Add(co2.Peripheral)
		radio.Add(peersim.NewDehumidifier(simDehumidifierAddress).Peripheral)

		simCtx, cancel := context.WithCancel(ctx)
		go co2.Run(simCtx, simReadingInterval)

		log.Info("simulated peers in range",
			"co2", simCO2Address.String(),
			"dehumidifier", simDehumidifierAddress.String(),
		)
		return radio, cancel, nil
	}

	central, err := goble.NewCentral(goble.Options{
		AdapterID:    cfg.Bluetooth.Adapter,
		ScanInterval: cfg.Bluetooth.ScanInterval,
		ScanWindow:   cfg.Bluetooth.ScanWindow,
		DialTimeout:  cfg.Bluetooth.DialTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening bluetooth adapter: %w", err)
	}
	log.Info("bluetooth adapter open", "adapter", fmt.Sprintf("hci%d", cfg.Bluetooth.Adapter))
	return central, func() {
		if closeErr := central.Close(); closeErr != nil {
			log.Error("error closing bluetooth adapter", "error", closeErr)
		}
	}, nil
}

// newSession builds the MQTT session with the bridge's control handler,
// on-connect status publish and offline last will.
func newSession(cfg *config.Config, bridge *ble.Bridge, log *logging.Logger) (*mqtt.Session, error) {
	willTopic, willPayload, err := bridge.HealthLWT()
	if err != nil {
		return nil, fmt.Errorf("building last will: %w", err)
	}

	session, err := mqtt.NewSession(mqtt.SessionOptions{
		Config:        cfg.MQTT,
		ControlFilter: ble.Topics{Prefix: cfg.Bridge.TopicPrefix}.ControlFilter(),
		OnControl:     bridge.Control,
		OnConnected:   bridge.PublishStatuses,
		Will: &mqtt.Will{
			Topic:    willTopic,
			Payload:  willPayload,
			QoS:      1,
			Retained: true,
		},
		Logger: log.Component("mqtt"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating MQTT session: %w", err)
	}
	session.OnStateChange(func(state mqtt.State) {
		log.Debug("MQTT state changed", "state", state.String())
	})
	return session, nil
}

// sessionPublisher adapts the MQTT session to the bridge's publisher
// interface. The bridge is built before the session because the session's
// last will comes from the bridge.
type sessionPublisher struct {
	session *mqtt.Session
}

func (p *sessionPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if p.session == nil {
		return mqtt.ErrNotConnected
	}
	return p.session.Publish(topic, payload, qos, retained)
}

func (p *sessionPublisher) IsConnected() bool {
	return p.session != nil && p.session.IsConnected()
}
