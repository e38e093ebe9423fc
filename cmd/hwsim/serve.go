package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/hwsim/internal/api"
	"github.com/nerrad567/hwsim/internal/audit"
	"github.com/nerrad567/hwsim/internal/device"
	"github.com/nerrad567/hwsim/internal/discovery"
	"github.com/nerrad567/hwsim/internal/dispatch"
	"github.com/nerrad567/hwsim/internal/hal"
	"github.com/nerrad567/hwsim/internal/infrastructure/config"
	"github.com/nerrad567/hwsim/internal/infrastructure/database"
	"github.com/nerrad567/hwsim/internal/infrastructure/influxdb"
	"github.com/nerrad567/hwsim/internal/infrastructure/logging"
	"github.com/nerrad567/hwsim/internal/infrastructure/mqtt"
	"github.com/nerrad567/hwsim/internal/message"
	"github.com/nerrad567/hwsim/internal/transport"
	"github.com/nerrad567/hwsim/migrations"
)

const startupCheckTimeout = 5 * time.Second

type serveOptions struct {
	configPath string
	port       int

	// ready, if set, is called with the router address once it is bound.
	ready func(addr net.Addr)
}

// runServe is the serve command, separated from cobra for testability.
//
// Parameters:
//   - ctx: Cancelled on SIGINT/SIGTERM
//   - opts: Command-line overrides
//   - out: Receives the device address table
//
// Returns:
//   - error: nil on clean shutdown, or the first startup or transport failure
func runServe(ctx context.Context, opts serveOptions, out io.Writer) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.port != 0 {
		if opts.port < 1 || opts.port > 65535 {
			return fmt.Errorf("--port must be between 1 and 65535, got %d", opts.port)
		}
		cfg.Server.Port = opts.port
	}

	log := logging.New(cfg.Logging, version)
	log.Info("starting hwsim",
		"version", version,
		"commit", commit,
		"build_date", date,
		"identity", cfg.Server.Identity,
	)

	drv, err := hal.Open(cfg.Hardware.Backend)
	if err != nil {
		return fmt.Errorf("opening hardware backend: %w", err)
	}
	defer func() {
		if closeErr := drv.Close(); closeErr != nil {
			log.Error("error closing hardware backend", "error", closeErr)
		}
	}()
	log.Info("hardware backend ready", "backend", cfg.Hardware.Backend)

	registry, err := buildRegistry(cfg, drv, log.Component("device"))
	if err != nil {
		return err
	}
	printAddressTable(out, registry.Devices())

	codec, err := message.ForName(cfg.Server.Codec)
	if err != nil {
		return err
	}
	broadcast, err := broadcastKinds(cfg.Devices.Broadcast)
	if err != nil {
		return err
	}

	dispatchOpts := dispatch.Options{
		Registry:  registry,
		Codec:     codec,
		Broadcast: broadcast,
		Logger:    log.Component("dispatch"),
	}
	checks := make(map[string]api.HealthChecker)

	var auditRepo *audit.SQLiteRepository
	if cfg.Database.Enabled {
		db, openErr := database.Open(ctx, cfg.Database)
		if openErr != nil {
			return fmt.Errorf("opening database: %w", openErr)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		applied, migrateErr := db.Migrate(ctx, migrations.FS)
		if migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database ready", "path", db.Path(), "migrations_applied", applied)

		auditRepo = audit.NewSQLiteRepository(db.DB)
		dispatchOpts.Auditor = auditRepo
		checks["database"] = db
	} else {
		log.Info("audit trail disabled")
	}

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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)

		dispatchOpts.Telemetry = influxClient
		checks["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	disp, err := dispatch.New(dispatchOpts)
	if err != nil {
		return err
	}

	var bridge *transport.MQTTBridge
	if cfg.MQTT.Enabled {
		mqttClient, connErr := mqtt.Connect(ctx, cfg.MQTT)
		if connErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", connErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		log.Info("MQTT connected",
			"broker", net.JoinHostPort(cfg.MQTT.Broker.Host, fmt.Sprint(cfg.MQTT.Broker.Port)),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		bridge = transport.NewMQTTBridge(mqttClient, log.Component("mqtt"))
		checks["mqtt"] = mqttClient
	}

	var srv *api.Server
	if cfg.WebSocket.Enabled {
		srv, err = api.New(api.Deps{
			Config:  cfg.WebSocket,
			Logger:  log.Component("api"),
			Devices: registry,
			Stats:   disp,
			Audit:   auditLister(auditRepo),
			Checks:  checks,
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	router := transport.NewRouter(transport.RouterOptions{
		Address:       cfg.ListenAddress(),
		Identity:      cfg.Server.Identity,
		MaxFrameSize:  cfg.Server.MaxFrameSize,
		SendQueueSize: cfg.Server.SendQueueSize,
		WriteTimeout:  cfg.ReplyWriteTimeout(),
		Logger:        log.Component("router"),
	})
	if err := router.Listen(); err != nil {
		return err
	}

	queue := make(chan transport.Inbound, cfg.Server.QueueSize)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return disp.Run(gctx, queue) })
	g.Go(func() error { return router.Serve(gctx, queue) })
	if bridge != nil {
		g.Go(func() error { return bridge.Serve(gctx, queue) })
	}
	if srv != nil {
		g.Go(func() error { return srv.Serve(gctx, queue) })
	}
	if cfg.Discovery.Enabled {
		adv := discovery.NewAdvertiser(cfg.Discovery, log.Component("discovery"))
		info := discovery.Info{
			Port:     router.Addr().(*net.TCPAddr).Port,
			Identity: cfg.Server.Identity,
			Codec:    codec.Name(),
			Version:  version,
			Devices:  registry.Len(),
		}
		g.Go(func() error { return adv.Serve(gctx, info) })
	}

	log.Info("initialisation complete, serving", "address", router.Addr().String())
	if opts.ready != nil {
		opts.ready(router.Addr())
	}

	err = g.Wait()

	log.Info("shutdown signal received, halting devices")
	registry.HaltAll()
	disp.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("hwsim stopped")
	return nil
}

// loadConfig loads the file chosen by getConfigPath, or built-in defaults.
func loadConfig(flag string) (*config.Config, error) {
	path := getConfigPath(flag)
	cfg, err := config.Load(path)
	if err != nil {
		if path == "" {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}

// buildRegistry creates the devices, assigns their addresses and builds the
// alias index. A pool shorter than the device list is a configuration error.
func buildRegistry(cfg *config.Config, drv hal.Driver, log *logging.Logger) (*device.Registry, error) {
	specs, err := deviceSpecs(cfg.Devices.List)
	if err != nil {
		return nil, err
	}
	devices, err := device.Build(specs, drv, device.Options{
		Timeout: cfg.BlinkTimeout(),
		Rate:    cfg.BlinkRate(),
	})
	if err != nil {
		return nil, fmt.Errorf("building devices: %w", err)
	}

	registry, err := device.NewRegistry(devices, cfg.Devices.AddressPool)
	if err != nil {
		return nil, fmt.Errorf("creating registry: %w", err)
	}
	registry.SetLogger(log)

	if err := registry.AssignAddresses(); err != nil {
		return nil, fmt.Errorf("assigning addresses: %w", err)
	}
	if err := registry.BuildAliasIndex(); err != nil {
		return nil, err
	}
	return registry, nil
}

func deviceSpecs(list []config.DeviceConfig) ([]device.Spec, error) {
	specs := make([]device.Spec, 0, len(list))
	for _, d := range list {
		kind, err := device.ParseKind(d.Kind)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", d.Alias, err)
		}
		specs = append(specs, device.Spec{
			Alias:       d.Alias,
			Kind:        kind,
			Pin:         d.Pin,
			Expander:    d.Expander,
			ExpanderPin: d.ExpanderPin,
			Unit:        d.Unit,
			Voltage:     d.Voltage,
			Bus:         d.Bus,
			Address:     d.Address,
			Outputs:     d.Outputs,
		})
	}
	return specs, nil
}

func broadcastKinds(m map[string]string) (map[string]device.Kind, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[string]device.Kind, len(m))
	for alias, k := range m {
		kind, err := device.ParseKind(k)
		if err != nil {
			return nil, fmt.Errorf("broadcast %s: %w", alias, err)
		}
		out[alias] = kind
	}
	return out, nil
}

// auditLister keeps a nil repository from becoming a non-nil interface.
func auditLister(repo *audit.SQLiteRepository) api.AuditLister {
	if repo == nil {
		return nil
	}
	return repo
}

// printAddressTable writes the alias → address table in declaration order.
func printAddressTable(w io.Writer, devices []device.Device) {
	fmt.Fprintln(w, "Hardware device address tree:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, d := range devices {
		addr := d.Address()
		if addr == "" {
			addr = "-"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", d.Alias(), addr, d.Kind())
	}
	tw.Flush() //nolint:errcheck // best-effort banner
}

// healthCheck verifies every configured backend answers before serving.
//
// Returns:
//   - error: the first failing check, by name order
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
		err := checks[name].HealthCheck(checkCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
