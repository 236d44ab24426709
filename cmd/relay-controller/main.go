// Relay Controller
// Main entry point for the relay controller service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/agsys/relay-controller/internal/api"
	"github.com/agsys/relay-controller/internal/document"
	"github.com/agsys/relay-controller/internal/engine"
	"github.com/agsys/relay-controller/internal/events"
	"github.com/agsys/relay-controller/internal/logging"
	"github.com/agsys/relay-controller/internal/metrics"
	"github.com/agsys/relay-controller/internal/netboot"
	"github.com/agsys/relay-controller/internal/schedule"
	"github.com/agsys/relay-controller/internal/storage"
)

var version = "0.1.0"

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "relay-controller",
		Short: "Relay Controller",
		Long:  "Embedded relay controller. Switches relays over HTTP and from weekly schedules.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the controller service",
		RunE:  runController,
	}

	checkCmd = &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration file",
		RunE:  checkConfig,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Relay Controller v%s\n", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/relayctl/controller.yaml", "Configuration file path")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func checkConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RELAY\tDRIVER\tNUMBER\tLED\tACTIVE LOW")
	fmt.Fprintln(w, "-----\t------\t------\t---\t----------")
	for _, rc := range cfg.Relays {
		driver := rc.Driver
		if driver == "" {
			driver = "memory"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%v\n", rc.ID, driver, rc.Number, rc.LED, rc.ActiveLow)
	}
	w.Flush()

	fmt.Printf("\nSchedules: %s (tick %s, UTC%+d min)\n", cfg.Schedule.Path, cfg.engineConfig().TickInterval, cfg.Schedule.UTCOffsetMinutes)
	fmt.Printf("HTTP: %s\n", cfg.HTTP.Listen)
	iface := cfg.Network.Interface
	if iface == "" {
		iface = "any interface"
	}
	fmt.Printf("Network: %s on %s\n", cfg.Network.Driver, iface)
	fmt.Println("Configuration OK")
	return nil
}

func runController(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCloser, err := logging.Setup(cfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	fs := afero.NewOsFs()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Relays
	relays, err := buildRelays(fs, cfg.Relays)
	if err != nil {
		return err
	}
	defer relays.Close()

	// Schedule store
	store := schedule.NewStore(document.NewFile(fs, cfg.Schedule.Path), relays)
	if err := store.Load(); err != nil {
		log.WithError(err).Warn("Starting with an empty schedule set")
	}

	m := metrics.New()
	store.OnPersistError(m.PersistError)
	m.SetStates(relays.Snapshot())

	// Event fan-out
	bus := events.NewBus(0)
	relays.SetObserver(bus)
	store.SetObserver(bus)
	bus.AddSink("metrics", m)

	hub := events.NewHub(events.DefaultHubConfig())
	defer hub.Close()
	bus.AddSink("websocket", hub)

	var history api.HistoryReader
	if cfg.History.Path != "" {
		db, err := storage.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer db.Close()
		history = db

		retention := time.Duration(cfg.History.RetentionDays) * 24 * time.Hour
		recorder := events.NewRecorder(db, retention)
		recorder.Start(ctx)
		defer recorder.Stop()
		bus.AddSink("history", recorder)
	}

	if cfg.MQTT.Broker != "" {
		mqttCfg := cfg.mqttConfig()
		client, err := events.DialMQTT(mqttCfg)
		if err != nil {
			log.WithError(err).Warn("MQTT disabled")
		} else {
			publisher := events.NewPublisher(client, mqttCfg)
			defer publisher.Close()
			if err := publisher.PublishStates(relays.Snapshot()); err != nil {
				log.WithError(err).Warn("Failed to publish initial relay states")
			}
			bus.AddSink("mqtt", publisher)
		}
	}

	bus.Start(ctx)
	defer bus.Stop()

	// Network
	clock := engine.NewSystemClock(cfg.utcOffset())
	creds := netboot.NewCredentialStore(
		document.NewFile(fs, cfg.Network.CredentialsPath),
		netboot.Credentials{SSID: cfg.Network.SSID, Password: cfg.Network.Password},
	)
	var ts netboot.TimeSource
	if cfg.ntpEnabled() {
		ts = &netboot.SNTP{Server: cfg.NTP.Server}
	}
	var adv netboot.Advertiser
	if cfg.MDNS.Enabled {
		adv = &netboot.Zeroconf{}
	}
	supervisor := netboot.NewSupervisor(cfg.bootConfig(), creds, cfg.network(), ts, clock, adv)
	boot, err := supervisor.Boot(ctx)
	if err != nil {
		return fmt.Errorf("failed to bring up network: %w", err)
	}
	defer supervisor.Shutdown()

	// Schedule engine
	eng := engine.New(cfg.engineConfig(), relays, store, clock)
	eng.SetRecorder(m)

	log.WithFields(log.Fields{
		"device":  cfg.Device.Name,
		"mode":    boot.Mode,
		"address": boot.Address,
		"synced":  boot.Synced,
		"rules":   store.Len(),
	}).Info("Starting Relay Controller")

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	// HTTP control surface
	server := api.NewServer(relays, store, api.Options{
		Version:     version,
		History:     history,
		Credentials: creds,
		Metrics:     m.Handler(),
		Stream:      hub,
	})
	handler := server.Handler(nil)
	if cfg.HTTP.AccessLog {
		w := log.StandardLogger().Writer()
		defer w.Close()
		handler = server.Handler(w)
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("listen", cfg.HTTP.Listen).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		log.Infof("Received signal %v, shutting down...", sig)
	case err := <-serverErr:
		runErr = fmt.Errorf("http server failed: %w", err)
		log.WithError(err).Error("HTTP server failed, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server did not drain")
	}

	// The engine finishes its in-flight tick before returning
	if err := eng.Stop(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Shutdown complete")
	return runErr
}
