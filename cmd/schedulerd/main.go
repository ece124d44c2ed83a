// Command schedulerd wires the scheduling core's packages together for
// local smoke-testing: a storage-backed scheduler, preempter, cron
// manager, and update manager driven by a synthetic in-memory offer
// generator and a logging Driver, instead of a real cluster manager.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/aurora-core/pkg/attributes"
	"github.com/cuemby/aurora-core/pkg/log"
	"github.com/cuemby/aurora-core/pkg/metrics"
	"github.com/cuemby/aurora-core/pkg/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

// attributeSyncInterval is how often the dev harness copies the static
// loader's host attributes into storage.
const attributeSyncInterval = 30 * time.Second

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "schedulerd",
	Short:   "Cluster workload scheduler core",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("schedulerd %s (%s)\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to scheduler config YAML")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(submitCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

// loggingDriver implements ports.Driver by logging every call; it stands
// in for the real cluster-manager collaborator, which is out of scope for
// this module (spec.md §1).
type loggingDriver struct{}

func (loggingDriver) LaunchTask(ctx context.Context, offerID string, t *types.ScheduledTask) error {
	log.WithTaskID(t.ID()).Info().Str("offer_id", offerID).Str("host", t.AssignedTask.SlaveHost).
		Msg("driver: launch task")
	return nil
}

func (loggingDriver) KillTask(ctx context.Context, taskID string) error {
	log.WithTaskID(taskID).Info().Msg("driver: kill task")
	return nil
}

func (loggingDriver) CancelOffer(ctx context.Context, offerID string) error {
	log.WithOffer(offerID).Info().Msg("driver: cancel offer")
	return nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler core with a synthetic offer generator",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		offerHost, _ := cmd.Flags().GetString("offer-host")
		offerCPU, _ := cmd.Flags().GetFloat64("offer-cpu")
		offerRAM, _ := cmd.Flags().GetInt64("offer-ram-mb")

		c, err := newComponents(configPath)
		if err != nil {
			return fmt.Errorf("failed to initialize: %w", err)
		}

		loader := attributes.NewStaticLoader()
		loader.Set(offerHost, types.HostAttributes{Host: offerHost})
		syncer := attributes.NewSyncer(c.store, loader, func() []string { return []string{offerHost} }, attributeSyncInterval)

		metrics.SetVersion(Version)
		metrics.RegisterComponent("storage", true, "")

		c.machine.Start()
		c.scheduler.Start()
		metrics.RegisterComponent("scheduler", true, "")
		c.preempter.Start()
		c.cronMgr.LoadAll()
		metrics.RegisterComponent("cron", true, "")
		syncer.Start()

		offerTicker := newOfferTicker(c.scheduler, offerHost, offerCPU, offerRAM)
		offerTicker.start()

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithComponent("schedulerd").Error().Err(err).Msg("metrics server error")
			}
		}()
		log.WithComponent("schedulerd").Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		metrics.UpdateComponent("scheduler", false, "shutting down")
		metrics.UpdateComponent("cron", false, "shutting down")
		offerTicker.stop()
		syncer.Stop()
		c.preempter.Stop()
		c.scheduler.Stop()
		c.cronMgr.Stop()
		c.machine.Stop()
		_ = srv.Shutdown(context.Background())
		return nil
	},
}

func init() {
	runCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Prometheus metrics listen address")
	runCmd.Flags().String("offer-host", "dev-host-1", "Synthetic host name to generate offers for")
	runCmd.Flags().Float64("offer-cpu", 4.0, "CPU cores per synthetic offer")
	runCmd.Flags().Int64("offer-ram-mb", 8192, "RAM MB per synthetic offer")
}
