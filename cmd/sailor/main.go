package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/cuemby/captain/pkg/api"
	"github.com/cuemby/captain/pkg/log"
	"github.com/cuemby/captain/pkg/sailor"
	"github.com/pbnjay/memory"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "sailor",
	Short:   "Sailor executes chores dispatched by a Captain",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("sailor version %s (%s)\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit JSON logs instead of console output")
	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sailor agent: register, heartbeat, and accept chores",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("config", "/etc/sailor/config.yaml", "path to the sailor's local YAML config file")
}

func runServe(cmd *cobra.Command, args []string) error {
	if _, err := maxprocs.Set(maxprocs.Logger(maxprocsLogf)); err != nil {
		log.WithComponent("sailor").Warn().Err(err).Msg("failed to set GOMAXPROCS from cgroup quota")
	}

	configPath, _ := cmd.Flags().GetString("config")
	cfg, cpus, gpus, err := sailor.LoadConfigFile(configPath)
	if err != nil {
		return err
	}
	if cpus <= 0 {
		cpus = runtime.NumCPU()
	}

	agent, err := sailor.NewAgent(cfg)
	if err != nil {
		return fmt.Errorf("sailor: init: %w", err)
	}

	ram := int64(memory.TotalMemory())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registerCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = agent.Register(registerCtx, cfg.IP, cfg.Name, cfg.Port, cpus, gpus, ram)
	cancel()
	if err != nil {
		return fmt.Errorf("sailor: register with captain: %w", err)
	}
	log.WithSailor(cfg.Name).Info().Int("cpus", cpus).Int64("ram", ram).Msg("registered with captain")

	agent.Start()
	defer agent.Stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: api.NewSailorRouter(agent),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithSailor(cfg.Name).Info().Int("port", cfg.Port).Msg("sailor listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("sailor: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.WithSailor(cfg.Name).Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func maxprocsLogf(format string, args ...interface{}) {
	log.WithComponent("sailor").Debug().Msg(fmt.Sprintf(format, args...))
}
