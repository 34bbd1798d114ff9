package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/captain/pkg/api"
	"github.com/cuemby/captain/pkg/captain"
	"github.com/cuemby/captain/pkg/log"
	"github.com/cuemby/captain/pkg/metrics"
	"github.com/cuemby/captain/pkg/reconciler"
	"github.com/cuemby/captain/pkg/scheduler"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
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
	Use:     "captain",
	Short:   "Captain schedules chores onto a crew of sailors",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("captain version %s (%s)\n", Version, Commit))
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
	Short: "Run the Captain HTTP server and background loops",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("data-dir", "/var/lib/captain", "directory for crew.json, chores.json, users.json")
	serveCmd.Flags().Int("port", 8000, "HTTP listen port")
	serveCmd.Flags().String("login-password", "", "shared password accepted by POST /login (static authenticator)")
	serveCmd.Flags().StringToString("login-users", nil, "username=uid pairs accepted by the static authenticator")
}

func runServe(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()
	if _, err := maxprocs.Set(maxprocs.Logger(maxprocsLogf)); err != nil {
		log.WithComponent("captain").Warn().Err(err).Msg("failed to set GOMAXPROCS from cgroup quota")
	}

	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.BindPFlag("data-dir", cmd.Flags().Lookup("data-dir"))
	v.BindPFlag("port", cmd.Flags().Lookup("port"))
	v.BindPFlag("login-password", cmd.Flags().Lookup("login-password"))

	cfg := captain.DefaultConfig(v.GetString("data-dir"))
	cfg.CleanupTTL = envDuration("CAPTAIN_CLEANUP_TTL", cfg.CleanupTTL)
	cfg.CancelRequestedTTL = envDuration("CAPTAIN_CANCEL_REQUESTED_TTL", cfg.CancelRequestedTTL)
	cfg.TokenTTL = envDuration("CAPTAIN_TOKEN_TTL", cfg.TokenTTL)
	cfg.AliveThreshold = envDuration("ALIVE_THRESHOLD", cfg.AliveThreshold)
	cfg.FlagFile = os.Getenv("CAPTAIN_FLAG_FILE")

	loginUsers, _ := cmd.Flags().GetStringToString("login-users")
	users := make(map[string]int, len(loginUsers))
	for name, uidStr := range loginUsers {
		uid, err := strconv.Atoi(uidStr)
		if err != nil {
			return fmt.Errorf("captain: bad --login-users entry %q: %w", name, err)
		}
		users[name] = uid
	}
	auth := &captain.StaticAuthenticator{Password: v.GetString("login-password"), Users: users}

	cap, err := captain.New(cfg, auth, captain.NewHTTPSailorClient(cfg.DispatchTimeout))
	if err != nil {
		return fmt.Errorf("captain: init: %w", err)
	}

	sched := scheduler.NewScheduler(cap)
	sched.Start()
	defer sched.Stop()

	recon := reconciler.NewReconciler(cap, sched)
	recon.Start()
	defer recon.Stop()

	collector := metrics.NewCollector(cap)
	collector.Start()
	defer collector.Stop()

	port := v.GetInt("port")
	if err := cap.WriteFlagFile(port); err != nil {
		return fmt.Errorf("captain: write flag file: %w", err)
	}
	defer cap.RemoveFlagFile()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: api.NewCaptainRouter(cap, sched),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithComponent("captain").Info().Int("port", port).Msg("captain listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("captain: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.WithComponent("captain").Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func maxprocsLogf(format string, args ...interface{}) {
	log.WithComponent("captain").Debug().Msg(fmt.Sprintf(format, args...))
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	secs, err := strconv.Atoi(raw)
	if err != nil {
		log.WithComponent("captain").Warn().Str("var", name).Str("value", raw).Msg("ignoring malformed duration env var")
		return fallback
	}
	return time.Duration(secs) * time.Second
}
