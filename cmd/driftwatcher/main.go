package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ganeshkumarm1/DriftWatcher/internal/activity"
	"github.com/ganeshkumarm1/DriftWatcher/internal/agent"
	"github.com/ganeshkumarm1/DriftWatcher/internal/config"
	"github.com/ganeshkumarm1/DriftWatcher/internal/eventlog"
	"github.com/ganeshkumarm1/DriftWatcher/internal/notify"
	"github.com/ganeshkumarm1/DriftWatcher/internal/oracle"
	"github.com/ganeshkumarm1/DriftWatcher/internal/server"
	"github.com/ganeshkumarm1/DriftWatcher/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "driftwatcher",
	Short: "Watches browser activity and nudges you back when you drift from your goal",
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Start the full watcher (ingestion server + watch loop)",
	RunE:  runWatch,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingestion server only (no drift assessment)",
	RunE:  runServe,
}

var goalCmd = &cobra.Command{
	Use:   "goal",
	Short: "Show or change the session goal",
	RunE:  runGoal,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show driftwatcher status",
	RunE:  runStatus,
}

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Exercise the configured notification channels",
	RunE:  runNotify,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directory",
	RunE:  runOnboard,
}

var (
	goalFlag    string
	setGoalFlag string
	testFlag    bool
)

func init() {
	watchCmd.Flags().StringVarP(&goalFlag, "goal", "g", "", "Goal for this session")
	goalCmd.Flags().StringVarP(&setGoalFlag, "set", "s", "", "New goal (archives the current session)")
	notifyCmd.Flags().BoolVar(&testFlag, "test", false, "Send a test notification")
	rootCmd.AddCommand(watchCmd, serveCmd, goalCmd, statusCmd, notifyCmd, onboardCmd)
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// dataPaths centralizes the flat-file layout under the data directory.
type dataPaths struct {
	events  string
	cache   string
	state   string
	history string
}

func defaultPaths() dataPaths {
	dir := config.DataDir()
	return dataPaths{
		events:  filepath.Join(dir, "events.log"),
		cache:   filepath.Join(dir, "classification_cache.json"),
		state:   filepath.Join(dir, "session_state.json"),
		history: filepath.Join(dir, "session_history.jsonl"),
	}
}

func buildDeliverers(cfg *config.Config) ([]notify.Deliverer, error) {
	var deliverers []notify.Deliverer
	if cfg.Notify.Desktop.Enabled {
		deliverers = append(deliverers, notify.NewDesktopDeliverer())
	}
	if cfg.Notify.Telegram.Enabled {
		tg, err := notify.NewTelegramDeliverer(cfg.Notify.Telegram)
		if err != nil {
			return nil, fmt.Errorf("telegram deliverer: %w", err)
		}
		deliverers = append(deliverers, tg)
	}
	return deliverers, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client, err := oracle.NewClient(cfg.Oracle)
	if err != nil {
		return fmt.Errorf("oracle client: %w. Run 'driftwatcher onboard' or set DRIFTWATCHER_API_KEY", err)
	}

	paths := defaultPaths()
	store := eventlog.NewStore(paths.events)
	cache := activity.LoadCache(paths.cache)
	sessions := session.NewManager(paths.state, paths.history)

	if goalFlag != "" {
		if _, err := sessions.ChangeGoal(goalFlag, func() error {
			if err := store.Clear(); err != nil {
				return err
			}
			return cache.Clear()
		}); err != nil {
			return fmt.Errorf("set goal: %w", err)
		}
	}

	reasoner := oracle.NewReasoner(client)
	aggregator := activity.NewAggregator(reasoner, cache)

	deliverers, err := buildDeliverers(cfg)
	if err != nil {
		return err
	}
	cooldown := time.Duration(cfg.Notify.CooldownSeconds) * time.Second
	notifier := notify.New(cooldown, deliverers...)

	srv := server.New(cfg.Server, store, sessions)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	defer srv.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := agent.New(cfg.Agent, store, aggregator, reasoner, sessions, notifier, srv)
	if err := a.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	paths := defaultPaths()
	store := eventlog.NewStore(paths.events)
	sessions := session.NewManager(paths.state, paths.history)

	srv := server.New(cfg.Server, store, sessions)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	defer srv.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return nil
}

func runGoal(cmd *cobra.Command, args []string) error {
	paths := defaultPaths()
	sessions := session.NewManager(paths.state, paths.history)

	if setGoalFlag == "" {
		st, err := sessions.Load()
		if err != nil {
			return fmt.Errorf("load session state: %w", err)
		}
		fmt.Printf("Goal: %s\n", st.Goal)
		fmt.Printf("State: %s (confidence %.2f)\n", st.FocusState, st.Confidence)
		fmt.Printf("Drifts this session: %d\n", st.DriftCount)
		return nil
	}

	store := eventlog.NewStore(paths.events)
	cache := activity.LoadCache(paths.cache)
	st, err := sessions.ChangeGoal(setGoalFlag, func() error {
		if err := store.Clear(); err != nil {
			return err
		}
		return cache.Clear()
	})
	if err != nil {
		return fmt.Errorf("set goal: %w", err)
	}
	fmt.Printf("Goal set: %s\n", st.Goal)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Data: %s\n", config.DataDir())
	fmt.Printf("Model: %s\n", cfg.Oracle.Model)
	fmt.Printf("Window: %ds\n", cfg.Agent.WindowSeconds)
	fmt.Printf("Drift threshold: %.2f\n", cfg.Agent.DriftThreshold)
	if key := cfg.Oracle.APIKey; len(key) > 8 {
		fmt.Printf("API Key: %s...%s\n", key[:4], key[len(key)-4:])
	} else if key != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Desktop alerts: enabled=%v\n", cfg.Notify.Desktop.Enabled)
	fmt.Printf("Telegram alerts: enabled=%v\n", cfg.Notify.Telegram.Enabled)

	paths := defaultPaths()
	sessions := session.NewManager(paths.state, paths.history)
	st, err := sessions.Load()
	if err != nil {
		fmt.Printf("Session: error (%v)\n", err)
		return nil
	}
	fmt.Printf("Goal: %s\n", st.Goal)
	fmt.Printf("Focus: %s (confidence %.2f, %d drifts)\n", st.FocusState, st.Confidence, st.DriftCount)
	if st.LastCheckTS > 0 {
		fmt.Printf("Last check: %s\n", time.UnixMilli(st.LastCheckTS).Format(time.RFC3339))
	} else {
		fmt.Println("Last check: never")
	}

	history, err := sessions.History()
	if err == nil && len(history) > 0 {
		fmt.Printf("Archived sessions: %d\n", len(history))
	}
	return nil
}

func runNotify(cmd *cobra.Command, args []string) error {
	if !testFlag {
		return fmt.Errorf("nothing to do (use --test to send a test notification)")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	deliverers, err := buildDeliverers(cfg)
	if err != nil {
		return err
	}
	if len(deliverers) == 0 {
		return fmt.Errorf("no notification channels enabled in %s", config.ConfigPath())
	}

	for _, d := range deliverers {
		if err := d.Deliver("Test notification from driftwatcher"); err != nil {
			fmt.Printf("%s: failed (%v)\n", d.Name(), err)
		} else {
			fmt.Printf("%s: delivered\n", d.Name())
		}
	}
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.MkdirAll(config.DataDir(), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key\n", cfgPath)
	fmt.Println("  2. Or set DRIFTWATCHER_API_KEY / ANTHROPIC_API_KEY")
	fmt.Println("  3. Run 'driftwatcher watch --goal \"...\"' to start a session")

	return nil
}
