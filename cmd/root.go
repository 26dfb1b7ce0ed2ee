package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"connswarm/internal/banner"
	"connswarm/internal/cli"
	"connswarm/internal/dummy"
	"connswarm/internal/swarm"
	"connswarm/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
)

var (
	cfgFile string

	// CLI Flags
	url           string
	connections   int
	rate          int
	hold          int
	probeInterval int
	probeSample   int
	maxRetries    int
	retryDelayMs  int
	retryCapMs    int
	headers       []string
	outPrefix     string
	saveHistory   bool
	useTUI        bool
	logLevel      string
)

var rootCmd = &cobra.Command{
	Use:   "connswarm",
	Short: "ConnSwarm - WebSocket Connection Stress Tester",
	Long: `
ConnSwarm drives swarms of WebSocket connections against a real-time
messaging server to find its maximum sustainable concurrency, success
rate and connection stability.

Connections ramp up in rate-limited chunks, failed attempts retry with
exponential backoff, and every spontaneous disconnection is classified
and counted.`,
	Run: func(cmd *cobra.Command, args []string) {
		if url == "" {
			fmt.Println(banner.GetString())
			cmd.Usage()
			return
		}

		cfg := buildConfig()
		if useTUI {
			runTUI(cfg)
			return
		}
		runHeadless(cfg)
	},
}

func Execute() {
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		cmd.Usage()
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(dummyCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.connswarm.yaml)")

	rootCmd.Flags().StringVarP(&url, "url", "u", "", "Target WebSocket URL (e.g. ws://localhost:8080/ws)")
	rootCmd.Flags().IntVarP(&connections, "connections", "c", 100, "Target connection count")
	rootCmd.Flags().IntVarP(&rate, "rate", "r", 50, "Connections per chunk (ramp rate)")
	rootCmd.Flags().IntVarP(&hold, "hold", "d", 30, "Hold duration in seconds after ramp-up")
	rootCmd.Flags().IntVar(&probeInterval, "probe-interval", 0, "Liveness probe interval in seconds (0 disables)")
	rootCmd.Flags().IntVar(&probeSample, "probe-sample", 5, "Connections probed per tick")
	rootCmd.Flags().IntVar(&maxRetries, "max-retries", 3, "Retries per connection beyond the first attempt")
	rootCmd.Flags().IntVar(&retryDelayMs, "retry-delay", 1000, "Base retry delay in milliseconds")
	rootCmd.Flags().IntVar(&retryCapMs, "retry-cap", 30000, "Retry delay ceiling in milliseconds (0 = uncapped)")
	rootCmd.Flags().StringSliceVarP(&headers, "header", "H", []string{}, "Auth header (e.g. \"Authorization: Bearer x\")")
	rootCmd.Flags().StringVarP(&outPrefix, "out", "o", "", "Output filename prefix for auto-reporting")
	rootCmd.Flags().BoolVar(&saveHistory, "save", false, "Record the run in ~/.connswarm/history.json")
	rootCmd.Flags().BoolVar(&useTUI, "tui", false, "Show the live dashboard instead of plain output")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".connswarm")
		}
	}
	viper.AutomaticEnv()
	viper.ReadInConfig()
}

func buildConfig() swarm.Config {
	cfg := swarm.Config{
		ServerURL:         url,
		TargetConnections: connections,
		ConnectionRate:    rate,
		HoldDuration:      time.Duration(hold) * time.Second,
		ProbeInterval:     time.Duration(probeInterval) * time.Second,
		ProbeSampleSize:   probeSample,
		MaxRetries:        maxRetries,
		RetryBaseDelay:    time.Duration(retryDelayMs) * time.Millisecond,
		RetryMaxDelay:     time.Duration(retryCapMs) * time.Millisecond,
		DisconnectStagger: 10 * time.Millisecond,
	}

	cfg.AuthHeaders = make(map[string]string)
	for _, h := range headers {
		parts := strings.SplitN(h, ":", 2)
		if len(parts) == 2 {
			cfg.AuthHeaders[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return cfg
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.WarnLevel
	}

	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.OutputPaths = []string{"stderr"}

	logger, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// --- Runners ---

func runHeadless(cfg swarm.Config) {
	logger := newLogger(logLevel)
	defer logger.Sync()

	cli.Start(cfg, cli.Options{OutPrefix: outPrefix, SaveHistory: saveHistory}, logger)
}

func runTUI(cfg swarm.Config) {
	// Logging would fight the dashboard for the terminal.
	logger := zap.NewNop()

	updates := make(swarm.SnapshotChan, 100)
	orch := swarm.NewOrchestrator(cfg, updates, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch.StartTickLoop(ctx, 200*time.Millisecond)

	done := make(chan []swarm.ConnectionOutcome, 1)
	go func() {
		done <- orch.Run(ctx)
	}()

	m := tui.NewModel(orch, updates, done, cancel)
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running ConnSwarm: %v\n", err)
		os.Exit(1)
	}
}

// --- Dummy Subcommand ---

var dummyCmd = &cobra.Command{
	Use:   "dummy",
	Short: "Run the built-in target server",
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		rejectRate, _ := cmd.Flags().GetFloat64("reject-rate")
		dropRate, _ := cmd.Flags().GetFloat64("drop-rate")
		authToken, _ := cmd.Flags().GetString("auth-token")

		dummy.Start(dummy.ServerConfig{
			Port:       port,
			RejectRate: rejectRate,
			DropRate:   dropRate,
			AuthToken:  authToken,
		})
		select {}
	},
}

func init() {
	dummyCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	dummyCmd.Flags().Float64("reject-rate", 0, "Probability of refusing a handshake")
	dummyCmd.Flags().Float64("drop-rate", 0, "Probability of dropping an established connection")
	dummyCmd.Flags().String("auth-token", "", "Require this Authorization header value")
}
