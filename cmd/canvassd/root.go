package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "canvassd",
	Short: "Property canvassing orchestration daemon",
	Long: `canvassd drives property search executions end to end: extraction,
human approval, location analysis, outbound engagement calls with
persistent retries, and report delivery. State lives in a pluggable
store so the daemon can be restarted at any point without losing work.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default ./canvassd.yaml)")
	rootCmd.PersistentFlags().String("store", "memory", "store backend: memory, postgres, or redis")
	rootCmd.PersistentFlags().String("postgres-dsn", "", "postgres connection string")
	rootCmd.PersistentFlags().String("redis-addr", "", "redis address (host:port)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("store.backend", rootCmd.PersistentFlags().Lookup("store"))
	_ = viper.BindPFlag("store.postgres_dsn", rootCmd.PersistentFlags().Lookup("postgres-dsn"))
	_ = viper.BindPFlag("store.redis_addr", rootCmd.PersistentFlags().Lookup("redis-addr"))
}

func initConfig() {
	setDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("canvassd")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/canvassd")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CANVASS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Config file is optional; env and flags cover everything.
	_ = viper.ReadInConfig()
}

func setDefaults() {
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.shutdown_timeout", "30s")
	viper.SetDefault("dial.concurrency", 4)
	viper.SetDefault("dial.poll_interval", "5s")
	viper.SetDefault("dial.max_attempts", 3)
	viper.SetDefault("dial.retry_floor", "2h")
	viper.SetDefault("dial.retry_ceiling", "24h")
	viper.SetDefault("dial.lease_ttl", "10m")
	viper.SetDefault("dial.timeout", "5m")
	viper.SetDefault("dial.rate", 0.0)
	viper.SetDefault("dial.burst", 0)
	viper.SetDefault("dial.max_concurrent", 0)
	viper.SetDefault("sweep.schedule", "@every 1m")
	viper.SetDefault("sweep.stale_threshold", "15m")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log.level"))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if viper.GetString("log.format") == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
