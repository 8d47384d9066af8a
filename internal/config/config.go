// Package config loads the app configuration from file, environment and
// defaults via viper.
package config

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pacelink/pacelink-app/internal/session"
)

// Config is the resolved app configuration.
type Config struct {
	Role        string
	DataDir     string
	DBPath      string
	LogPath     string
	ListenAddr  string
	DialAddr    string
	MetricsAddr string
	Session     session.Params
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pacelink"
	}
	return filepath.Join(home, ".pacelink")
}

// Load reads the configuration. cfgFile overrides the default search path
// (~/.pacelink/config.yaml); a missing config file is not an error.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(defaultDataDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix("PACELINK")
	v.AutomaticEnv()

	dataDir := defaultDataDir()
	v.SetDefault("role", "phone")
	v.SetDefault("data_dir", dataDir)
	v.SetDefault("db_path", filepath.Join(dataDir, "pacelink.db"))
	v.SetDefault("log_path", filepath.Join(dataDir, "logs", "pacelink.log"))
	v.SetDefault("listen_addr", "")
	v.SetDefault("dial_addr", "")
	v.SetDefault("metrics_addr", "")

	defaults := session.DefaultParams()
	v.SetDefault("session.tick_period", defaults.TickPeriod)
	v.SetDefault("session.sync_interval", defaults.SyncInterval)
	v.SetDefault("session.request_timeout", defaults.RequestTimeout)
	v.SetDefault("session.remote_active_window", defaults.RemoteActiveWindow)
	v.SetDefault("session.time.tick_increment", defaults.TimeSync.TickIncrement)
	v.SetDefault("session.time.drift_threshold", defaults.TimeSync.DriftThreshold)
	v.SetDefault("session.time.correction_fraction", defaults.TimeSync.CorrectionFraction)
	v.SetDefault("session.time.large_jump_threshold", defaults.TimeSync.LargeJumpThreshold)
	v.SetDefault("session.time.transition_duration", defaults.TimeSync.TransitionDuration)
	v.SetDefault("session.heartbeat.period", defaults.Heartbeat.Period)
	v.SetDefault("session.heartbeat.timeout", defaults.Heartbeat.Timeout)
	v.SetDefault("session.heartbeat.backoff", defaults.Heartbeat.Backoff)

	// A missing config file on the default search path is fine; an explicit
	// file that cannot be read, or a malformed file, is not.
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, err
		}
	}

	return &Config{
		Role:        v.GetString("role"),
		DataDir:     v.GetString("data_dir"),
		DBPath:      v.GetString("db_path"),
		LogPath:     v.GetString("log_path"),
		ListenAddr:  v.GetString("listen_addr"),
		DialAddr:    v.GetString("dial_addr"),
		MetricsAddr: v.GetString("metrics_addr"),
		Session: session.Params{
			TickPeriod:         v.GetDuration("session.tick_period"),
			SyncInterval:       v.GetDuration("session.sync_interval"),
			RequestTimeout:     v.GetDuration("session.request_timeout"),
			RemoteActiveWindow: v.GetDuration("session.remote_active_window"),
			TimeSync: session.TimeSyncParams{
				TickIncrement:      v.GetFloat64("session.time.tick_increment"),
				DriftThreshold:     v.GetFloat64("session.time.drift_threshold"),
				CorrectionFraction: v.GetFloat64("session.time.correction_fraction"),
				LargeJumpThreshold: v.GetFloat64("session.time.large_jump_threshold"),
				TransitionDuration: v.GetDuration("session.time.transition_duration"),
			},
			Heartbeat: session.HeartbeatParams{
				Period:  v.GetDuration("session.heartbeat.period"),
				Timeout: v.GetDuration("session.heartbeat.timeout"),
				Backoff: v.GetDuration("session.heartbeat.backoff"),
			},
		},
	}, nil
}

// NewLogger builds the rotating app logger. With verbose set, log lines are
// mirrored to stderr.
func (c *Config) NewLogger(verbose bool) *log.Logger {
	rotator := &lumberjack.Logger{
		Filename:   c.LogPath,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	var out io.Writer = rotator
	if verbose {
		out = io.MultiWriter(os.Stderr, rotator)
	}
	return log.New(out, "", log.LstdFlags)
}
