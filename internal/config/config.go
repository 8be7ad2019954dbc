package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// Server side.
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	Secret     string        `mapstructure:"secret"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	// Client side.
	WSURL         string        `mapstructure:"ws_url"`
	APIURL        string        `mapstructure:"api_url"`
	Token         string        `mapstructure:"token"`
	UserID        int64         `mapstructure:"user_id"`
	UserName      string        `mapstructure:"user_name"`
	STUNServers   []string      `mapstructure:"stun_servers"`
	TypingTTL     time.Duration `mapstructure:"typing_ttl"`
	ConnectGrace  time.Duration `mapstructure:"connect_grace"`
	RestartWindow time.Duration `mapstructure:"restart_window"`
	VideoFile     string        `mapstructure:"video_file"`
	AudioFile     string        `mapstructure:"audio_file"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "voxlink-dev-secret")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")

	v.SetDefault("ws_url", "ws://localhost:8080/ws")
	v.SetDefault("api_url", "http://localhost:8080")
	v.SetDefault("user_name", "")
	v.SetDefault("typing_ttl", "3s")
	v.SetDefault("connect_grace", "1s")
	v.SetDefault("restart_window", "5s")
	v.SetDefault("video_file", "media/loop.ivf")
	v.SetDefault("audio_file", "media/loop.ogg")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	// A defaults-only run still needs a usable identity; the dev server
	// names unnamed users the same way.
	if cfg.UserName == "" {
		cfg.UserName = fmt.Sprintf("guest-%d", cfg.UserID)
	}
	return &cfg, nil
}
