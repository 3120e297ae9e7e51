package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Reconnect ReconnectConfig
	Recovery  RecoveryConfig
	History   HistoryConfig
	Chat      ChatConfig
}

type ServerConfig struct {
	BaseURL      string
	Token        string
	WriteTimeout time.Duration
	PongTimeout  time.Duration
}

type ReconnectConfig struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

type RecoveryConfig struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

type HistoryConfig struct {
	Path             string
	MaxConversations int
	MaxPendingErrors int
}

type ChatConfig struct {
	TypingIdle time.Duration
}

func Load() (*Config, error) {
	viper.SetDefault("COMMUNITYCAR_URL", "http://localhost:8080")
	viper.SetDefault("COMMUNITYCAR_TOKEN", "")
	viper.SetDefault("COMMUNITYCAR_WRITE_TIMEOUT", 10*time.Second)
	viper.SetDefault("COMMUNITYCAR_PONG_TIMEOUT", 60*time.Second)
	viper.SetDefault("COMMUNITYCAR_RECONNECT_BASE_DELAY", 1*time.Second)
	viper.SetDefault("COMMUNITYCAR_RECONNECT_MAX_DELAY", 30*time.Second)
	viper.SetDefault("COMMUNITYCAR_RECONNECT_MAX_ATTEMPTS", 5)
	viper.SetDefault("COMMUNITYCAR_RECOVERY_BASE_DELAY", 5*time.Second)
	viper.SetDefault("COMMUNITYCAR_RECOVERY_MAX_DELAY", 60*time.Second)
	viper.SetDefault("COMMUNITYCAR_RECOVERY_MAX_ATTEMPTS", 3)
	viper.SetDefault("COMMUNITYCAR_HISTORY_PATH", "communitycar.db")
	viper.SetDefault("COMMUNITYCAR_HISTORY_MAX_CONVERSATIONS", 50)
	viper.SetDefault("COMMUNITYCAR_HISTORY_MAX_PENDING_ERRORS", 50)
	viper.SetDefault("COMMUNITYCAR_TYPING_IDLE", 3*time.Second)
	viper.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			BaseURL:      viper.GetString("COMMUNITYCAR_URL"),
			Token:        viper.GetString("COMMUNITYCAR_TOKEN"),
			WriteTimeout: viper.GetDuration("COMMUNITYCAR_WRITE_TIMEOUT"),
			PongTimeout:  viper.GetDuration("COMMUNITYCAR_PONG_TIMEOUT"),
		},
		Reconnect: ReconnectConfig{
			BaseDelay:   viper.GetDuration("COMMUNITYCAR_RECONNECT_BASE_DELAY"),
			MaxDelay:    viper.GetDuration("COMMUNITYCAR_RECONNECT_MAX_DELAY"),
			MaxAttempts: viper.GetInt("COMMUNITYCAR_RECONNECT_MAX_ATTEMPTS"),
		},
		Recovery: RecoveryConfig{
			BaseDelay:   viper.GetDuration("COMMUNITYCAR_RECOVERY_BASE_DELAY"),
			MaxDelay:    viper.GetDuration("COMMUNITYCAR_RECOVERY_MAX_DELAY"),
			MaxAttempts: viper.GetInt("COMMUNITYCAR_RECOVERY_MAX_ATTEMPTS"),
		},
		History: HistoryConfig{
			Path:             viper.GetString("COMMUNITYCAR_HISTORY_PATH"),
			MaxConversations: viper.GetInt("COMMUNITYCAR_HISTORY_MAX_CONVERSATIONS"),
			MaxPendingErrors: viper.GetInt("COMMUNITYCAR_HISTORY_MAX_PENDING_ERRORS"),
		},
		Chat: ChatConfig{
			TypingIdle: viper.GetDuration("COMMUNITYCAR_TYPING_IDLE"),
		},
	}

	return cfg, nil
}
