package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Backend BackendConfig `mapstructure:"backend"`
	Push    PushConfig    `mapstructure:"push"`
	Tasks   TasksConfig   `mapstructure:"tasks"`
	CORS    CORSConfig    `mapstructure:"cors"`
	Log     LogConfig     `mapstructure:"log"`
	Storage StorageConfig `mapstructure:"storage"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
}

// BackendConfig 描述内容生成后端
type BackendConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Token        string        `mapstructure:"token"`
	StreamPath   string        `mapstructure:"stream_path"`
	SnapshotPath string        `mapstructure:"snapshot_path"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// PushConfig 描述后端推送通道
type PushConfig struct {
	Path string `mapstructure:"path"`
}

type TasksConfig struct {
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	Type    string `mapstructure:"type"` // memory | disk
	DataDir string `mapstructure:"data_dir"`
}

var cfg *Config

func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ADFLOW")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	// 配置文件优先，未设置时回退到环境变量
	if cfg.Backend.Token == "" {
		if token := os.Getenv("ADFLOW_BACKEND_TOKEN"); token != "" {
			cfg.Backend.Token = token
		}
	}

	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(c *Config) {
	if c.Backend.StreamPath == "" {
		c.Backend.StreamPath = "/api/generate/stream"
	}
	if c.Backend.SnapshotPath == "" {
		c.Backend.SnapshotPath = "/api/tasks/active"
	}
	if c.Push.Path == "" {
		c.Push.Path = "/api/tasks/events"
	}
	if c.Tasks.SnapshotInterval <= 0 {
		c.Tasks.SnapshotInterval = 60 * time.Second
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "memory"
	}
}

func Get() *Config {
	return cfg
}
