package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// VoyagerConfig holds runtime configuration for the deployment API.
type VoyagerConfig struct {
	Addr           string        `yaml:"addr"`
	LogLevel       string        `yaml:"log_level"`
	Development    bool          `yaml:"development"`
	APIKey         string        `yaml:"api_key"`
	BaseDomain     string        `yaml:"base_domain"`
	HostIP         string        `yaml:"host_ip"`
	DeploymentsDir string        `yaml:"deployments_dir"`
	CreateTimeout  time.Duration `yaml:"create_timeout"`

	DockerHost string `yaml:"docker_host"`

	GitBaseURL  string `yaml:"git_base_url"`
	GitUsername string `yaml:"git_username"`
	GitToken    string `yaml:"git_token"`

	CloudflareToken string `yaml:"cloudflare_token"`
	CloudflareZone  string `yaml:"cloudflare_zone"`
	DiscordWebhook  string `yaml:"discord_webhook"`

	StoreDriver   string `yaml:"store_driver"`
	DatabaseURL   string `yaml:"database_url"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`

	RedisAddr         string        `yaml:"redis_addr"`
	RedisPassword     string        `yaml:"redis_password"`
	RedisDB           int           `yaml:"redis_db"`
	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`
	TrustProxyHeaders bool          `yaml:"trust_proxy_headers"`

	MonitorInterval time.Duration `yaml:"monitor_interval"`
	MonitorTimeout  time.Duration `yaml:"monitor_timeout"`
}

func defaultVoyagerConfig() VoyagerConfig {
	return VoyagerConfig{
		Addr:              ":8765",
		LogLevel:          "info",
		BaseDomain:        "lunarlabs.cc",
		HostIP:            "host.docker.internal",
		DeploymentsDir:    "/var/opt/voyager/deployments",
		CreateTimeout:     10 * time.Minute,
		GitBaseURL:        "https://github.com",
		StoreDriver:       "postgres",
		DatabaseURL:       "postgres://voyager:voyager@db:5432/voyager?sslmode=disable",
		MongoURI:          "mongodb://localhost:27017",
		MongoDatabase:     "voyager",
		RateLimitRequests: 10,
		RateLimitWindow:   time.Minute,
		MonitorInterval:   time.Minute,
		MonitorTimeout:    30 * time.Second,
	}
}

// LoadVoyagerConfig builds a VoyagerConfig from defaults, the optional YAML file named by
// VOYAGER_CONFIG_FILE, and finally environment variables.
func LoadVoyagerConfig() (VoyagerConfig, error) {
	base := defaultVoyagerConfig()
	if path := GetString("VOYAGER_CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, &base); err != nil {
			return VoyagerConfig{}, err
		}
	}
	return VoyagerConfig{
		Addr:              GetString("HTTP_ADDR", base.Addr),
		LogLevel:          GetString("LOG_LEVEL", base.LogLevel),
		Development:       GetBool("DEVELOPMENT", base.Development),
		APIKey:            GetString("API_KEY", base.APIKey),
		BaseDomain:        GetString("BASE_DOMAIN", base.BaseDomain),
		HostIP:            GetString("HOST_IP", base.HostIP),
		DeploymentsDir:    GetString("DEPLOYMENTS_DIR", base.DeploymentsDir),
		CreateTimeout:     GetSeconds("CREATE_TIMEOUT_SECONDS", base.CreateTimeout),
		DockerHost:        GetString("DOCKER_HOST", base.DockerHost),
		GitBaseURL:        GetString("GIT_BASE_URL", base.GitBaseURL),
		GitUsername:       GetString("GIT_USERNAME", base.GitUsername),
		GitToken:          GetString("GIT_PAT", base.GitToken),
		CloudflareToken:   GetString("CLOUDFLARE_API_TOKEN", base.CloudflareToken),
		CloudflareZone:    GetString("CLOUDFLARE_ZONE", base.CloudflareZone),
		DiscordWebhook:    GetString("DISCORD_WEBHOOK", base.DiscordWebhook),
		StoreDriver:       GetString("STORE_DRIVER", base.StoreDriver),
		DatabaseURL:       GetString("DATABASE_URL", base.DatabaseURL),
		MongoURI:          GetString("MONGO_CONN_STR", base.MongoURI),
		MongoDatabase:     GetString("MONGO_DB_NAME", base.MongoDatabase),
		RedisAddr:         GetString("REDIS_ADDR", base.RedisAddr),
		RedisPassword:     GetString("REDIS_PASSWORD", base.RedisPassword),
		RedisDB:           GetInt("REDIS_DB", base.RedisDB),
		RateLimitRequests: GetInt("RATE_LIMIT_REQUESTS", base.RateLimitRequests),
		RateLimitWindow:   GetSeconds("RATE_LIMIT_WINDOW_SECONDS", base.RateLimitWindow),
		TrustProxyHeaders: GetBool("TRUST_PROXY_HEADERS", base.TrustProxyHeaders),
		MonitorInterval:   GetSeconds("MONITOR_INTERVAL_SECONDS", base.MonitorInterval),
		MonitorTimeout:    GetSeconds("MONITOR_TIMEOUT_SECONDS", base.MonitorTimeout),
	}, nil
}

func loadFile(path string, cfg *VoyagerConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}
