package config

import (
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	mu sync.Mutex `yaml:"-"`

	Plant string `yaml:"plant"`

	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	DeviceService DeviceServiceConfig `yaml:"device_service"`
	Session       SessionConfig       `yaml:"session"`
	Workstations  []WorkstationConfig `yaml:"workstations"`
	Web           WebConfig           `yaml:"web"`
	Messaging     MessagingConfig     `yaml:"messaging"`
	Log           LogConfig           `yaml:"log"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// DatabaseConfig selects the SQL backend.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // "sqlite" or "postgres"
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig defines the SQLite database file.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig defines the PostgreSQL connection.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig defines the optional work-state cache.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DeviceServiceConfig defines the external device-communication service.
type DeviceServiceConfig struct {
	BaseURL        string        `yaml:"base_url"        json:"base_url"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"    json:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"   json:"write_timeout"`
	ScanTimeout    time.Duration `yaml:"scan_timeout"    json:"scan_timeout"`
	StatusTimeout  time.Duration `yaml:"status_timeout"  json:"status_timeout"`
	ReadRetries    int           `yaml:"read_retries"    json:"read_retries"`
	SimulateReads  bool          `yaml:"simulate_reads"  json:"simulate_reads"`
}

// SessionConfig defines workstation occupancy rules.
type SessionConfig struct {
	StaleAfter    time.Duration `yaml:"stale_after"`
	SweepInterval time.Duration `yaml:"sweep_interval"` // 0 disables the background sweep
}

// WorkstationConfig seeds a workstation row at startup.
type WorkstationConfig struct {
	ID         string   `yaml:"id"          json:"id"`
	Name       string   `yaml:"name"        json:"name"`
	Location   string   `yaml:"location"    json:"location"`
	AutoLogin  bool     `yaml:"auto_login"  json:"auto_login"`
	AllowedIPs []string `yaml:"allowed_ips" json:"allowed_ips"`
}

// WebConfig defines the web server settings.
type WebConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
	// TrustedProxies lists peers (addresses or CIDR prefixes) whose
	// X-Forwarded-For and X-Real-IP headers are honoured. Empty means the
	// TCP peer is always the client.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// MessagingConfig defines the event publishing backend.
type MessagingConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Backend             string        `yaml:"backend"` // "mqtt" or "kafka"
	MQTT                MQTTConfig    `yaml:"mqtt"`
	Kafka               KafkaConfig   `yaml:"kafka"`
	EventsTopic         string        `yaml:"events_topic"`
	InboundTopic        string        `yaml:"inbound_topic"`
	OutboxDrainInterval time.Duration `yaml:"outbox_drain_interval"`
	OutboxMaxRetries    int           `yaml:"outbox_max_retries"`
}

// MQTTConfig defines MQTT broker settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

// KafkaConfig defines Kafka broker settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	// GroupID is the consumer group for the inbound topic; defaults to the
	// MQTT client ID.
	GroupID string `yaml:"group_id"`
}

// LogConfig defines logger output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Plant: "plant-a",
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "simplemes.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "simplemes",
				User:     "simplemes",
				SSLMode:  "disable",
			},
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		DeviceService: DeviceServiceConfig{
			BaseURL:        "http://localhost:5000/api",
			ConnectTimeout: 5 * time.Second,
			ReadTimeout:    800 * time.Millisecond,
			WriteTimeout:   800 * time.Millisecond,
			ScanTimeout:    5 * time.Second,
			StatusTimeout:  2 * time.Second,
			ReadRetries:    1,
			SimulateReads:  true,
		},
		Session: SessionConfig{
			StaleAfter: 2 * time.Hour,
		},
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		Messaging: MessagingConfig{
			Backend:             "mqtt",
			EventsTopic:         "simplemes/events",
			InboundTopic:        "simplemes/inbound",
			OutboxDrainInterval: 5 * time.Second,
			OutboxMaxRetries:    10,
			MQTT: MQTTConfig{
				Broker:   "localhost",
				Port:     1883,
				ClientID: "simplemes",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads a YAML config file. If the file doesn't exist, defaults are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to a YAML file.
func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Workstation returns the seed entry for a workstation, if configured.
func (c *Config) Workstation(id string) (WorkstationConfig, bool) {
	for _, ws := range c.Workstations {
		if ws.ID == id {
			return ws, true
		}
	}
	return WorkstationConfig{}, false
}

// PutWorkstation replaces the seed entry with the same id, or appends it.
func (c *Config) PutWorkstation(ws WorkstationConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Workstations {
		if c.Workstations[i].ID == ws.ID {
			c.Workstations[i] = ws
			return
		}
	}
	c.Workstations = append(c.Workstations, ws)
}
