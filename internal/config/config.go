package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

type Config struct {
	Server     ServerConfig            `koanf:"server"`
	Hub        HubConfig               `koanf:"hub"`
	Security   SecurityConfig          `koanf:"security"`
	Postgres   PostgresConfig          `koanf:"postgres"`
	Dosemu     DosemuConfig            `koanf:"dosemu"`
	Processing ProcessingConfig        `koanf:"processing"`
	Events     EventsConfig            `koanf:"events"`
	Leagues    map[string]LeagueConfig `koanf:"leagues"`
}

type ServerConfig struct {
	HTTPListen             string `koanf:"http_listen"`
	DataDir                string `koanf:"data_dir"`
	LogLevel               string `koanf:"log_level"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

type HubConfig struct {
	BBSName  string `koanf:"bbs_name"`
	BBSIndex string `koanf:"bbs_index"` // 2-hex index reserved for the hub itself
}

type SecurityConfig struct {
	JWTSecret      string `koanf:"jwt_secret"`
	JWTExpiryHours int    `koanf:"jwt_expiry_hours"`
}

type PostgresConfig struct {
	DSN      string `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns"`
	MinConns int32  `koanf:"min_conns"`
}

type DosemuConfig struct {
	Path           string `koanf:"path"`
	ConfigDir      string `koanf:"config_dir"`
	TimeoutSeconds int    `koanf:"timeout_seconds"`
}

type ProcessingConfig struct {
	PollIntervalSeconds int `koanf:"poll_interval_seconds"` // 0 disables the periodic trigger
	RetentionDays       int `koanf:"retention_days"`
}

// EventsConfig configures the optional Kafka mirror of hub events. The
// exporter is off unless brokers are set.
type EventsConfig struct {
	Kafka KafkaConfig `koanf:"kafka"`
}

type KafkaConfig struct {
	Brokers  []string   `koanf:"brokers"`
	Topic    string     `koanf:"topic"`
	ClientID string     `koanf:"client_id"`
	TLS      TLSConfig  `koanf:"tls"`
	SASL     SASLConfig `koanf:"sasl"`
}

type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CAFile   string `koanf:"ca_file"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

type SASLConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Mechanism string `koanf:"mechanism"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
}

// LeagueConfig groups the per-game sections of one league number.
type LeagueConfig struct {
	Bre *GameConfig `koanf:"bre"`
	Fe  *GameConfig `koanf:"fe"`
}

// GameConfig is the external-command configuration for one (league, game).
// Folder fields are host paths; GameDOSPath is the path as seen inside the
// emulator (e.g. "C:\\BBS\\DOORS\\BRE_013").
type GameConfig struct {
	ProcessingCommand string `koanf:"processing_command"`
	ScoresCommand     string `koanf:"scores_command"`
	RouteinfoCommand  string `koanf:"routeinfo_command"`
	BbsinfoCommand    string `koanf:"bbsinfo_command"`
	InboundFolder     string `koanf:"inbound_folder"`
	OutboundFolder    string `koanf:"outbound_folder"`
	ScoresFolder      string `koanf:"scores_folder"`
	GameFolder        string `koanf:"game_folder"`
	GameDOSPath       string `koanf:"game_dos_path"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load YAML file first.
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Overlay environment variables: NOVA_HUB_POSTGRES__DSN → postgres.dsn
	if err := k.Load(env.Provider("NOVA_HUB_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "NOVA_HUB_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			HTTPListen:             ":8000",
			DataDir:                "./data",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		Hub: HubConfig{
			BBSName:  "Nova Hub",
			BBSIndex: "01",
		},
		Security: SecurityConfig{
			JWTExpiryHours: 24,
		},
		Postgres: PostgresConfig{
			MaxConns: 20,
			MinConns: 2,
		},
		Dosemu: DosemuConfig{
			Path:           "/usr/bin/dosemu",
			ConfigDir:      "dosemu_configs",
			TimeoutSeconds: 300,
		},
		Processing: ProcessingConfig{
			PollIntervalSeconds: 60,
			RetentionDays:       30,
		},
		Events: EventsConfig{
			Kafka: KafkaConfig{
				Topic:    "nova-hub.events",
				ClientID: "nova-hub",
			},
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Split comma-separated env strings for slice fields.
	if len(cfg.Events.Kafka.Brokers) == 1 && strings.Contains(cfg.Events.Kafka.Brokers[0], ",") {
		cfg.Events.Kafka.Brokers = strings.Split(cfg.Events.Kafka.Brokers[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Postgres.DSN == "" {
		return fmt.Errorf("config: postgres.dsn is required")
	}
	if c.Postgres.MaxConns <= 0 {
		return fmt.Errorf("config: postgres.max_conns must be > 0 (got %d)", c.Postgres.MaxConns)
	}
	if c.Postgres.MinConns < 0 {
		return fmt.Errorf("config: postgres.min_conns must be >= 0 (got %d)", c.Postgres.MinConns)
	}
	if c.Server.DataDir == "" {
		return fmt.Errorf("config: server.data_dir is required")
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("config: server.shutdown_timeout_seconds must be > 0 (got %d)", c.Server.ShutdownTimeoutSeconds)
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("config: security.jwt_secret is required")
	}
	if c.Security.JWTExpiryHours <= 0 {
		return fmt.Errorf("config: security.jwt_expiry_hours must be > 0 (got %d)", c.Security.JWTExpiryHours)
	}
	if c.Dosemu.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: dosemu.timeout_seconds must be > 0 (got %d)", c.Dosemu.TimeoutSeconds)
	}
	if len(c.Hub.BBSIndex) != 2 {
		return fmt.Errorf("config: hub.bbs_index must be a 2-hex BBS index (got %q)", c.Hub.BBSIndex)
	}
	if len(c.Events.Kafka.Brokers) > 0 && c.Events.Kafka.Topic == "" {
		return fmt.Errorf("config: events.kafka.topic is required when brokers are set")
	}
	for number, league := range c.Leagues {
		if len(number) != 3 {
			return fmt.Errorf("config: leagues.%s: league number must be 3 digits", number)
		}
		if league.Bre == nil && league.Fe == nil {
			return fmt.Errorf("config: leagues.%s: at least one of bre/fe must be configured", number)
		}
	}
	return nil
}

// League returns the command configuration for (league number, game type),
// or nil if the league is not configured. game is 'B' or 'F'.
func (c *Config) League(number string, game byte) *GameConfig {
	league, ok := c.Leagues[number]
	if !ok {
		return nil
	}
	if game == 'F' {
		return league.Fe
	}
	return league.Bre
}

// KafkaEnabled reports whether the event exporter should run.
func (c *Config) KafkaEnabled() bool {
	return len(c.Events.Kafka.Brokers) > 0
}

// BuildTLSConfig creates a *tls.Config from the Kafka TLS settings. Returns nil if TLS is disabled.
func (k *KafkaConfig) BuildTLSConfig() (*tls.Config, error) {
	if !k.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{}
	if k.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(k.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}
	if k.TLS.CertFile != "" && k.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(k.TLS.CertFile, k.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// BuildSASLMechanism creates a SASL mechanism from the Kafka SASL settings. Returns nil if SASL is disabled.
func (k *KafkaConfig) BuildSASLMechanism() sasl.Mechanism {
	if !k.SASL.Enabled {
		return nil
	}
	switch strings.ToUpper(k.SASL.Mechanism) {
	case "PLAIN":
		return plain.Auth{User: k.SASL.Username, Pass: k.SASL.Password}.AsMechanism()
	default:
		return nil
	}
}
