package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Queue backends.
const (
	BackendPebble = "pebble"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Lock backends.
const (
	LockRedis = "redis"
	LockLocal = "local"
	LockNone  = "none"
)

// Config is the top-level worker configuration loaded from file/env.
type Config struct {
	// Replica names this worker process in the shared state cache.
	Replica    string           `json:"replica" yaml:"replica"`
	Queue      QueueConfig      `json:"queue" yaml:"queue"`
	Processor  ProcessorConfig  `json:"processor" yaml:"processor"`
	Lock       LockConfig       `json:"lock" yaml:"lock"`
	Redis      RedisConfig      `json:"redis" yaml:"redis"`
	StateSync  StateSyncConfig  `json:"stateSync" yaml:"stateSync"`
	Telemetry  TelemetryConfig  `json:"telemetry" yaml:"telemetry"`
	// DeadLetter archives poison messages in the local store.
	DeadLetter DeadLetterConfig `json:"deadLetter" yaml:"deadLetter"`
	Server     ServerConfig     `json:"server" yaml:"server"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

// QueueConfig selects the queue transport.
type QueueConfig struct {
	Name    string `json:"name" yaml:"name"`
	Backend string `json:"backend" yaml:"backend"`
}

// ProcessorConfig drives the consumer loop.
type ProcessorConfig struct {
	PollInterval            Duration `json:"pollInterval" yaml:"pollInterval"`
	VisibilityTimeout       Duration `json:"visibilityTimeout" yaml:"visibilityTimeout"`
	VisibilityRenewInterval Duration `json:"visibilityRenewInterval" yaml:"visibilityRenewInterval"`
	MaxRetries              int      `json:"maxRetries" yaml:"maxRetries"`
	StartOnReady            bool     `json:"startOnReady" yaml:"startOnReady"`
	DrainTimeout            Duration `json:"drainTimeout" yaml:"drainTimeout"`
	// Skip is a CEL expression; matching messages are acknowledged unprocessed.
	Skip string `json:"skip" yaml:"skip"`
}

// LockConfig configures synchronization-key locking.
type LockConfig struct {
	Backend        string   `json:"backend" yaml:"backend"`
	AcquireTimeout Duration `json:"acquireTimeout" yaml:"acquireTimeout"`
	Lease          Duration `json:"lease" yaml:"lease"`
}

// RedisConfig is shared by every Redis-backed component.
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	DB        int    `json:"db" yaml:"db"`
	Password  string `json:"password" yaml:"password"`
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix"`
}

// StateSyncConfig controls publishing lifecycle state to Redis and polling
// for remote start/stop commands.
type StateSyncConfig struct {
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	PollInterval Duration `json:"pollInterval" yaml:"pollInterval"`
}

// TelemetryConfig configures the SQLite ledger. Empty path disables it.
type TelemetryConfig struct {
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath"`
}

// DeadLetterConfig controls the poison message archive. Retention 0 keeps
// entries until removed by hand.
type DeadLetterConfig struct {
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	Retention    Duration `json:"retention" yaml:"retention"`
	TrimInterval Duration `json:"trimInterval" yaml:"trimInterval"`
}

// ServerConfig holds listener addresses. Empty disables the listener.
type ServerConfig struct {
	HTTPAddr string `json:"httpAddr" yaml:"httpAddr"`
	GRPCAddr string `json:"grpcAddr" yaml:"grpcAddr"`
}

// LogConfig mirrors pkg/log.Config.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns built-in defaults.
func Default() Config {
	host, _ := os.Hostname()
	if host == "" {
		host = "pcs-0"
	}
	return Config{
		Replica: host,
		Queue:   QueueConfig{Name: "pcs-workitems", Backend: BackendPebble},
		Processor: ProcessorConfig{
			PollInterval:      Seconds(1),
			VisibilityTimeout: Seconds(60),
			MaxRetries:        5,
			DrainTimeout:      Seconds(300),
		},
		Lock: LockConfig{
			Backend:        LockLocal,
			AcquireTimeout: Seconds(30),
			Lease:          Seconds(30),
		},
		Redis:     RedisConfig{Addr: "127.0.0.1:6379", KeyPrefix: "pcs:"},
		StateSync: StateSyncConfig{PollInterval: Seconds(5)},
		DeadLetter: DeadLetterConfig{
			Enabled:      true,
			Retention:    Seconds(7 * 24 * 3600),
			TrimInterval: Seconds(3600),
		},
		Server: ServerConfig{HTTPAddr: ":8080", GRPCAddr: ":50051"},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension) on top of
// Default(). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse json: %w", err)
		}
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Queue.Name == "" {
		errs = append(errs, errors.New("queue.name is required"))
	} else if strings.Contains(c.Queue.Name, "/") {
		errs = append(errs, fmt.Errorf("queue.name %q must not contain '/'", c.Queue.Name))
	}
	switch c.Queue.Backend {
	case BackendPebble, BackendRedis, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("queue.backend %q is not one of pebble|redis|memory", c.Queue.Backend))
	}
	switch c.Lock.Backend {
	case LockRedis, LockLocal, LockNone:
	default:
		errs = append(errs, fmt.Errorf("lock.backend %q is not one of redis|local|none", c.Lock.Backend))
	}
	if c.Processor.MaxRetries < 1 {
		errs = append(errs, errors.New("processor.maxRetries must be >= 1"))
	}
	if c.Processor.PollInterval <= 0 {
		errs = append(errs, errors.New("processor.pollInterval must be positive"))
	}
	if c.Processor.VisibilityTimeout <= 0 {
		errs = append(errs, errors.New("processor.visibilityTimeout must be positive"))
	}
	if c.Processor.VisibilityRenewInterval > 0 && c.Processor.VisibilityRenewInterval >= c.Processor.VisibilityTimeout {
		errs = append(errs, errors.New("processor.visibilityRenewInterval must be shorter than visibilityTimeout"))
	}
	if c.Lock.Backend != LockNone && c.Lock.AcquireTimeout <= 0 {
		errs = append(errs, errors.New("lock.acquireTimeout must be positive"))
	}
	needsRedis := c.Queue.Backend == BackendRedis || c.Lock.Backend == LockRedis || c.StateSync.Enabled
	if needsRedis && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required by the selected backends"))
	}
	if c.DeadLetter.Retention < 0 {
		errs = append(errs, errors.New("deadLetter.retention must not be negative"))
	}
	if c.StateSync.Enabled && c.Replica == "" {
		errs = append(errs, errors.New("replica is required when stateSync is enabled"))
	}
	return errors.Join(errs...)
}

// UsesRedis reports whether any component needs a Redis client.
func (c Config) UsesRedis() bool {
	return c.Queue.Backend == BackendRedis || c.Lock.Backend == LockRedis || c.StateSync.Enabled
}
