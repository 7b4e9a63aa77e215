package rowstore

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/rowstore/blobstore/minio"
	"github.com/hupe1980/rowstore/buffer"
	"github.com/hupe1980/rowstore/internal/compress"
	"github.com/hupe1980/rowstore/resource"
	"github.com/hupe1980/rowstore/table"
)

// Config configures a Node. The zero value is not valid; start from
// DefaultConfig.
type Config struct {
	// Buffer configures the row buffer shared by the node's tables.
	Buffer BufferConfig `yaml:"buffer"`

	// Table holds defaults for tables created by the node.
	Table TableConfig `yaml:"table"`

	// Resource bounds memory, IO and background workers.
	Resource resource.Config `yaml:"resource"`

	// Transport configures the gRPC transport built by DialTransport.
	Transport TransportConfig `yaml:"transport"`

	// Checkpoint selects where checkpoints are stored.
	Checkpoint CheckpointConfig `yaml:"checkpoint"`

	// Log configures the default logger.
	Log LogConfig `yaml:"log"`
}

// BufferConfig configures row buffers.
type BufferConfig struct {
	ExpansionFactor float64 `yaml:"expansionFactor"`
	OffHeap         bool    `yaml:"offHeap"`
}

// TableConfig holds table defaults.
type TableConfig struct {
	Capacity     int     `yaml:"capacity"`
	Buckets      int     `yaml:"buckets"`
	RemapRatio   float64 `yaml:"remapRatio"`
	RemapNLookup uint64  `yaml:"remapNLookup"`
}

// TransportConfig configures the gRPC transport.
type TransportConfig struct {
	// Addrs lists the listen address of every rank, indexed by rank.
	Addrs          []string `yaml:"addrs"`
	Compression    string   `yaml:"compression"`
	MaxMessageSize int      `yaml:"maxMessageSize"`
}

// CheckpointConfig selects the checkpoint store.
type CheckpointConfig struct {
	// Backend is one of "memory", "local", "s3" or "minio".
	Backend     string `yaml:"backend"`
	Dir         string `yaml:"dir"`
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Compression string `yaml:"compression"`
	Retention   int    `yaml:"retention"`

	// DynamoTable enables the DynamoDB version catalog for the s3 backend.
	DynamoTable string `yaml:"dynamoTable"`

	MinIO minio.Config `yaml:"minio"`
}

// LogConfig configures the default logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration: in-memory checkpoints,
// unlimited resources and the table defaults.
func DefaultConfig() Config {
	return Config{
		Buffer: BufferConfig{
			ExpansionFactor: buffer.DefaultExpansionFactor,
		},
		Table: TableConfig{
			Buckets:      table.DefaultBuckets,
			RemapRatio:   table.DefaultRemapRatio,
			RemapNLookup: table.DefaultRemapNLookup,
		},
		Transport: TransportConfig{
			Compression: "lz4",
		},
		Checkpoint: CheckpointConfig{
			Backend:     "memory",
			Compression: "zstd",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig and validates it.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML on top of DefaultConfig and validates it.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and names.
func (c Config) Validate() error {
	if c.Buffer.ExpansionFactor < 0 {
		return &ConfigError{Field: "buffer.expansionFactor", Msg: "must not be negative"}
	}
	if c.Table.Capacity < 0 {
		return &ConfigError{Field: "table.capacity", Msg: "must not be negative"}
	}
	if c.Table.Buckets <= 0 {
		return &ConfigError{Field: "table.buckets", Msg: "must be positive"}
	}
	if c.Table.RemapRatio <= 0 {
		return &ConfigError{Field: "table.remapRatio", Msg: "must be positive"}
	}
	if c.Resource.MemoryLimitBytes < 0 || c.Resource.IOLimitBytesPerSec < 0 || c.Resource.MaxWorkers < 0 {
		return &ConfigError{Field: "resource", Msg: "limits must not be negative"}
	}
	if _, err := compress.ParseAlgorithm(c.Transport.Compression); err != nil {
		return &ConfigError{Field: "transport.compression", Msg: err.Error()}
	}
	if c.Transport.MaxMessageSize < 0 {
		return &ConfigError{Field: "transport.maxMessageSize", Msg: "must not be negative"}
	}
	if _, err := compress.ParseAlgorithm(c.Checkpoint.Compression); err != nil {
		return &ConfigError{Field: "checkpoint.compression", Msg: err.Error()}
	}
	if c.Checkpoint.Retention < 0 {
		return &ConfigError{Field: "checkpoint.retention", Msg: "must not be negative"}
	}
	switch c.Checkpoint.Backend {
	case "memory":
	case "local":
		if c.Checkpoint.Dir == "" {
			return &ConfigError{Field: "checkpoint.dir", Msg: "required for the local backend"}
		}
	case "s3":
		if c.Checkpoint.Bucket == "" {
			return &ConfigError{Field: "checkpoint.bucket", Msg: "required for the s3 backend"}
		}
	case "minio":
		if c.Checkpoint.MinIO.Endpoint == "" || c.Checkpoint.MinIO.Bucket == "" {
			return &ConfigError{Field: "checkpoint.minio", Msg: "endpoint and bucket are required"}
		}
	default:
		return &ConfigError{Field: "checkpoint.backend", Msg: fmt.Sprintf("unknown backend %q", c.Checkpoint.Backend)}
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return &ConfigError{Field: "log.level", Msg: err.Error()}
	}
	if f := c.Log.Format; f != "text" && f != "json" {
		return &ConfigError{Field: "log.format", Msg: fmt.Sprintf("unknown format %q", f)}
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(strings.ToUpper(s)))
	return l, err
}

// NewConfiguredLogger builds the logger described by c.Log.
func (c Config) NewConfiguredLogger() *Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if c.Log.Format == "json" {
		return NewJSONLogger(level)
	}
	return NewTextLogger(level)
}
