package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"bookbuilder/logging"
)

type Config struct {
	Log         logging.Config    `mapstructure:"log"`
	Source      string            `mapstructure:"source"` // journal, kafka or ws
	Codec       string            `mapstructure:"codec"`  // binary or json
	Journal     JournalConfig     `mapstructure:"journal"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	WS          WSConfig          `mapstructure:"ws"`
	Outbox      OutboxConfig      `mapstructure:"outbox"`
	Broadcaster BroadcasterConfig `mapstructure:"broadcaster"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Book        BookConfig        `mapstructure:"book"`
}

type JournalConfig struct {
	Dir         string `mapstructure:"dir"`
	RecordDir   string `mapstructure:"record_dir"` // tee the live feed into a new journal
	SegmentSize int64  `mapstructure:"segment_size"`
	Sync        bool   `mapstructure:"sync"`
}

type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	Topic        string   `mapstructure:"topic"`
	GroupID      string   `mapstructure:"group_id"`
	PublishTopic string   `mapstructure:"publish_topic"` // republish applied events
}

type WSConfig struct {
	URL          string        `mapstructure:"url"`
	Subscribe    string        `mapstructure:"subscribe"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

type OutboxConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

type BroadcasterConfig struct {
	Brokers  []string      `mapstructure:"brokers"`
	Topic    string        `mapstructure:"topic"`
	Interval time.Duration `mapstructure:"interval"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the endpoint
}

type BookConfig struct {
	Strict   bool `mapstructure:"strict"`
	Capacity int  `mapstructure:"capacity"`
}

// Load reads an optional .env file, then the config file at path (if
// any), then BOOKBUILDER_* environment variables, then flags already
// parsed into fs. Later sources win.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("BOOKBUILDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := bindFlags(v, fs); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"source":      "source",
	"codec":       "codec",
	"journal-dir": "journal.dir",
	"record":      "journal.record_dir",
	"log-level":   "log.level",
	"metrics":     "metrics.addr",
	"strict":      "book.strict",
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for flag, key := range flagKeys {
		f := fs.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")

	v.SetDefault("source", "journal")
	v.SetDefault("codec", "binary")

	v.SetDefault("journal.dir", "data/journal")
	v.SetDefault("journal.segment_size", 64<<20)
	v.SetDefault("journal.sync", false)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "book-events")
	v.SetDefault("kafka.group_id", "bookbuilder")

	v.SetDefault("ws.read_timeout", 60*time.Second)
	v.SetDefault("ws.ping_interval", 20*time.Second)

	v.SetDefault("outbox.enabled", false)
	v.SetDefault("outbox.dir", "data/outbox")

	v.SetDefault("broadcaster.brokers", []string{"localhost:9092"})
	v.SetDefault("broadcaster.topic", "bbo")
	v.SetDefault("broadcaster.interval", 250*time.Millisecond)

	v.SetDefault("book.strict", false)
	v.SetDefault("book.capacity", 0)
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Source {
	case "journal":
		if c.Journal.Dir == "" {
			errs = append(errs, errors.New("journal.dir is required for the journal source"))
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			errs = append(errs, errors.New("kafka.brokers and kafka.topic are required for the kafka source"))
		}
	case "ws":
		if c.WS.URL == "" {
			errs = append(errs, errors.New("ws.url is required for the ws source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source %q", c.Source))
	}
	if c.Codec != "binary" && c.Codec != "json" {
		errs = append(errs, fmt.Errorf("unknown codec %q", c.Codec))
	}
	if c.Outbox.Enabled && c.Broadcaster.Topic == "" {
		errs = append(errs, errors.New("broadcaster.topic is required when the outbox is enabled"))
	}
	return errors.Join(errs...)
}
