package config

import "time"

// Config is the complete configuration of the queue core.
type Config struct {
	Scoring   Scoring   `yaml:"scoring" json:"scoring"`
	Optimizer Optimizer `yaml:"optimizer" json:"optimizer"`
	Guard     Guard     `yaml:"guard" json:"guard"`
	Events    Events    `yaml:"events" json:"events"`
	Cache     Cache     `yaml:"cache" json:"cache"`
	Store     Store     `yaml:"store" json:"store"`
	Relay     Relay     `yaml:"relay" json:"relay"`
}

// Scoring holds the priority calculator constants.
type Scoring struct {
	CategoryBase          map[string]int64 `yaml:"category_base" json:"category_base"`
	WaitBonusPerMinute    int64            `yaml:"wait_bonus_per_minute" json:"wait_bonus_per_minute"`
	WaitBonusCap          int64            `yaml:"wait_bonus_cap" json:"wait_bonus_cap"`
	SpecialFactorBonus    map[string]int64 `yaml:"special_factor_bonus" json:"special_factor_bonus"`
	CriticalCategories    []string         `yaml:"critical_categories" json:"critical_categories"`
	RescoreThreshold      int64            `yaml:"rescore_threshold" json:"rescore_threshold"`
	AverageServiceMinutes int64            `yaml:"average_service_minutes" json:"average_service_minutes"`
}

// Optimizer bounds the optimization pass.
type Optimizer struct {
	ScanCap  int           `yaml:"scan_cap" json:"scan_cap"`
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// Guard configures compare-and-swap retries.
type Guard struct {
	MaxRetries  int           `yaml:"max_retries" json:"max_retries"`
	BaseBackoff time.Duration `yaml:"base_backoff" json:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff" json:"max_backoff"`
}

// Events configures retention, coalescing and acknowledgment.
type Events struct {
	RetentionSize    int           `yaml:"retention_size" json:"retention_size"`
	RetentionWindow  time.Duration `yaml:"retention_window" json:"retention_window"`
	CoalesceWindow   time.Duration `yaml:"coalesce_window" json:"coalesce_window"`
	AckMaxAttempts   int           `yaml:"ack_max_attempts" json:"ack_max_attempts"`
	AckBaseBackoff   time.Duration `yaml:"ack_base_backoff" json:"ack_base_backoff"`
	SubscriberBuffer int           `yaml:"subscriber_buffer" json:"subscriber_buffer"`
	SweepInterval    time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// Cache selects the derived-view cache backend.
type Cache struct {
	Backend string        `yaml:"backend" json:"backend"` // "memory" | "redis"
	TTL     time.Duration `yaml:"ttl" json:"ttl"`
	Redis   Redis         `yaml:"redis" json:"redis"`
}

// Redis holds connection settings for the redis cache backend.
type Redis struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`
}

// Store locates the SQLite database.
type Store struct {
	Path string `yaml:"path" json:"path"`
}

// Relay configures external forwarding of the event stream. Empty
// settings disable the corresponding relay.
type Relay struct {
	AMQP  AMQP  `yaml:"amqp" json:"amqp"`
	Kafka Kafka `yaml:"kafka" json:"kafka"`
}

// AMQP targets a RabbitMQ fanout exchange.
type AMQP struct {
	URL      string `yaml:"url" json:"-"`
	Exchange string `yaml:"exchange" json:"exchange"`
}

// Kafka targets a topic.
type Kafka struct {
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
}

// Cache backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Default returns the built-in configuration. Category bases and factor
// bonuses follow the counter's service classes: emergencies dominate
// appointments, which dominate walk-in services.
func Default() Config {
	return Config{
		Scoring: Scoring{
			CategoryBase: map[string]int64{
				"emergency":       1000,
				"appointment":     800,
				"collection":      600,
				"renewal":         400,
				"new_application": 200,
				"correction":      100,
			},
			WaitBonusPerMinute: 2,
			WaitBonusCap:       200,
			SpecialFactorBonus: map[string]int64{
				"elderly":    100,
				"disability": 150,
				"pregnancy":  120,
			},
			CriticalCategories:    []string{"emergency"},
			RescoreThreshold:      25,
			AverageServiceMinutes: 5,
		},
		Optimizer: Optimizer{
			ScanCap:  100,
			Interval: 5 * time.Minute,
		},
		Guard: Guard{
			MaxRetries:  3,
			BaseBackoff: 10 * time.Millisecond,
			MaxBackoff:  time.Second,
		},
		Events: Events{
			RetentionSize:    1000,
			RetentionWindow:  30 * time.Minute,
			CoalesceWindow:   250 * time.Millisecond,
			AckMaxAttempts:   3,
			AckBaseBackoff:   time.Second,
			SubscriberBuffer: 256,
			SweepInterval:    time.Second,
		},
		Cache: Cache{
			Backend: BackendMemory,
			TTL:     time.Minute,
		},
		Store: Store{
			Path: "queuecore.db",
		},
		Relay: Relay{
			AMQP: AMQP{Exchange: "queue_events"},
		},
	}
}
