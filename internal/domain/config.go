package domain

import "time"

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Pipeline configuration
	Decision DecisionConfig `json:"decision"`
	AML      AMLConfig      `json:"aml"`
	ML       MLConfig       `json:"ml"`
	Velocity VelocityConfig `json:"velocity"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// DecisionConfig holds the ensemble weights and thresholds. The defaults are
// fixed business constants carried for behavioral parity; they are exposed
// here as configuration candidates, not algorithmic necessities.
type DecisionConfig struct {
	RuleWeight     float64 `json:"ruleWeight"`
	VelocityWeight float64 `json:"velocityWeight"`
	MLWeight       float64 `json:"mlWeight"`
	AMLWeight      float64 `json:"amlWeight"`

	RejectThreshold float64 `json:"rejectThreshold"` // combined >= reject
	ReviewThreshold float64 `json:"reviewThreshold"` // combined >= review
}

// AMLConfig bounds the graph analytics stage.
type AMLConfig struct {
	LookbackDays int `json:"lookbackDays"` // history window, typically 30-90

	MaxCycleLength int `json:"maxCycleLength"` // simple-cycle cutoff
	MaxPathLength  int `json:"maxPathLength"`  // simple-path cutoff

	// Reporting thresholds whose 80-99% band counts as structuring.
	StructuringThresholds []float64 `json:"structuringThresholds"`
	StructuringBandLow    float64   `json:"structuringBandLow"`
	StructuringBandHigh   float64   `json:"structuringBandHigh"`
}

// MLConfig configures the ML collaborator client.
type MLConfig struct {
	Endpoint string        `json:"endpoint"` // empty disables the collaborator
	Timeout  time.Duration `json:"timeout"`
}

// VelocityConfig configures the velocity collaborator.
type VelocityConfig struct {
	Timeout time.Duration `json:"timeout"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Decision: DefaultDecisionConfig(),
		AML:      DefaultAMLConfig(),
		ML: MLConfig{
			Timeout: 2 * time.Second,
		},
		Velocity: VelocityConfig{
			Timeout: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}

// DefaultDecisionConfig returns the production ensemble constants.
func DefaultDecisionConfig() DecisionConfig {
	return DecisionConfig{
		RuleWeight:      0.3,
		VelocityWeight:  0.2,
		MLWeight:        0.3,
		AMLWeight:       0.2,
		RejectThreshold: 80,
		ReviewThreshold: 50,
	}
}

// DefaultAMLConfig returns the production analytics bounds.
func DefaultAMLConfig() AMLConfig {
	return AMLConfig{
		LookbackDays:          30,
		MaxCycleLength:        5,
		MaxPathLength:         5,
		StructuringThresholds: []float64{10000, 5000, 3000},
		StructuringBandLow:    0.80,
		StructuringBandHigh:   0.99,
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
