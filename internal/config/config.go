// Package config loads service configuration from .env, an optional YAML file,
// and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Config is the fully resolved service configuration.
type Config struct {
	Port         string
	LogLevel     string
	LogFormat    string
	AllowOrigins string
	RateRPS      float64
	RateBurst    int
	DatabaseURL  string
	DBMigrate    bool
	RedisURL     string

	Network    NetworkConfig
	Engine     EngineConfig
	Cost       CostConfig
	Prediction PredictionConfig
	Ranking    RankingConfig
	Recommend  RecommendConfig
	Auth       AuthConfig
	Webhook    WebhookConfig
}

// NetworkConfig selects where the road network and vehicle table come from.
type NetworkConfig struct {
	Source       string // embedded, file, postgres, neo4j
	File         string
	VehiclesFile string
	SnapRadiusKm float64
	Neo4jURL     string
	Neo4jUser    string
	Neo4jPass    string
}

type EngineConfig struct {
	RequestTimeout    time.Duration
	MaxCandidates     int
	MaxSharedFraction float64
	PenaltyFactor     float64
	ScoringWorkers    int
}

type CostConfig struct {
	FuelPrice        float64
	DriverHourlyRate float64
	RestDuration     time.Duration
	// TollFees maps toll class to the flat fee charged per toll segment.
	TollFees map[int]float64
}

type PredictionConfig struct {
	Source          string // none, http, redis, nats
	URL             string
	Timeout         time.Duration
	RetryBackoff    time.Duration
	MaxAge          time.Duration
	MinConfidence   float64
	RateRPS         float64
	NATSURL         string
	NATSSubject     string
	BreakerFailures int
	BreakerCooldown time.Duration
}

type RankingConfig struct {
	CostWeight float64
	TimeWeight float64
	RiskWeight float64
}

type RecommendConfig struct {
	AltCostThreshold float64
	PeakMagnitude    float64
}

type AuthConfig struct {
	Mode        string // dev, hmac, jwks
	HMACSecret  string
	JWKSURL     string
	TenantClaim string
	RoleClaim   string
}

type WebhookConfig struct {
	URLs        []string
	Secret      string
	MaxAttempts int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("allow_origins", "*")
	v.SetDefault("rate.rps", 20.0)
	v.SetDefault("rate.burst", 40)
	v.SetDefault("database_url", "")
	v.SetDefault("db.migrate", true)
	v.SetDefault("redis_url", "")

	v.SetDefault("network.source", "embedded")
	v.SetDefault("network.file", "")
	v.SetDefault("network.vehicles_file", "")
	v.SetDefault("network.snap_radius_km", 30.0)
	v.SetDefault("network.neo4j_url", "")
	v.SetDefault("network.neo4j_user", "neo4j")
	v.SetDefault("network.neo4j_pass", "")

	v.SetDefault("engine.request_timeout", 5*time.Second)
	v.SetDefault("engine.max_candidates", 3)
	v.SetDefault("engine.max_shared_fraction", 0.7)
	v.SetDefault("engine.penalty_factor", 1.6)
	v.SetDefault("engine.scoring_workers", 4)

	v.SetDefault("cost.fuel_price", 21000.0)
	v.SetDefault("cost.driver_hourly_rate", 60000.0)
	v.SetDefault("cost.rest_duration", 45*time.Minute)
	v.SetDefault("cost.toll_fees", map[string]any{"0": 0, "1": 35000, "2": 50000, "3": 90000, "4": 180000})

	v.SetDefault("prediction.source", "none")
	v.SetDefault("prediction.url", "")
	v.SetDefault("prediction.timeout", 2*time.Second)
	v.SetDefault("prediction.retry_backoff", 150*time.Millisecond)
	v.SetDefault("prediction.max_age", 15*time.Minute)
	v.SetDefault("prediction.min_confidence", 0.3)
	v.SetDefault("prediction.rate_rps", 50.0)
	v.SetDefault("prediction.nats_url", "")
	v.SetDefault("prediction.nats_subject", "predictions.signals")
	v.SetDefault("prediction.breaker_failures", 5)
	v.SetDefault("prediction.breaker_cooldown", 30*time.Second)

	v.SetDefault("ranking.cost_weight", 0.5)
	v.SetDefault("ranking.time_weight", 0.3)
	v.SetDefault("ranking.risk_weight", 0.2)

	v.SetDefault("recommend.alt_cost_threshold", 0.05)
	v.SetDefault("recommend.peak_magnitude", 0.6)

	v.SetDefault("auth.mode", "dev")
	v.SetDefault("auth.hmac_secret", "")
	v.SetDefault("auth.jwks_url", "")
	v.SetDefault("auth.tenant_claim", "tenant")
	v.SetDefault("auth.role_claim", "role")

	v.SetDefault("webhook.urls", "")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.max_attempts", 10)
}

// Load reads .env (if present), then CONFIG_FILE (if set), then the environment.
// Nested keys map to upper-case env names with dots replaced by underscores,
// e.g. engine.request_timeout is ENGINE_REQUEST_TIMEOUT.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	cfg, err := fromViper(v)
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Default returns the built-in configuration without consulting the environment.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	cfg, _ := fromViper(v)
	return cfg
}

func fromViper(v *viper.Viper) (Config, error) {
	tolls, err := tollFees(v.GetStringMap("cost.toll_fees"))
	if err != nil {
		return Config{}, err
	}
	return Config{
		Port:         v.GetString("port"),
		LogLevel:     v.GetString("log.level"),
		LogFormat:    v.GetString("log.format"),
		AllowOrigins: v.GetString("allow_origins"),
		RateRPS:      v.GetFloat64("rate.rps"),
		RateBurst:    v.GetInt("rate.burst"),
		DatabaseURL:  v.GetString("database_url"),
		DBMigrate:    v.GetBool("db.migrate"),
		RedisURL:     v.GetString("redis_url"),
		Network: NetworkConfig{
			Source:       strings.ToLower(v.GetString("network.source")),
			File:         v.GetString("network.file"),
			VehiclesFile: v.GetString("network.vehicles_file"),
			SnapRadiusKm: v.GetFloat64("network.snap_radius_km"),
			Neo4jURL:     v.GetString("network.neo4j_url"),
			Neo4jUser:    v.GetString("network.neo4j_user"),
			Neo4jPass:    v.GetString("network.neo4j_pass"),
		},
		Engine: EngineConfig{
			RequestTimeout:    v.GetDuration("engine.request_timeout"),
			MaxCandidates:     v.GetInt("engine.max_candidates"),
			MaxSharedFraction: v.GetFloat64("engine.max_shared_fraction"),
			PenaltyFactor:     v.GetFloat64("engine.penalty_factor"),
			ScoringWorkers:    v.GetInt("engine.scoring_workers"),
		},
		Cost: CostConfig{
			FuelPrice:        v.GetFloat64("cost.fuel_price"),
			DriverHourlyRate: v.GetFloat64("cost.driver_hourly_rate"),
			RestDuration:     v.GetDuration("cost.rest_duration"),
			TollFees:         tolls,
		},
		Prediction: PredictionConfig{
			Source:          strings.ToLower(v.GetString("prediction.source")),
			URL:             v.GetString("prediction.url"),
			Timeout:         v.GetDuration("prediction.timeout"),
			RetryBackoff:    v.GetDuration("prediction.retry_backoff"),
			MaxAge:          v.GetDuration("prediction.max_age"),
			MinConfidence:   v.GetFloat64("prediction.min_confidence"),
			RateRPS:         v.GetFloat64("prediction.rate_rps"),
			NATSURL:         v.GetString("prediction.nats_url"),
			NATSSubject:     v.GetString("prediction.nats_subject"),
			BreakerFailures: v.GetInt("prediction.breaker_failures"),
			BreakerCooldown: v.GetDuration("prediction.breaker_cooldown"),
		},
		Ranking: RankingConfig{
			CostWeight: v.GetFloat64("ranking.cost_weight"),
			TimeWeight: v.GetFloat64("ranking.time_weight"),
			RiskWeight: v.GetFloat64("ranking.risk_weight"),
		},
		Recommend: RecommendConfig{
			AltCostThreshold: v.GetFloat64("recommend.alt_cost_threshold"),
			PeakMagnitude:    v.GetFloat64("recommend.peak_magnitude"),
		},
		Auth: AuthConfig{
			Mode:        strings.ToLower(v.GetString("auth.mode")),
			HMACSecret:  v.GetString("auth.hmac_secret"),
			JWKSURL:     v.GetString("auth.jwks_url"),
			TenantClaim: v.GetString("auth.tenant_claim"),
			RoleClaim:   v.GetString("auth.role_claim"),
		},
		Webhook: WebhookConfig{
			URLs:        splitList(v.GetString("webhook.urls")),
			Secret:      v.GetString("webhook.secret"),
			MaxAttempts: v.GetInt("webhook.max_attempts"),
		},
	}, nil
}

func tollFees(raw map[string]any) (map[int]float64, error) {
	out := make(map[int]float64, len(raw))
	for k, val := range raw {
		class, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("config: toll class %q is not an integer", k)
		}
		fee, err := cast.ToFloat64E(val)
		if err != nil {
			return nil, fmt.Errorf("config: toll fee for class %d: %w", class, err)
		}
		out[class] = fee
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(strings.TrimSpace(c.Port) != "", "port must be set")
	check(c.RateRPS >= 0, "rate.rps must be >= 0, got %v", c.RateRPS)
	check(oneOf(c.Network.Source, "embedded", "file", "postgres", "neo4j"), "network.source %q is not one of embedded,file,postgres,neo4j", c.Network.Source)
	check(c.Network.Source != "file" || c.Network.File != "", "network.file is required when network.source=file")
	check(c.Network.Source != "postgres" || c.DatabaseURL != "", "database_url is required when network.source=postgres")
	check(c.Network.Source != "neo4j" || c.Network.Neo4jURL != "", "network.neo4j_url is required when network.source=neo4j")
	check(c.Network.SnapRadiusKm > 0, "network.snap_radius_km must be > 0")

	check(c.Engine.RequestTimeout > 0, "engine.request_timeout must be > 0")
	check(c.Engine.MaxCandidates >= 1, "engine.max_candidates must be >= 1")
	check(c.Engine.MaxSharedFraction > 0 && c.Engine.MaxSharedFraction <= 1, "engine.max_shared_fraction must be in (0,1]")
	check(c.Engine.PenaltyFactor > 1, "engine.penalty_factor must be > 1")
	check(c.Engine.ScoringWorkers >= 1, "engine.scoring_workers must be >= 1")

	check(c.Cost.RestDuration >= 0, "cost.rest_duration must be >= 0")

	check(oneOf(c.Prediction.Source, "none", "http", "redis", "nats"), "prediction.source %q is not one of none,http,redis,nats", c.Prediction.Source)
	check(c.Prediction.Source != "http" || c.Prediction.URL != "", "prediction.url is required when prediction.source=http")
	check(c.Prediction.Source != "redis" || c.RedisURL != "", "redis_url is required when prediction.source=redis")
	check(c.Prediction.Source != "nats" || c.Prediction.NATSURL != "", "prediction.nats_url is required when prediction.source=nats")
	check(c.Prediction.Timeout > 0, "prediction.timeout must be > 0")
	check(c.Prediction.MaxAge > 0, "prediction.max_age must be > 0")
	check(c.Prediction.MinConfidence >= 0 && c.Prediction.MinConfidence <= 1, "prediction.min_confidence must be in [0,1]")

	w := c.Ranking
	check(finiteNonNeg(w.CostWeight) && finiteNonNeg(w.TimeWeight) && finiteNonNeg(w.RiskWeight), "ranking weights must be finite and >= 0")
	check(w.CostWeight+w.TimeWeight+w.RiskWeight > 0, "ranking weights must not all be zero")

	check(c.Recommend.AltCostThreshold >= 0, "recommend.alt_cost_threshold must be >= 0")
	check(oneOf(c.Auth.Mode, "dev", "hmac", "jwks"), "auth.mode %q is not one of dev,hmac,jwks", c.Auth.Mode)
	check(c.Webhook.MaxAttempts >= 1, "webhook.max_attempts must be >= 1")

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: %w", errors.Join(errs...))
}

// TollClasses returns the configured toll classes in ascending order.
func (c CostConfig) TollClasses() []int {
	out := make([]int, 0, len(c.TollFees))
	for k := range c.TollFees {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func finiteNonNeg(f float64) bool { return f >= 0 && !math.IsInf(f, 0) && !math.IsNaN(f) }
