package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"WxEdge/pkg/util"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // json or console
		Output string `yaml:"output"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Engine struct {
		MinEdge       float64 `yaml:"min_edge"`
		MaxEdge       float64 `yaml:"max_edge"`
		FeeRate       float64 `yaml:"fee_rate"`
		MinStdDev     float64 `yaml:"min_std_dev"`
		MaxStdDev     float64 `yaml:"max_std_dev"`
		DefaultStdDev float64 `yaml:"default_std_dev"`
	} `yaml:"engine"`
	Weather struct {
		OpenMeteoBase    string        `yaml:"open_meteo_base"`
		OpenMeteoArchive string        `yaml:"open_meteo_archive"`
		NWSAPIBase       string        `yaml:"nws_api_base"`
		NWSUserAgent     string        `yaml:"nws_user_agent"`
		IEMAFOSBase      string        `yaml:"iem_afos_base"`
		DSMProductBase   string        `yaml:"dsm_product_base"`
		RequestTimeout   time.Duration `yaml:"request_timeout"`
		ForecastDays     int           `yaml:"forecast_days"`
	} `yaml:"weather"`
	Kalshi struct {
		APIBase        string        `yaml:"api_base"`
		WebSocketURL   string        `yaml:"websocket_url"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		PingInterval   time.Duration `yaml:"ping_interval"`
	} `yaml:"kalshi"`
	Cities []struct {
		Name       string  `yaml:"name"`
		Code       string  `yaml:"code"`
		StationID  string  `yaml:"station_id"`
		Latitude   float64 `yaml:"latitude"`
		Longitude  float64 `yaml:"longitude"`
		Timezone   string  `yaml:"timezone"`
		HighTicker string  `yaml:"high_ticker"`
		LowTicker  string  `yaml:"low_ticker"`
		WFO        string  `yaml:"wfo"`
	} `yaml:"cities"`
	Storage struct {
		Driver string `yaml:"driver"`
	} `yaml:"storage"`
	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		LogsTopic    string   `yaml:"logs_topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Cache struct {
		Backend     string        `yaml:"backend"` // memory, redis, or layered
		ForecastTTL time.Duration `yaml:"forecast_ttl"`
		AnalysisTTL time.Duration `yaml:"analysis_ttl"`
		MarketTTL   time.Duration `yaml:"market_ttl"`
		Redis       struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	Queue struct {
		Enabled      bool          `yaml:"enabled"`
		Workers      int           `yaml:"workers"`
		RetryLimit   int           `yaml:"retry_limit"`
		RetryDelay   time.Duration `yaml:"retry_delay"`
		VerifyOnBoot bool          `yaml:"verify_on_boot"` // enqueue yesterday's settlement checks at startup
	} `yaml:"queue"`
	Alerts struct {
		Enabled       bool          `yaml:"enabled"`
		Cooldown      time.Duration `yaml:"cooldown"`
		MinConfidence float64       `yaml:"min_confidence"`
	} `yaml:"alerts"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("KALSHI_API_BASE"); v != "" {
		c.Kalshi.APIBase = v
	}
	if v := os.Getenv("NWS_USER_AGENT"); v != "" {
		c.Weather.NWSUserAgent = v
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Cache.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		c.Cache.Redis.Port = util.ParseIntDefault(v, c.Cache.Redis.Port)
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		c.Server.Port = util.ParseIntDefault(v, c.Server.Port)
	}
	if v := os.Getenv("ENGINE_MIN_EDGE"); v != "" {
		c.Engine.MinEdge = util.ParseFloatDefault(v, c.Engine.MinEdge)
	}

	return c, nil
}

// applyDefaults fills zero values so a minimal config file still yields a
// working service. Engine tunables match Kalshi's fee schedule and the
// climatological spread of daily highs.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Engine.MinEdge == 0 {
		c.Engine.MinEdge = 0.08
	}
	if c.Engine.MaxEdge == 0 {
		c.Engine.MaxEdge = 0.40
	}
	if c.Engine.FeeRate == 0 {
		c.Engine.FeeRate = 0.10
	}
	if c.Engine.MinStdDev == 0 {
		c.Engine.MinStdDev = 1.5
	}
	if c.Engine.MaxStdDev == 0 {
		c.Engine.MaxStdDev = 10.0
	}
	if c.Engine.DefaultStdDev == 0 {
		c.Engine.DefaultStdDev = 2.5
	}

	if c.Weather.OpenMeteoBase == "" {
		c.Weather.OpenMeteoBase = "https://api.open-meteo.com"
	}
	if c.Weather.OpenMeteoArchive == "" {
		c.Weather.OpenMeteoArchive = "https://archive-api.open-meteo.com"
	}
	if c.Weather.NWSAPIBase == "" {
		c.Weather.NWSAPIBase = "https://api.weather.gov"
	}
	if c.Weather.NWSUserAgent == "" {
		c.Weather.NWSUserAgent = "KalshiWeatherBot/1.0 (github.com/kalshi-weather-bot)"
	}
	if c.Weather.IEMAFOSBase == "" {
		c.Weather.IEMAFOSBase = "https://mesonet.agron.iastate.edu/cgi-bin/afos/retrieve.py"
	}
	if c.Weather.DSMProductBase == "" {
		c.Weather.DSMProductBase = "https://forecast.weather.gov/product.php"
	}
	if c.Weather.RequestTimeout == 0 {
		c.Weather.RequestTimeout = 10 * time.Second
	}
	if c.Weather.ForecastDays == 0 {
		c.Weather.ForecastDays = 14
	}

	if c.Kalshi.APIBase == "" {
		c.Kalshi.APIBase = "https://api.elections.kalshi.com/trade-api/v2"
	}
	if c.Kalshi.WebSocketURL == "" {
		c.Kalshi.WebSocketURL = "wss://api.elections.kalshi.com/trade-api/ws/v2"
	}
	if c.Kalshi.RequestTimeout == 0 {
		c.Kalshi.RequestTimeout = 10 * time.Second
	}
	if c.Kalshi.ReconnectDelay == 0 {
		c.Kalshi.ReconnectDelay = 5 * time.Second
	}
	if c.Kalshi.PingInterval == 0 {
		c.Kalshi.PingInterval = 10 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.Redis.Host == "" {
		c.Cache.Redis.Host = "localhost"
	}
	if c.Cache.Redis.Port == 0 {
		c.Cache.Redis.Port = 6379
	}
	if c.Cache.ForecastTTL == 0 {
		c.Cache.ForecastTTL = 10 * time.Minute
	}
	if c.Cache.AnalysisTTL == 0 {
		c.Cache.AnalysisTTL = 30 * time.Second
	}
	if c.Cache.MarketTTL == 0 {
		c.Cache.MarketTTL = 5 * time.Minute
	}

	if c.SQLite.Path == "" {
		c.SQLite.Path = "wxedge.db"
	}

	if c.ClickHouse.DialTimeout == 0 {
		c.ClickHouse.DialTimeout = 5 * time.Second
	}
	if c.ClickHouse.ReadTimeout == 0 {
		c.ClickHouse.ReadTimeout = 10 * time.Second
	}
	if c.ClickHouse.WriteTimeout == 0 {
		c.ClickHouse.WriteTimeout = 10 * time.Second
	}
	if c.ClickHouse.MaxExecutionTime == 0 {
		c.ClickHouse.MaxExecutionTime = time.Minute
	}

	if c.Alerts.Cooldown == 0 {
		c.Alerts.Cooldown = 30 * time.Minute
	}
	if c.Alerts.MinConfidence == 0 {
		c.Alerts.MinConfidence = 0.5
	}

	if c.Queue.Workers == 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.RetryLimit == 0 {
		c.Queue.RetryLimit = 5
	}
	if c.Queue.RetryDelay == 0 {
		c.Queue.RetryDelay = 15 * time.Minute
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Storage.Driver == "" {
		return fmt.Errorf("storage.driver is required")
	}
	if c.Storage.Driver != "clickhouse" && c.Storage.Driver != "sqlite" {
		return fmt.Errorf("storage.driver must be 'clickhouse' or 'sqlite', got '%s'", c.Storage.Driver)
	}
	if c.Engine.FeeRate < 0 || c.Engine.FeeRate >= 1 {
		return fmt.Errorf("engine.fee_rate must be in [0, 1), got %v", c.Engine.FeeRate)
	}
	if c.Engine.MinStdDev <= 0 {
		return fmt.Errorf("engine.min_std_dev must be positive, got %v", c.Engine.MinStdDev)
	}
	if c.Engine.MaxStdDev < c.Engine.MinStdDev {
		return fmt.Errorf("engine.max_std_dev must be >= engine.min_std_dev")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	switch c.Cache.Backend {
	case "", "memory", "redis", "layered":
	default:
		return fmt.Errorf("cache.backend must be 'memory', 'redis', or 'layered', got '%s'", c.Cache.Backend)
	}
	if c.Queue.Enabled && c.Cache.Backend == "memory" {
		return fmt.Errorf("queue requires the redis or layered cache backend")
	}
	for i, city := range c.Cities {
		if city.Code == "" {
			return fmt.Errorf("cities[%d].code is required", i)
		}
		if city.Timezone == "" {
			return fmt.Errorf("cities[%d].timezone is required", i)
		}
	}
	return nil
}
