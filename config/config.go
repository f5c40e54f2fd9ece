package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"oddsharvest/models"
)

type Config struct {
	Env       string
	LogLevel  string
	LogFile   string
	Proxy     ProxyConfig
	Provider  ProviderConfig
	Fetch     FetchConfig
	Crawl     CrawlConfig
	Scheduler SchedulerConfig
	Store     StoreConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	S3        S3Config
	HTTPAddr  string
	ConfigDir string

	Sports     map[string]*SportConfig
	Bookmakers map[string]models.BookmakerClass
}

type ProxyConfig struct {
	URL string
}

type ProviderConfig struct {
	SiteBaseURL  string
	FeedBaseURL  string
	ScoreBaseURL string
}

type FetchConfig struct {
	MaxTries     int
	Delay        time.Duration
	RPS          float64
	ErrorMarkers []string // added to the fetcher's defaults
}

type CrawlConfig struct {
	Timeout          time.Duration
	Workers          int
	SweepLimit       int
	ErrorBackoff     time.Duration
	HistoryRetention time.Duration
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type StoreConfig struct {
	Backend     string // sqlite, postgres or memory
	DBPath      string
	DatabaseURL string
}

type RedisConfig struct {
	Addr string
	TTL  time.Duration
}

type KafkaConfig struct {
	Brokers string
	Topic   string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// SportConfig is loaded from config/sports/*.yaml
type SportConfig struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	DaysAhead int            `yaml:"days_ahead"`
	Markets   []MarketConfig `yaml:"markets"`
}

// MarketConfig is one bet type/scope feed to crawl for every fixture of a sport
type MarketConfig struct {
	BetType models.BetType `yaml:"bt"`
	Scope   models.Scope   `yaml:"sc"`
}

type bookmakersFile struct {
	Bookmakers []struct {
		ID    string                `yaml:"id"`
		Name  string                `yaml:"name"`
		Class models.BookmakerClass `yaml:"class"`
	} `yaml:"bookmakers"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "local"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", "daemon.log"),
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		Provider: ProviderConfig{
			SiteBaseURL:  getEnv("SITE_BASE_URL", "https://www.oddsportal.com"),
			FeedBaseURL:  getEnv("FEED_BASE_URL", "https://www.oddsportal.com/feed/match-event/1-1"),
			ScoreBaseURL: getEnv("SCORE_BASE_URL", "https://www.oddsportal.com/feed/postmatchscore/1"),
		},
		Fetch: FetchConfig{
			MaxTries:     getEnvInt("FETCH_MAX_TRIES", 3),
			Delay:        getEnvDuration("FETCH_DELAY", 2*time.Second),
			RPS:          getEnvFloat("FETCH_RPS", 2),
			ErrorMarkers: getEnvList("FETCH_ERROR_MARKERS"),
		},
		Crawl: CrawlConfig{
			Timeout:          getEnvDuration("CRAWL_TIMEOUT", 2*time.Minute),
			Workers:          getEnvInt("CRAWL_WORKERS", 4),
			SweepLimit:       getEnvInt("SWEEP_LIMIT", 200),
			ErrorBackoff:     getEnvDuration("ERROR_BACKOFF", time.Hour),
			HistoryRetention: getEnvDuration("HISTORY_RETENTION", 0),
		},
		Scheduler: SchedulerConfig{
			Interval: getEnvDuration("SCRAPE_INTERVAL", 5*time.Minute),
			Cron:     os.Getenv("SCRAPE_CRON"),
		},
		Store: StoreConfig{
			Backend:     getEnv("STORE_BACKEND", "sqlite"),
			DBPath:      getEnv("DB_PATH", "oddsharvest.db"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			Addr: os.Getenv("REDIS_ADDR"),
			TTL:  getEnvDuration("REDIS_TTL", 6*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers: os.Getenv("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_TOPIC", "markets.settled"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		HTTPAddr:   getEnv("HTTP_ADDR", ":8090"),
		ConfigDir:  getEnv("CONFIG_DIR", "config"),
		Sports:     make(map[string]*SportConfig),
		Bookmakers: make(map[string]models.BookmakerClass),
	}

	if err := cfg.loadSportConfigs(); err != nil {
		return nil, err
	}
	if err := cfg.loadBookmakers(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadSportConfigs() error {
	dir := filepath.Join(c.ConfigDir, "sports")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var sport SportConfig
		if err := yaml.Unmarshal(data, &sport); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if sport.ID == "" {
			return fmt.Errorf("%s: missing sport id", path)
		}

		c.Sports[sport.ID] = &sport
	}

	return nil
}

func (c *Config) loadBookmakers() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "bookmakers.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var file bookmakersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("bookmakers.yaml: %w", err)
	}
	for _, b := range file.Bookmakers {
		c.Bookmakers[b.ID] = b.Class
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvList splits a comma separated value, dropping empty items
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
