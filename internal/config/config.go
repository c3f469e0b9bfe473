package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the whole pipeline configuration. It is built once in main and
// handed to every component constructor.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Database  DatabaseConfig  `yaml:"database"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Lake      LakeConfig      `yaml:"lake"`
	Extract   ExtractConfig   `yaml:"extract"`
	Enrich    EnrichConfig    `yaml:"enrich"`
	Detect    DetectConfig    `yaml:"detect"`
	Transform TransformConfig `yaml:"transform"`
	Explain   ExplainConfig   `yaml:"explain"`
	State     StateConfig     `yaml:"state"`
	Server    ServerConfig    `yaml:"server"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Notify    NotifyConfig    `yaml:"notify"`
	Log       LogConfig       `yaml:"log"`
}

// TelegramConfig contains the MTProto application credentials.
type TelegramConfig struct {
	APIID       int    `yaml:"api_id"`
	APIHash     string `yaml:"api_hash"`
	Phone       string `yaml:"phone"`
	Password    string `yaml:"password"`
	SessionFile string `yaml:"session_file"`
	// SessionKey, when set, encrypts the session file.
	SessionKey string `yaml:"session_key"`
	// Source selects the message source: "mtproto" or "web" (public preview pages).
	Source     string `yaml:"source"`
	WebBaseURL string `yaml:"web_base_url"`
}

// DatabaseConfig contains the warehouse connection parameters.
type DatabaseConfig struct {
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	Host          string `yaml:"host"`
	Port          string `yaml:"port"`
	Name          string `yaml:"name"`
	SSLMode       string `yaml:"sslmode"`
	MaintenanceDB string `yaml:"maintenance_db"`
}

type WarehouseConfig struct {
	RawSchema       string `yaml:"raw_schema"`
	ProcessedSchema string `yaml:"processed_schema"`
	MessagesTable   string `yaml:"messages_table"`
	EnrichedTable   string `yaml:"enriched_table"`
	DetectionsTable string `yaml:"detections_table"`
}

// LakeConfig describes the directory layout of the raw file lake.
type LakeConfig struct {
	BaseDir        string        `yaml:"base_dir"`
	MessagesSubdir string        `yaml:"messages_subdir"`
	ImagesSubdir   string        `yaml:"images_subdir"`
	Archive        ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig configures the optional S3-compatible mirror of the lake.
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type ExtractConfig struct {
	Channels  []string        `yaml:"channels"`
	Limit     int             `yaml:"limit"`
	Cutoff    string          `yaml:"cutoff"`
	PageSize  int             `yaml:"page_size"`
	FloodWait FloodWaitConfig `yaml:"flood_wait"`
}

// FloodWaitConfig bounds the retry policy applied when the upstream service
// asks the client to slow down. Zero values mean "no limit".
type FloodWaitConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Jitter     float64       `yaml:"jitter"`
	MaxElapsed time.Duration `yaml:"max_elapsed"`
}

type EnrichConfig struct {
	Enabled           bool     `yaml:"enabled"`
	TranslateAPIKey   string   `yaml:"translate_api_key"`
	TargetLanguage    string   `yaml:"target_language"`
	GeminiAPIKey      string   `yaml:"gemini_api_key"`
	GeminiModel       string   `yaml:"gemini_model"`
	SentimentURL      string   `yaml:"sentiment_url"`
	SentimentToken    string   `yaml:"sentiment_token"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
	CacheTTL          string   `yaml:"cache_ttl"`
	Labels            []string `yaml:"labels"`
}

type DetectConfig struct {
	Endpoint  string `yaml:"endpoint"`
	InputSize int    `yaml:"input_size"`
	OutputCSV string `yaml:"output_csv"`
}

type TransformConfig struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Dir     string        `yaml:"dir"`
	Timeout time.Duration `yaml:"timeout"`
}

type ExplainConfig struct {
	Enabled      bool     `yaml:"enabled"`
	ModelPath    string   `yaml:"model_path"`
	FeaturesPath string   `yaml:"features_path"`
	Features     []string `yaml:"features"`
	// ClassIndex selects the class slice of multiclass attributions. Nil means 1.
	ClassIndex *int   `yaml:"class_index"`
	OutputDir  string `yaml:"output_dir"`
}

type StateConfig struct {
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Port      string `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
}

type ScheduleConfig struct {
	Spec string `yaml:"spec"`
}

type NotifyConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig reads the YAML configuration at path. A .env file next to the
// working directory is loaded first so ${VAR} references in secrets resolve.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := &Config{}
	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	cfg.expandEnv()
	cfg.setDefaults()

	return cfg, nil
}

// Default returns a configuration populated only with defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) expandEnv() {
	c.Telegram.APIHash = os.ExpandEnv(c.Telegram.APIHash)
	c.Telegram.Phone = os.ExpandEnv(c.Telegram.Phone)
	c.Telegram.Password = os.ExpandEnv(c.Telegram.Password)
	c.Telegram.SessionKey = os.ExpandEnv(c.Telegram.SessionKey)
	c.Database.User = os.ExpandEnv(c.Database.User)
	c.Database.Password = os.ExpandEnv(c.Database.Password)
	c.Database.Host = os.ExpandEnv(c.Database.Host)
	c.Lake.Archive.AccessKey = os.ExpandEnv(c.Lake.Archive.AccessKey)
	c.Lake.Archive.SecretKey = os.ExpandEnv(c.Lake.Archive.SecretKey)
	c.Enrich.TranslateAPIKey = os.ExpandEnv(c.Enrich.TranslateAPIKey)
	c.Enrich.GeminiAPIKey = os.ExpandEnv(c.Enrich.GeminiAPIKey)
	c.Enrich.SentimentToken = os.ExpandEnv(c.Enrich.SentimentToken)
	c.Server.JWTSecret = os.ExpandEnv(c.Server.JWTSecret)
	c.Notify.BotToken = os.ExpandEnv(c.Notify.BotToken)

	// api_id is numeric in YAML; allow it to come from the environment too.
	if c.Telegram.APIID == 0 {
		if v, err := strconv.Atoi(os.Getenv("TG_API_ID")); err == nil {
			c.Telegram.APIID = v
		}
	}
}

func (c *Config) setDefaults() {
	if c.Telegram.SessionFile == "" {
		c.Telegram.SessionFile = "session.json"
	}
	if c.Telegram.Source == "" {
		c.Telegram.Source = SourceMTProto
	}
	if c.Telegram.WebBaseURL == "" {
		c.Telegram.WebBaseURL = "https://t.me"
	}

	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == "" {
		c.Database.Port = "5432"
	}
	if c.Database.Name == "" {
		c.Database.Name = "medical_warehouse"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaintenanceDB == "" {
		c.Database.MaintenanceDB = "postgres"
	}

	if c.Warehouse.RawSchema == "" {
		c.Warehouse.RawSchema = "raw"
	}
	if c.Warehouse.ProcessedSchema == "" {
		c.Warehouse.ProcessedSchema = "processed"
	}
	if c.Warehouse.MessagesTable == "" {
		c.Warehouse.MessagesTable = "telegram_messages"
	}
	if c.Warehouse.EnrichedTable == "" {
		c.Warehouse.EnrichedTable = "enriched_messages"
	}
	if c.Warehouse.DetectionsTable == "" {
		c.Warehouse.DetectionsTable = "image_analysis"
	}

	if c.Lake.BaseDir == "" {
		c.Lake.BaseDir = "./data"
	}
	if c.Lake.MessagesSubdir == "" {
		c.Lake.MessagesSubdir = "raw/telegram_messages"
	}
	if c.Lake.ImagesSubdir == "" {
		c.Lake.ImagesSubdir = "raw/images"
	}
	if c.Lake.Archive.Bucket == "" {
		c.Lake.Archive.Bucket = "telegram-lake"
	}

	if c.Extract.Limit == 0 && c.Extract.Cutoff == "" {
		c.Extract.Limit = DefaultMessageLimit
	}
	if c.Extract.PageSize == 0 {
		c.Extract.PageSize = 100
	}

	if c.Enrich.TargetLanguage == "" {
		c.Enrich.TargetLanguage = "en"
	}
	if c.Enrich.GeminiModel == "" {
		c.Enrich.GeminiModel = "gemini-2.0-flash-exp"
	}
	if c.Enrich.SentimentURL == "" {
		c.Enrich.SentimentURL = "https://api-inference.huggingface.co/models/distilbert-base-uncased-finetuned-sst-2-english"
	}
	if c.Enrich.RequestsPerMinute == 0 {
		c.Enrich.RequestsPerMinute = 60
	}
	if c.Enrich.CacheTTL == "" {
		c.Enrich.CacheTTL = "1h"
	}
	if len(c.Enrich.Labels) == 0 {
		c.Enrich.Labels = []string{"Promotion", "Stock Update", "Educational", "Product Display", "Medical Inquiry"}
	}

	if c.Detect.InputSize == 0 {
		c.Detect.InputSize = 640
	}
	if c.Detect.OutputCSV == "" {
		c.Detect.OutputCSV = filepath.Join(c.Lake.BaseDir, "image_detections.csv")
	}

	if c.Transform.Command == "" {
		c.Transform.Command = "dbt"
	}
	if len(c.Transform.Args) == 0 {
		c.Transform.Args = []string{"run"}
	}
	if c.Transform.Dir == "" {
		c.Transform.Dir = "medical_dbt"
	}
	if c.Transform.Timeout == 0 {
		c.Transform.Timeout = 30 * time.Minute
	}

	if c.Explain.ModelPath == "" {
		c.Explain.ModelPath = filepath.Join(c.Lake.BaseDir, "models", "classifier.json")
	}
	if c.Explain.FeaturesPath == "" {
		c.Explain.FeaturesPath = filepath.Join(c.Lake.BaseDir, "raw", "processed_data.csv")
	}
	if len(c.Explain.Features) == 0 {
		c.Explain.Features = []string{"n_persons", "n_bottles", "n_pills", "view_count"}
	}
	if c.Explain.ClassIndex == nil {
		idx := 1
		c.Explain.ClassIndex = &idx
	}
	if c.Explain.OutputDir == "" {
		c.Explain.OutputDir = filepath.Join(c.Lake.BaseDir, "results")
	}

	if c.State.Path == "" {
		c.State.Path = filepath.Join(c.Lake.BaseDir, "pipeline_state.db")
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Schedule.Spec == "" {
		c.Schedule.Spec = "0 2 * * *"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

const (
	SourceMTProto = "mtproto"
	SourceWeb     = "web"

	DefaultMessageLimit = 1000
)

// Needs tells Validate which parts of the configuration the caller depends on.
type Needs struct {
	Telegram bool
	Database bool
}

// ErrMissingCredentials is returned by Validate when a required secret is empty.
var ErrMissingCredentials = errors.New("missing credentials")

// Validate checks that the credentials required by the current command exist.
func (c *Config) Validate(needs Needs) error {
	if needs.Telegram && c.Telegram.Source == SourceMTProto {
		if c.Telegram.APIID == 0 || c.Telegram.APIHash == "" {
			return fmt.Errorf("telegram api_id/api_hash: %w", ErrMissingCredentials)
		}
	}
	if needs.Telegram && c.Telegram.Source != SourceMTProto && c.Telegram.Source != SourceWeb {
		return fmt.Errorf("unknown telegram source %q", c.Telegram.Source)
	}
	if needs.Database && (c.Database.User == "" || c.Database.Name == "") {
		return fmt.Errorf("database user/name: %w", ErrMissingCredentials)
	}
	if c.Extract.Cutoff != "" {
		if _, err := c.CutoffTime(); err != nil {
			return err
		}
	}
	return nil
}

// CutoffTime parses extract.cutoff. Both a plain date (UTC midnight) and an
// RFC3339 timestamp are accepted. The zero time means no cutoff.
func (c *Config) CutoffTime() (time.Time, error) {
	return ParseCutoff(c.Extract.Cutoff)
}

// ParseCutoff parses a cutoff given as YYYY-MM-DD or RFC3339.
func ParseCutoff(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cutoff %q: %w", s, err)
	}
	return t, nil
}

// DSN returns the lib/pq key/value connection string for the warehouse database.
func (c *Config) DSN() string {
	return c.dsn(c.Database.Name)
}

// MaintenanceDSN points at the engine's default maintenance database, used to
// create the warehouse database when it is missing.
func (c *Config) MaintenanceDSN() string {
	return c.dsn(c.Database.MaintenanceDB)
}

func (c *Config) dsn(dbName string) string {
	pairs := []struct{ key, value string }{
		{"host", c.Database.Host},
		{"port", c.Database.Port},
		{"user", c.Database.User},
		{"password", c.Database.Password},
		{"dbname", dbName},
		{"sslmode", c.Database.SSLMode},
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.key+"="+quoteDSNValue(p.value))
	}
	return strings.Join(parts, " ")
}

// quoteDSNValue single-quotes a key/value connection parameter so empty values
// and values with spaces or quotes survive parsing.
func quoteDSNValue(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// DatabaseURL returns the warehouse connection string in URL form.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     c.Database.Host + ":" + c.Database.Port,
		Path:     "/" + c.Database.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.Database.SSLMode),
	}
	return u.String()
}
