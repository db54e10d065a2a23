package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/pdfme/dms-pipeline/pkg/cache"
	"github.com/pdfme/dms-pipeline/pkg/database"
	minioPkg "github.com/pdfme/dms-pipeline/pkg/minio"
	"github.com/pdfme/dms-pipeline/pkg/ocr"
	"github.com/pdfme/dms-pipeline/pkg/poller"
	"github.com/pdfme/dms-pipeline/pkg/rabbitmq"
	"github.com/pdfme/dms-pipeline/pkg/reconciler"
	"github.com/pdfme/dms-pipeline/pkg/summarizer"
)

type Config struct {
	Rabbit    RabbitConfig    `mapstructure:"rabbit"`
	S3        S3Config        `mapstructure:"s3"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	OCR       OCRConfig       `mapstructure:"ocr"`
	GenAI     GenAIConfig     `mapstructure:"genai"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
}

type RabbitConfig struct {
	URL            string        `mapstructure:"url"`
	Host           string        `mapstructure:"host"`
	User           string        `mapstructure:"user"`
	Pass           string        `mapstructure:"pass"`
	Queue          string        `mapstructure:"queue"`
	Prefetch       int           `mapstructure:"prefetch"`
	EnableDLQ      bool          `mapstructure:"enable_dlq"`
	ConnectRetries int           `mapstructure:"connect_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DB       string `mapstructure:"db"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxPool  int    `mapstructure:"max_pool"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type OCRConfig struct {
	Languages      string        `mapstructure:"langs"`
	DPI            int           `mapstructure:"dpi"`
	TessdataPrefix string        `mapstructure:"tessdata_prefix"`
	ToolTimeout    time.Duration `mapstructure:"tool_timeout"`
	PageWorkers    int           `mapstructure:"page_workers"`
	Recognizer     string        `mapstructure:"recognizer"`
	Ghostscript    string        `mapstructure:"ghostscript"`
	Tesseract      string        `mapstructure:"tesseract"`
}

type GenAIConfig struct {
	Provider      string        `mapstructure:"provider"`
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	BaseURL       string        `mapstructure:"base_url"`
	Project       string        `mapstructure:"project"`
	Location      string        `mapstructure:"location"`
	Prompt        string        `mapstructure:"prompt"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	ErrorBackoff  time.Duration `mapstructure:"error_backoff"`
	MaxInputChars int           `mapstructure:"max_input_chars"`
}

type ReconcileConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	MinAge     time.Duration `mapstructure:"min_age"`
	BatchSize  int           `mapstructure:"batch_size"`
	RequeueTTL time.Duration `mapstructure:"requeue_ttl"`
	RateLimit  int           `mapstructure:"rate_limit"`
}

type HTTPConfig struct {
	Addr           string `mapstructure:"addr"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// setting is one configuration key with its default and the environment
// variables that may set it, first match wins.
type setting struct {
	key  string
	def  any
	envs []string
}

var settings = []setting{
	{"rabbit.url", "", []string{"RABBITMQ_URL"}},
	{"rabbit.host", "localhost", []string{"RABBIT_HOST"}},
	{"rabbit.user", "guest", []string{"RABBIT_USER"}},
	{"rabbit.pass", "guest", []string{"RABBIT_PASS"}},
	{"rabbit.queue", rabbitmq.DefaultQueue, []string{"RABBIT_QUEUE", "QUEUE_NAME"}},
	{"rabbit.prefetch", 1, []string{"RABBIT_PREFETCH"}},
	{"rabbit.enable_dlq", true, []string{"RABBIT_ENABLE_DLQ"}},
	{"rabbit.connect_retries", 5, []string{"RABBIT_CONNECT_RETRIES"}},
	{"rabbit.retry_delay", 5 * time.Second, []string{"RABBIT_RETRY_DELAY"}},

	{"s3.endpoint", "localhost:9000", []string{"GARAGE_S3_ENDPOINT", "MINIO_ENDPOINT"}},
	{"s3.region", "us-east-1", []string{"GARAGE_S3_REGION", "MINIO_REGION"}},
	{"s3.bucket", "documents", []string{"GARAGE_S3_BUCKET", "BUCKET_NAME"}},
	{"s3.access_key", "", []string{"GARAGE_S3_ACCESS_KEY", "MINIO_ROOT_USER"}},
	{"s3.secret_key", "", []string{"GARAGE_S3_SECRET_KEY", "MINIO_ROOT_PASSWORD"}},
	{"s3.use_ssl", false, []string{"MINIO_USE_SSL"}},

	{"postgres.dsn", "", []string{"DB_CONNECTION", "DATABASE_URL"}},
	{"postgres.host", "localhost", []string{"POSTGRES_HOST"}},
	{"postgres.port", "5432", []string{"POSTGRES_PORT"}},
	{"postgres.user", "dms", []string{"POSTGRES_USER"}},
	{"postgres.password", "", []string{"POSTGRES_PASSWORD"}},
	{"postgres.db", "dms", []string{"POSTGRES_DB"}},
	{"postgres.sslmode", "disable", []string{"POSTGRES_SSLMODE"}},
	{"postgres.max_pool", 10, []string{"POSTGRES_MAX_POOL_SIZE"}},

	{"redis.host", "localhost", []string{"REDIS_HOST"}},
	{"redis.port", "6379", []string{"REDIS_PORT"}},
	{"redis.password", "", []string{"REDIS_PASSWORD"}},
	{"redis.db", 0, []string{"REDIS_DB"}},

	{"ocr.langs", ocr.DefaultLanguages, []string{"OCR_LANG"}},
	{"ocr.dpi", ocr.DefaultDPI, []string{"OCR_DPI"}},
	{"ocr.tessdata_prefix", "", []string{"TESSDATA_PREFIX"}},
	{"ocr.tool_timeout", ocr.DefaultToolTimeout, []string{"OCR_TOOL_TIMEOUT"}},
	{"ocr.page_workers", 1, []string{"OCR_PAGE_WORKERS"}},
	{"ocr.recognizer", ocr.DefaultRecognizer, []string{"OCR_RECOGNIZER"}},
	{"ocr.ghostscript", ocr.DefaultGhostscript, []string{"GHOSTSCRIPT_EXE"}},
	{"ocr.tesseract", ocr.DefaultTesseract, []string{"TESSERACT_EXE"}},

	{"genai.provider", summarizer.ProviderGemini, []string{"GENAI_PROVIDER"}},
	{"genai.api_key", "", []string{"GENAI_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY"}},
	{"genai.model", "", []string{"GENAI_MODEL"}},
	{"genai.base_url", "", []string{"GENAI_BASE_URL"}},
	{"genai.project", "", []string{"GENAI_PROJECT", "GOOGLE_CLOUD_PROJECT"}},
	{"genai.location", "us-central1", []string{"GENAI_LOCATION"}},
	{"genai.prompt", summarizer.DefaultPrompt, []string{"GENAI_PROMPT"}},
	{"genai.poll_interval", poller.DefaultPollInterval, []string{"GENAI_POLL_INTERVAL"}},
	{"genai.error_backoff", poller.DefaultErrorBackoff, []string{"GENAI_ERROR_BACKOFF"}},
	{"genai.max_input_chars", summarizer.DefaultMaxInputChars, []string{"SUMMARY_MAX_INPUT_CHARS"}},

	{"reconcile.interval", reconciler.DefaultInterval, []string{"RECONCILE_INTERVAL"}},
	{"reconcile.min_age", reconciler.DefaultMinAge, []string{"RECONCILE_MIN_AGE"}},
	{"reconcile.batch_size", reconciler.DefaultBatchSize, []string{"RECONCILE_BATCH_SIZE"}},
	{"reconcile.requeue_ttl", reconciler.DefaultRequeueTTL, []string{"RECONCILE_REQUEUE_TTL"}},
	{"reconcile.rate_limit", reconciler.DefaultRateLimit, []string{"RECONCILE_RATE_LIMIT", "RATE_LIMIT_PER_SECOND"}},

	{"http.addr", ":8080", []string{"HTTP_ADDR"}},
	{"http.max_upload_bytes", int64(50 << 20), []string{"HTTP_MAX_UPLOAD_BYTES"}},

	{"log.level", "info", []string{"LOG_LEVEL"}},
	{"log.format", "json", []string{"LOG_FORMAT"}},
}

// Load reads configuration from defaults, an optional YAML file at path
// and the environment, in increasing order of precedence. A .env file in
// the working directory is loaded into the environment first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()
	for _, s := range settings {
		v.SetDefault(s.key, s.def)
		if err := v.BindEnv(append([]string{s.key}, s.envs...)...); err != nil {
			return nil, fmt.Errorf("error binding %s: %w", s.key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component can work with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Rabbit.Queue) == "" {
		errs = append(errs, errors.New("rabbit.queue must not be empty"))
	}
	if c.Rabbit.Prefetch < 1 {
		errs = append(errs, fmt.Errorf("rabbit.prefetch must be at least 1, got %d", c.Rabbit.Prefetch))
	}
	if c.OCR.DPI <= 0 {
		errs = append(errs, fmt.Errorf("ocr.dpi must be positive, got %d", c.OCR.DPI))
	}
	if c.OCR.PageWorkers < 1 {
		errs = append(errs, fmt.Errorf("ocr.page_workers must be at least 1, got %d", c.OCR.PageWorkers))
	}
	if c.Reconcile.RateLimit < 1 || c.Reconcile.RateLimit > reconciler.MaxRateLimit {
		errs = append(errs, fmt.Errorf("reconcile.rate_limit must be between 1 and %d, got %d", reconciler.MaxRateLimit, c.Reconcile.RateLimit))
	}
	if strings.TrimSpace(c.S3.Bucket) == "" {
		errs = append(errs, errors.New("s3.bucket must not be empty"))
	}
	return errors.Join(errs...)
}

// AMQPURL returns rabbit.url when set, otherwise a URL built from the host
// settings.
func (r RabbitConfig) AMQPURL() string {
	if r.URL != "" {
		return r.URL
	}
	return rabbitmq.BuildURL(r.Host, r.User, r.Pass)
}

func (r RabbitConfig) Topology() rabbitmq.Topology {
	return rabbitmq.NewTopology(r.Queue, r.EnableDLQ)
}

func (s S3Config) Client() minioPkg.Config {
	return minioPkg.Config{
		Endpoint:  s.Endpoint,
		Region:    s.Region,
		Bucket:    s.Bucket,
		AccessKey: s.AccessKey,
		SecretKey: s.SecretKey,
		UseSSL:    s.UseSSL,
	}
}

func (p PostgresConfig) Database() database.Config {
	return database.Config{
		DSN:      p.DSN,
		Host:     p.Host,
		Port:     p.Port,
		User:     p.User,
		Password: p.Password,
		DBName:   p.DB,
		SSLMode:  p.SSLMode,
		MaxPool:  p.MaxPool,
	}
}

// Target describes the database for logs without credentials.
func (p PostgresConfig) Target() string {
	if p.DSN != "" {
		return "dsn"
	}
	return fmt.Sprintf("%s:%s/%s", p.Host, p.Port, p.DB)
}

func (r RedisConfig) Cache() cache.Config {
	return cache.Config{Host: r.Host, Port: r.Port, Password: r.Password, DB: r.DB}
}

func (o OCRConfig) Engine() ocr.Config {
	return ocr.Config{
		Languages:      o.Languages,
		DPI:            o.DPI,
		TessdataPrefix: o.TessdataPrefix,
		ToolTimeout:    o.ToolTimeout,
		PageWorkers:    o.PageWorkers,
		Recognizer:     o.Recognizer,
		Ghostscript:    o.Ghostscript,
		Tesseract:      o.Tesseract,
	}
}

func (g GenAIConfig) Summarizer() summarizer.Config {
	return summarizer.Config{
		Provider:      g.Provider,
		APIKey:        g.APIKey,
		Model:         g.Model,
		BaseURL:       g.BaseURL,
		Project:       g.Project,
		Location:      g.Location,
		Prompt:        g.Prompt,
		MaxInputChars: g.MaxInputChars,
	}
}

func (g GenAIConfig) Poller() poller.Config {
	return poller.Config{PollInterval: g.PollInterval, ErrorBackoff: g.ErrorBackoff}
}

func (r ReconcileConfig) Reconciler() reconciler.Config {
	return reconciler.Config{
		Interval:   r.Interval,
		MinAge:     r.MinAge,
		BatchSize:  r.BatchSize,
		RequeueTTL: r.RequeueTTL,
		RateLimit:  r.RateLimit,
	}
}
