package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server     Server     `yaml:"server"`
	Store      Store      `yaml:"store"`
	Auth       Auth       `yaml:"auth"`
	Admin      Admin      `yaml:"admin"`
	Reconciler Reconciler `yaml:"reconciler"`
	Stream     Stream     `yaml:"stream"`
	S3         S3         `yaml:"s3"`
}

// Server holds HTTP server configuration
type Server struct {
	Host         string        `yaml:"host" env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port         string        `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
}

// Address returns the full server address
func (s Server) Address() string {
	return s.Host + ":" + s.Port
}

// Store selects and configures the entity store driver
type Store struct {
	// "badger" (embedded) or "postgres"
	Driver      string `yaml:"driver" env:"STORE_DRIVER" env-default:"badger"`
	BadgerPath  string `yaml:"badger_path" env:"STORE_BADGER_PATH" env-default:"./data/flock"`
	PostgresDSN string `yaml:"postgres_dsn" env:"DATABASE_URL"`
}

// Auth holds session token configuration
type Auth struct {
	JWTSecret string        `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"AUTH_TOKEN_TTL" env-default:"24h"`
}

// Admin holds the moderation allow-list
type Admin struct {
	UserIDs []string `yaml:"user_ids" env:"ADMIN_USER_IDS" env-separator:","`
}

// Reconciler holds follow-graph sweep configuration
type Reconciler struct {
	Enabled  bool          `yaml:"enabled" env:"RECONCILER_ENABLED" env-default:"true"`
	Interval time.Duration `yaml:"interval" env:"RECONCILER_INTERVAL" env-default:"10m"`
}

// Stream holds live projection configuration
type Stream struct {
	SnapshotTimeout time.Duration `yaml:"snapshot_timeout" env:"STREAM_SNAPSHOT_TIMEOUT" env-default:"3s"`
}

// S3 holds S3/MinIO avatar storage configuration
type S3 struct {
	Endpoint        string `yaml:"endpoint" env:"S3_ENDPOINT" env-default:"http://localhost:9000"`
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID" env-default:"minioadmin"`
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY" env-default:"minioadmin"`
	Bucket          string `yaml:"bucket" env:"S3_BUCKET" env-default:"avatars"`
	Region          string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	PublicURL       string `yaml:"public_url" env:"S3_PUBLIC_URL" env-default:"http://localhost:9000/avatars"`
}

// MustLoad loads configuration from the file named by CONFIG_PATH when set,
// otherwise from the environment, and panics on error
func MustLoad() Config {
	// Load .env file if exists (for development)
	_ = godotenv.Load()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		cfg, err := LoadFromFile(path)
		if err != nil {
			log.Fatalf("failed to load config from %s: %v", path, err)
		}
		return cfg
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	return cfg
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
