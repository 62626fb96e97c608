package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "FANWALL"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabaseDriver  = DriverSQLite
	defaultDatabasePath    = "fanwall.db"
	defaultLogLevel        = "info"
	defaultStorageRegion   = "us-east-1"
	defaultStorageBucket   = "fanwall-signatures"
	defaultNicknameURL     = "https://api.openai.com/v1/chat/completions"
	defaultNicknameModel   = "gpt-4o"
	defaultNicknameTimeout = 8 * time.Second
	defaultPageSize        = 20
	defaultMaxPageSize     = 40
	defaultProfileCount    = 6
	defaultProfileFormat   = "/profiles/gg_%d.png"
	defaultProxyTimeout    = 15 * time.Second
	defaultUploadMaxBytes  = 10 << 20
	defaultClientBaseURL   = "http://localhost:8080"
	identityFileName       = "identity.json"
)

const (
	// DriverSQLite selects the embedded SQLite store.
	DriverSQLite = "sqlite"
	// DriverPostgres selects a Postgres store reached through database.dsn.
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server and the CLI client.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string
	Database    DatabaseConfig
	Storage     StorageConfig
	Nickname    NicknameConfig
	Feed        FeedConfig
	Profiles    ProfilesConfig
	StreamURL   string
	Proxy       ProxyConfig
	Upload      UploadConfig
	Client      ClientConfig
}

type DatabaseConfig struct {
	Driver string
	Path   string
	DSN    string
}

type StorageConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	Region        string
	Bucket        string
	PublicBaseURL string
}

// Enabled reports whether blob storage has an endpoint to talk to.
func (c StorageConfig) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

type NicknameConfig struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

type FeedConfig struct {
	PageSize    int
	MaxPageSize int
}

type ProfilesConfig struct {
	Count      int
	PathFormat string
}

type ProxyConfig struct {
	Timeout time.Duration
}

type UploadConfig struct {
	MaxBytes int64
}

type ClientConfig struct {
	BaseURL      string
	IdentityFile string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("storage.endpoint", "")
	configViper.SetDefault("storage.access_key", "")
	configViper.SetDefault("storage.secret_key", "")
	configViper.SetDefault("storage.use_ssl", true)
	configViper.SetDefault("storage.region", defaultStorageRegion)
	configViper.SetDefault("storage.bucket", defaultStorageBucket)
	configViper.SetDefault("storage.public_base_url", "")
	configViper.SetDefault("nickname.endpoint", defaultNicknameURL)
	configViper.SetDefault("nickname.api_key", "")
	configViper.SetDefault("nickname.model", defaultNicknameModel)
	configViper.SetDefault("nickname.timeout", defaultNicknameTimeout)
	configViper.SetDefault("feed.page_size", defaultPageSize)
	configViper.SetDefault("feed.max_page_size", defaultMaxPageSize)
	configViper.SetDefault("profiles.count", defaultProfileCount)
	configViper.SetDefault("profiles.path_format", defaultProfileFormat)
	configViper.SetDefault("stream.url", "")
	configViper.SetDefault("proxy.timeout", defaultProxyTimeout)
	configViper.SetDefault("upload.max_bytes", defaultUploadMaxBytes)
	configViper.SetDefault("client.base_url", defaultClientBaseURL)
	configViper.SetDefault("client.identity_file", defaultIdentityFile())
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress: configViper.GetString("http.address"),
		LogLevel:    configViper.GetString("log.level"),
		Database: DatabaseConfig{
			Driver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
			Path:   configViper.GetString("database.path"),
			DSN:    configViper.GetString("database.dsn"),
		},
		Storage: StorageConfig{
			Endpoint:      configViper.GetString("storage.endpoint"),
			AccessKey:     configViper.GetString("storage.access_key"),
			SecretKey:     configViper.GetString("storage.secret_key"),
			UseSSL:        configViper.GetBool("storage.use_ssl"),
			Region:        configViper.GetString("storage.region"),
			Bucket:        configViper.GetString("storage.bucket"),
			PublicBaseURL: strings.TrimRight(configViper.GetString("storage.public_base_url"), "/"),
		},
		Nickname: NicknameConfig{
			Endpoint: configViper.GetString("nickname.endpoint"),
			APIKey:   configViper.GetString("nickname.api_key"),
			Model:    configViper.GetString("nickname.model"),
			Timeout:  configViper.GetDuration("nickname.timeout"),
		},
		Feed: FeedConfig{
			PageSize:    configViper.GetInt("feed.page_size"),
			MaxPageSize: configViper.GetInt("feed.max_page_size"),
		},
		Profiles: ProfilesConfig{
			Count:      configViper.GetInt("profiles.count"),
			PathFormat: configViper.GetString("profiles.path_format"),
		},
		StreamURL: configViper.GetString("stream.url"),
		Proxy: ProxyConfig{
			Timeout: configViper.GetDuration("proxy.timeout"),
		},
		Upload: UploadConfig{
			MaxBytes: configViper.GetInt64("upload.max_bytes"),
		},
		Client: ClientConfig{
			BaseURL:      strings.TrimRight(configViper.GetString("client.base_url"), "/"),
			IdentityFile: configViper.GetString("client.identity_file"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.Storage.Enabled() {
		if strings.TrimSpace(c.Storage.Bucket) == "" {
			return fmt.Errorf("storage.bucket is required")
		}
		if strings.TrimSpace(c.Storage.PublicBaseURL) == "" {
			return fmt.Errorf("storage.public_base_url is required")
		}
	}
	if c.Feed.PageSize <= 0 {
		return fmt.Errorf("feed.page_size must be positive")
	}
	if c.Feed.MaxPageSize < c.Feed.PageSize {
		return fmt.Errorf("feed.max_page_size must be at least feed.page_size")
	}
	if c.Profiles.Count <= 0 {
		return fmt.Errorf("profiles.count must be positive")
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be positive")
	}
	return nil
}

func defaultIdentityFile() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return identityFileName
	}
	return filepath.Join(dir, "fanwall", identityFileName)
}
