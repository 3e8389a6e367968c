package boot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Env    string `env:"ENV,default=dev"`
	Server struct {
		Port        string `env:"PORT,default=8080"`
		MetricsPort string `env:"METRICS_PORT,default=8081"`
		Origins     string `env:"ALLOWED_ORIGINS,default=*"`
	}
	Database struct {
		Driver string `env:"DB_DRIVER,default=sqlite3"`
		URL    string `env:"DATABASE_URL,default=file:roost.db?_busy_timeout=5000&_foreign_keys=on"`
	}
	Redis struct {
		URL         string        `env:"REDIS_URL"`
		PresenceTTL time.Duration `env:"PRESENCE_TTL,default=90s"`
		CacheTTL    time.Duration `env:"CACHE_TTL,default=10m"`
	}
	Auth struct {
		JWTSecret string `env:"JWT_SECRET,required"`
	}
	ListingsFile  string `env:"LISTINGS_FILE"`
	DirectorySeed string `env:"DIRECTORY_SEED"`
	ReplayLimit   int    `env:"REPLAY_LIMIT,default=50"`
}

func Load() (*Config, error) {
	return LoadWith(envconfig.OsLookuper())
}

// LoadWith reads the config from an arbitrary lookuper, used by tests.
func LoadWith(lookuper envconfig.Lookuper) (*Config, error) {
	config := &Config{}
	if err := envconfig.ProcessWith(context.Background(), config, lookuper); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}
	if config.ReplayLimit < 1 {
		return nil, fmt.Errorf("REPLAY_LIMIT must be positive, got %d", config.ReplayLimit)
	}
	return config, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "prod"
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "dev"
}

func (c *Config) AllowedOrigins() []string {
	origins := strings.Split(c.Server.Origins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	return origins
}

func (c *Config) UsesRedis() bool {
	return c.Redis.URL != ""
}
