package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config materialises application configuration.
type Config struct {
	ServerPort string         `mapstructure:"server_port"`
	Database   DatabaseConfig `mapstructure:"database"`
	Exchange   ExchangeConfig `mapstructure:"exchange"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	// MigrationsPath is where the migrate command finds the .sql files.
	MigrationsPath string `mapstructure:"migrations_path"`
}

// ExchangeConfig holds the house's commission rates, expressed as
// fractions (0.01 = 1%). Treasury configures these, the core only
// applies them.
type ExchangeConfig struct {
	BuyCommissionRate  string `mapstructure:"buy_commission_rate"`
	SellCommissionRate string `mapstructure:"sell_commission_rate"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EXCHANGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_port", "8080")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "exchange_core")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("exchange.buy_commission_rate", "0")
	v.SetDefault("exchange.sell_commission_rate", "0")
}

// Validate rejects configuration the core cannot run with.
func (c *Config) Validate() error {
	if c.Database.Host == "" || c.Database.Name == "" {
		return fmt.Errorf("database host and name are required")
	}
	for _, rate := range []string{c.Exchange.BuyCommissionRate, c.Exchange.SellCommissionRate} {
		d, err := decimal.NewFromString(rate)
		if err != nil {
			return fmt.Errorf("invalid commission rate %q: %w", rate, err)
		}
		if d.IsNegative() || d.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return fmt.Errorf("commission rate %q out of range [0, 1)", rate)
		}
	}
	return nil
}

// BuyCommission returns the parsed buy-side commission rate.
func (c *Config) BuyCommission() decimal.Decimal {
	return decimal.RequireFromString(c.Exchange.BuyCommissionRate)
}

// SellCommission returns the parsed sell-side commission rate.
func (c *Config) SellCommission() decimal.Decimal {
	return decimal.RequireFromString(c.Exchange.SellCommissionRate)
}

// GetDBConnectionString renders the lib/pq DSN.
func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User,
		c.Database.Password, c.Database.Name, c.Database.SSLMode)
}
