package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// ErrMissingSetting is returned by the Validate methods when a required value is empty
var ErrMissingSetting = errors.New("missing required setting")

type Config struct {
	File       string
	Shop       ShopConfig
	Misc       MiscConfig
	Fetch      FetchConfig
	Warehouse  WarehouseConfig
	ClickHouse ClickHouseConfig
	Postgres   PostgresConfig
	RabbitMQ   RabbitMQConfig
	Metrics    MetricsConfig
}

type ShopConfig struct {
	URLMain  string // host of the shop, without scheme
	Username string
	Password string
	ShopID   string
}

type MiscConfig struct {
	ExternalCSV string
	ExcelFile   string
}

type FetchConfig struct {
	Workers        int
	RequestTimeout time.Duration
	Throttle       time.Duration
}

type WarehouseConfig struct {
	Driver string // clickhouse | postgres
}

type ClickHouseConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

type RabbitMQConfig struct {
	URL         string
	StatusQueue string
}

type MetricsConfig struct {
	Pushgateway string
	Job         string
}

// LoadConfig reads the ini file at path (optional) and applies environment overrides.
// A .env file in the working directory is loaded first when present.
func LoadConfig(path string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	file := ini.Empty()
	if path != "" {
		f, err := ini.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		file = f
	}

	shop := file.Section("shop_variablen")
	misc := file.Section("misc")
	fetch := file.Section("fetch")
	wh := file.Section("warehouse")
	ch := file.Section("clickhouse")
	pg := file.Section("postgres")
	mq := file.Section("rabbitmq")
	mt := file.Section("metrics")

	workers, _ := strconv.Atoi(getEnv("FETCH_WORKERS", fetch.Key("workers").MustString("1")))
	timeoutSec, _ := strconv.Atoi(getEnv("FETCH_REQUEST_TIMEOUT", fetch.Key("request_timeout").MustString("60")))
	throttleMs, _ := strconv.Atoi(getEnv("FETCH_THROTTLE_MS", fetch.Key("throttle_ms").MustString("1000")))
	chPort, _ := strconv.Atoi(getEnv("CLICKHOUSE_PORT", ch.Key("port").MustString("9000")))
	pgPort, _ := strconv.Atoi(getEnv("POSTGRES_PORT", pg.Key("port").MustString("5432")))

	if workers < 1 {
		workers = 1
	}

	return &Config{
		File: path,
		Shop: ShopConfig{
			URLMain:  getEnv("SHOP_URLMAIN", shop.Key("urlmain").String()),
			Username: getEnv("SHOP_USERNAME", shop.Key("username").String()),
			Password: getEnv("SHOP_PASSWORD", shop.Key("password").String()),
			ShopID:   getEnv("SHOP_ID", shop.Key("shopid").String()),
		},
		Misc: MiscConfig{
			ExternalCSV: getEnv("EXTERNAL_CSV_URL", misc.Key("externalcsv").String()),
			ExcelFile:   getEnv("EXCEL_FILE", misc.Key("excelfile").MustString("data/wg.xlsx")),
		},
		Fetch: FetchConfig{
			Workers:        workers,
			RequestTimeout: time.Duration(timeoutSec) * time.Second,
			Throttle:       time.Duration(throttleMs) * time.Millisecond,
		},
		Warehouse: WarehouseConfig{
			Driver: getEnv("WAREHOUSE_DRIVER", wh.Key("driver").MustString("clickhouse")),
		},
		ClickHouse: ClickHouseConfig{
			Host:     getEnv("CLICKHOUSE_HOST", ch.Key("host").MustString("clickhouse")),
			Port:     chPort,
			Database: getEnv("CLICKHOUSE_DATABASE", ch.Key("database").MustString("shop")),
			Username: getEnv("CLICKHOUSE_USERNAME", ch.Key("username").MustString("default")),
			Password: getEnv("CLICKHOUSE_PASSWORD", ch.Key("password").String()),
		},
		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", pg.Key("host").MustString("postgres")),
			Port:     pgPort,
			Database: getEnv("POSTGRES_DATABASE", pg.Key("database").MustString("shop")),
			Username: getEnv("POSTGRES_USERNAME", pg.Key("username").MustString("postgres")),
			Password: getEnv("POSTGRES_PASSWORD", pg.Key("password").String()),
		},
		RabbitMQ: RabbitMQConfig{
			URL:         getEnv("RABBITMQ_URL", mq.Key("url").String()),
			StatusQueue: getEnv("RABBITMQ_STATUS_QUEUE", mq.Key("status_queue").MustString("shopetl.run_status")),
		},
		Metrics: MetricsConfig{
			Pushgateway: getEnv("METRICS_PUSHGATEWAY", mt.Key("pushgateway").String()),
			Job:         getEnv("METRICS_JOB", mt.Key("job").MustString("shopetl")),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// ValidateShop checks the settings the fetch stage needs
func (c *Config) ValidateShop() error {
	if c.Shop.URLMain == "" {
		return fmt.Errorf("shop_variablen.urlmain: %w", ErrMissingSetting)
	}
	if c.Shop.Username == "" || c.Shop.Password == "" {
		return fmt.Errorf("shop_variablen.username/password: %w", ErrMissingSetting)
	}
	if c.Shop.ShopID == "" {
		return fmt.Errorf("shop_variablen.shopid: %w", ErrMissingSetting)
	}
	return nil
}

// Validate checks the settings the load stage needs
func (c *Config) Validate() error {
	switch c.Warehouse.Driver {
	case "clickhouse":
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("CLICKHOUSE_HOST: %w", ErrMissingSetting)
		}
	case "postgres":
		if c.Postgres.Host == "" {
			return fmt.Errorf("POSTGRES_HOST: %w", ErrMissingSetting)
		}
	default:
		return fmt.Errorf("unknown warehouse driver %q", c.Warehouse.Driver)
	}
	return nil
}
