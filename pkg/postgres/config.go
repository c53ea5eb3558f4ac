package postgres

import (
	"fmt"
	"net/url"
	"time"
)

// Config 定義 Postgres 連線與連線池的配置
type Config struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST"`
	Port     int    `yaml:"port" env:"POSTGRES_PORT"`
	User     string `yaml:"user" env:"POSTGRES_USER"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD"`
	DBName   string `yaml:"dbname" env:"POSTGRES_DB"`
	SSLMode  string `yaml:"sslmode" env:"POSTGRES_SSLMODE"`

	MaxConns        int32         `yaml:"max_conns" env:"POSTGRES_MAX_CONNS"`
	MinConns        int32         `yaml:"min_conns" env:"POSTGRES_MIN_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"POSTGRES_CONN_MAX_LIFETIME"`
	// LockTimeout 等待列鎖的上限，超過回傳 55P03
	LockTimeout time.Duration `yaml:"lock_timeout" env:"POSTGRES_LOCK_TIMEOUT"`
}

// DSN 產生 postgres:// 連線字串
func (c *Config) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.DBName,
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	if c.LockTimeout > 0 {
		q.Set("lock_timeout", fmt.Sprintf("%d", c.LockTimeout.Milliseconds()))
	}
	u.RawQuery = q.Encode()
	return u.String()
}
