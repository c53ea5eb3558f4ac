package mysql

import (
	"fmt"
	"time"
)

// Config 定義 MySQL 連線與連線池的配置
type Config struct {
	Host     string `yaml:"host" env:"MYSQL_HOST"`         // 資料庫主機地址
	Port     int    `yaml:"port" env:"MYSQL_PORT"`         // 資料庫埠號 (預設 3306)
	User     string `yaml:"user" env:"MYSQL_USER"`         // 使用者名稱
	Password string `yaml:"password" env:"MYSQL_PASSWORD"` // 密碼
	DBName   string `yaml:"dbname" env:"MYSQL_DATABASE"`   // 資料庫名稱

	// 連線池設定 (Connection Pool)
	// 參考: https://github.com/go-sql-driver/mysql#important-settings
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MYSQL_MAX_OPEN_CONNS"`         // 最大開啟連線數
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MYSQL_MAX_IDLE_CONNS"`         // 最大閒置連線數
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"MYSQL_CONN_MAX_LIFETIME"`   // 連線最大存活時間
	LockWaitTimeout int           `yaml:"lock_wait_timeout" env:"MYSQL_LOCK_WAIT_TIMEOUT"`   // 等待列鎖秒數，0 使用伺服器預設

	// GORM 設定
	LogLevel string `yaml:"log_level" env:"MYSQL_LOG_LEVEL"` // Log 等級: "silent", "error", "warn", "info"
}

// DSN (Data Source Name) 產生連線字串
// 格式: user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=UTC
func (c *Config) DSN() string {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.DBName,
	)
	if c.LockWaitTimeout > 0 {
		dsn += fmt.Sprintf("&innodb_lock_wait_timeout=%d", c.LockWaitTimeout)
	}
	return dsn
}
