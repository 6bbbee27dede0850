package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"fleetrent/settlement"

	"github.com/sirupsen/logrus"
)

// Config 服務設定，全部來自環境變數（.env 由 main 先載入）
type Config struct {
	Port       string
	GinMode    string
	LogLevel   string
	Database   DatabaseConfig
	JWTSecret  string
	Settlement SettlementConfig
}

// DatabaseConfig 資料庫設定
type DatabaseConfig struct {
	Driver     string // mysql 或 sqlite
	Host       string
	Port       int
	User       string
	Password   string
	Name       string
	SQLitePath string
	MaxRetries int
	RetryDelay time.Duration
}

// SettlementConfig 結算流程設定
type SettlementConfig struct {
	Policy         settlement.DuePolicy
	SessionMaxIdle time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
	// RemoteURL 有值時，付款與完成改送到遠端後台
	RemoteURL     string
	RemoteToken   string
	RemoteTimeout time.Duration
}

// Load 讀取環境變數，未設定時使用預設值
func Load() Config {
	return Config{
		Port:     getEnv("PORT", "8080"),
		GinMode:  getEnv("GIN_MODE", "release"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			Driver:     strings.ToLower(getEnv("DB_DRIVER", "mysql")),
			Host:       getEnv("DB_HOST", "127.0.0.1"),
			Port:       getInt("DB_PORT", 3306),
			User:       getEnv("DB_USER", "fleet_user"),
			Password:   getEnv("DB_PASSWORD", ""),
			Name:       getEnv("DB_NAME", "fleet_db"),
			SQLitePath: getEnv("SQLITE_PATH", "fleetrent.db"),
			MaxRetries: getInt("DB_MAX_RETRIES", 5),
			RetryDelay: getDuration("DB_RETRY_DELAY", 5*time.Second),
		},
		JWTSecret: os.Getenv("JWT_SECRET"),
		Settlement: SettlementConfig{
			Policy:         loadPolicy(),
			SessionMaxIdle: getDuration("SESSION_MAX_IDLE", 30*time.Minute),
			RetryAttempts:  getInt("PAYMENT_RETRY_ATTEMPTS", 1),
			RetryDelay:     getDuration("PAYMENT_RETRY_DELAY", 500*time.Millisecond),
			RemoteURL:      strings.TrimRight(os.Getenv("REMOTE_API_URL"), "/"),
			RemoteToken:    os.Getenv("REMOTE_API_TOKEN"),
			RemoteTimeout:  getDuration("REMOTE_API_TIMEOUT", 15*time.Second),
		},
	}
}

// loadPolicy DUE_POLICY=any|precedence，DUE_PRECEDENCE 為逗號分隔的依據順序
func loadPolicy() settlement.DuePolicy {
	policy := settlement.DefaultPolicy()
	if strings.EqualFold(os.Getenv("DUE_POLICY"), string(settlement.PolicyPrecedence)) {
		policy.Mode = settlement.PolicyPrecedence
	}
	raw := os.Getenv("DUE_PRECEDENCE")
	if raw == "" {
		return policy
	}
	var order []settlement.Signal
	for _, part := range strings.Split(raw, ",") {
		sig, err := settlement.ParseSignal(part)
		if err != nil {
			logrus.WithField("value", part).Warn("Ignoring unknown DUE_PRECEDENCE entry")
			continue
		}
		order = append(order, sig)
	}
	if len(order) > 0 {
		policy.Precedence = order
	}
	return policy
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logrus.WithField("key", key).Warnf("Invalid integer %q, using default %d", v, def)
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logrus.WithField("key", key).Warnf("Invalid duration %q, using default %s", v, def)
		return def
	}
	return d
}
