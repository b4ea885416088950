package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// MailboxConfig 定义临时邮箱的核心业务配置
type MailboxConfig struct {
	Domain         string        // 邮箱地址使用的域名
	TTL            time.Duration // 邮箱生存时间，默认 15 分钟
	AllocAttempts  int           // 地址生成最大尝试次数，默认 10
	ReaperInterval time.Duration // 过期清理周期，默认 5 分钟
}

// IMAPConfig 定义上游 IMAP 邮件源的连接配置
type IMAPConfig struct {
	Host                 string        // IMAP 服务器地址
	Port                 int           // IMAP 服务器端口，默认 993
	Username             string        // 登录账号
	Password             string        // 登录密码
	TLS                  bool          // 是否使用 TLS，默认 true
	ReconnectMaxAttempts int           // 连续重连次数上限，默认 5
	ReconnectBackoff     time.Duration // 重连基础退避（线性递增），默认 5s
	PollInterval         time.Duration // IDLE 不可用时的兜底轮询周期，默认 1 分钟
}

// SMTPConfig 定义直接投递模式下的 SMTP 接收服务配置
type SMTPConfig struct {
	BindAddr string // SMTP 服务监听地址，格式 "host:port"，默认 ":25"
	Domain   string // SMTP 服务器域名，用于 HELO/EHLO 响应
}

// MailSourceConfig 定义邮件源的接入方式
type MailSourceConfig struct {
	Mode string     // "imap"（轮询上游账号）或 "smtp"（直接投递）
	IMAP IMAPConfig // IMAP 模式配置
	SMTP SMTPConfig // SMTP 模式配置
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到控制台
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Address  string // Redis 服务地址，留空不启用缓存
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server   ServerConfig
	Mailbox  MailboxConfig
	Mail     MailSourceConfig
	CORS     CORSConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: FADEMAIL_
// 例如: FADEMAIL_MAILBOX_TTL, FADEMAIL_MAIL_IMAP_HOST
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	viper.SetEnvPrefix("fademail")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("mailbox.domain", "fade.mail")
	viper.SetDefault("mailbox.ttl", "15m")
	viper.SetDefault("mailbox.alloc_attempts", 10)
	viper.SetDefault("mailbox.reaper_interval", "5m")
	viper.SetDefault("mail.mode", "imap")
	viper.SetDefault("mail.imap.host", "")
	viper.SetDefault("mail.imap.port", 993)
	viper.SetDefault("mail.imap.username", "")
	viper.SetDefault("mail.imap.password", "")
	viper.SetDefault("mail.imap.tls", true)
	viper.SetDefault("mail.imap.reconnect_max_attempts", 5)
	viper.SetDefault("mail.imap.reconnect_backoff", "5s")
	viper.SetDefault("mail.imap.poll_interval", "1m")
	viper.SetDefault("mail.smtp.bind_addr", ":25")
	viper.SetDefault("mail.smtp.domain", "fade.mail")
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	ttl, err := time.ParseDuration(viper.GetString("mailbox.ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid mailbox.ttl: %w", err)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("mailbox.ttl must be positive")
	}

	reaperInterval, err := time.ParseDuration(viper.GetString("mailbox.reaper_interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid mailbox.reaper_interval: %w", err)
	}
	if reaperInterval <= 0 {
		return nil, fmt.Errorf("mailbox.reaper_interval must be positive")
	}

	mailboxDomain := strings.ToLower(strings.TrimSpace(viper.GetString("mailbox.domain")))
	if mailboxDomain == "" {
		return nil, fmt.Errorf("mailbox.domain must not be empty")
	}

	allocAttempts := viper.GetInt("mailbox.alloc_attempts")
	if allocAttempts <= 0 {
		allocAttempts = 10
	}

	mode := strings.ToLower(viper.GetString("mail.mode"))
	if mode != "imap" && mode != "smtp" {
		return nil, fmt.Errorf("mail.mode must be \"imap\" or \"smtp\", got %q", mode)
	}

	reconnectBackoff, err := time.ParseDuration(viper.GetString("mail.imap.reconnect_backoff"))
	if err != nil {
		reconnectBackoff = 5 * time.Second
	}

	pollInterval, err := time.ParseDuration(viper.GetString("mail.imap.poll_interval"))
	if err != nil {
		pollInterval = time.Minute
	}

	reconnectMax := viper.GetInt("mail.imap.reconnect_max_attempts")
	if reconnectMax <= 0 {
		reconnectMax = 5
	}

	if mode == "imap" && viper.GetString("mail.imap.host") == "" {
		return nil, fmt.Errorf("mail.imap.host is required in imap mode")
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Mailbox: MailboxConfig{
			Domain:         mailboxDomain,
			TTL:            ttl,
			AllocAttempts:  allocAttempts,
			ReaperInterval: reaperInterval,
		},
		Mail: MailSourceConfig{
			Mode: mode,
			IMAP: IMAPConfig{
				Host:                 viper.GetString("mail.imap.host"),
				Port:                 viper.GetInt("mail.imap.port"),
				Username:             viper.GetString("mail.imap.username"),
				Password:             viper.GetString("mail.imap.password"),
				TLS:                  viper.GetBool("mail.imap.tls"),
				ReconnectMaxAttempts: reconnectMax,
				ReconnectBackoff:     reconnectBackoff,
				PollInterval:         pollInterval,
			},
			SMTP: SMTPConfig{
				BindAddr: viper.GetString("mail.smtp.bind_addr"),
				Domain:   viper.GetString("mail.smtp.domain"),
			},
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			File:        viper.GetString("log.file"),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
	}

	return cfg, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 注意：
//   - 如果文件不存在，静默失败（.env 是可选的）
//   - 环境变量不会被覆盖（已存在的环境变量优先级更高）
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
