package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const DefaultPath = "./configs/config.local.yaml"

type HTTP struct {
	Host              string
	Port              int
	ReadTimeoutSec    int
	WriteTimeoutSec   int
	IdleTimeoutSec    int
	RequestTimeoutSec int
	MaxBodyBytes      int64
	MaxInFlight       int64
}

type AdminHTTP struct {
	Host string
	Port int
}

type App struct {
	Name  string
	Env   string
	HTTP  HTTP
	Admin AdminHTTP
}

type LogFile struct {
	Enable     bool
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type Log struct {
	Level string
	JSON  bool
	File  LogFile
}

type JWT struct {
	Secret               string
	Issuer               string
	AccessTokenTTLMin    int
	RefreshTokenTTLHours int
}

func (j JWT) AccessTTL() time.Duration  { return time.Duration(j.AccessTokenTTLMin) * time.Minute }
func (j JWT) RefreshTTL() time.Duration { return time.Duration(j.RefreshTokenTTLHours) * time.Hour }

type Password struct {
	BcryptCost int
}

type Session struct {
	// StrictRotation 并发使用同一 refresh token 时只放行一个
	StrictRotation bool
}

type CORS struct {
	Origins []string
}

type Redis struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	Prefix        string `mapstructure:"prefix"`
	ProfileTTLSec int    `mapstructure:"profile_ttl_sec"`
}

type DB struct {
	Driver             string
	DSN                string
	Username           string
	Password           string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeMin int
	AutoMigrate        bool
	LogLevel           string
}

// Admin 管理端启动时确保存在的管理员；email 为空则跳过
type Admin struct {
	Email    string
	Username string
	Password string
}

type Config struct {
	App      App
	Log      Log
	JWT      JWT
	Password Password
	Session  Session
	CORS     CORS
	DB       DB
	Redis    Redis `mapstructure:"redis"`
	Admin    Admin
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "connect-api")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.http.host", "0.0.0.0")
	v.SetDefault("app.http.port", 3000)
	v.SetDefault("app.http.readtimeoutsec", 5)
	v.SetDefault("app.http.writetimeoutsec", 10)
	v.SetDefault("app.http.idletimeoutsec", 60)
	v.SetDefault("app.http.requesttimeoutsec", 10)
	v.SetDefault("app.http.maxbodybytes", 1<<20)
	v.SetDefault("app.http.maxinflight", 256)
	v.SetDefault("app.admin.host", "127.0.0.1")
	v.SetDefault("app.admin.port", 3001)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.file.filename", "logs/app.log")
	v.SetDefault("log.file.maxsizemb", 100)
	v.SetDefault("log.file.maxbackups", 7)
	v.SetDefault("log.file.maxagedays", 30)

	v.SetDefault("jwt.issuer", "connect-api")
	v.SetDefault("jwt.accesstokenttlmin", 15)
	v.SetDefault("jwt.refreshtokenttlhours", 30*24)
	v.SetDefault("password.bcryptcost", 12)
	v.SetDefault("session.strictrotation", false)
	v.SetDefault("cors.origins", []string{"http://localhost:3000"})

	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.maxopenconns", 20)
	v.SetDefault("db.maxidleconns", 10)
	v.SetDefault("db.connmaxlifetimemin", 30)
	v.SetDefault("db.loglevel", "warn")

	v.SetDefault("redis.prefix", "connect:")
	v.SetDefault("redis.profile_ttl_sec", 60)

	v.SetDefault("admin.username", "admin")
}

// Read 读 yaml + APP_ 环境变量覆盖（APP_JWT_SECRET -> jwt.secret）
func Read(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
		if path == "" {
			path = DefaultPath
		}
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	// AutomaticEnv 只对 viper 已知的 key 生效，敏感项没写进 yaml 时也要能从环境读
	for _, k := range []string{"jwt.secret", "db.dsn", "db.username", "db.password", "redis.addr", "redis.password", "admin.email", "admin.password"} {
		_ = v.BindEnv(k)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func Load(path string) *Config {
	c, err := Read(path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return c
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.JWT.Secret) == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	switch c.DB.Driver {
	case "postgres", "mysql":
	default:
		errs = append(errs, fmt.Errorf("db.driver %q not supported", c.DB.Driver))
	}
	if c.JWT.AccessTokenTTLMin <= 0 {
		errs = append(errs, errors.New("jwt.accesstokenttlmin must be positive"))
	}
	if c.JWT.RefreshTokenTTLHours <= 0 {
		errs = append(errs, errors.New("jwt.refreshtokenttlhours must be positive"))
	}
	if c.Admin.Email != "" && c.Admin.Password == "" {
		errs = append(errs, errors.New("admin.password is required when admin.email is set"))
	}
	return errors.Join(errs...)
}
