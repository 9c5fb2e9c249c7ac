package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host            string
		Address         string
		DebugHost       string
		ShutdownTimeout time.Duration
		DisableReqLogs  bool
	}

	DatabaseConfig struct {
		Engine        string // postgres | inmem
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		MaxOpenConns  int
		MaxIdleConns  int
	}

	SignalConfig struct {
		PageSize int
	}

	RetryConfig struct {
		MaxAttempts  int
		BaseDelay    time.Duration
		MaxDelay     time.Duration
		JitterFactor float64
	}

	AnalysisConfig struct {
		JoinInFlight     bool
		RunTimeout       time.Duration
		SweepInterval    time.Duration
		SweepConcurrency int
		SweepBatchSize   int
		PriorWeight      float64
		CacheSize        int
		Retry            RetryConfig
	}

	ScorerConfig struct {
		RemoteURL string
		APIKey    string
		Timeout   time.Duration
	}

	RedisConfig struct {
		Addr        string
		Password    string
		DB          int
		LockTTL     time.Duration
		DialTimeout time.Duration
	}

	TracingConfig struct {
		Enabled bool
		Stdout  bool
	}

	Config struct {
		Env              string
		AppName          string
		Build            string
		Debug            bool
		TestMode         bool
		WorkDir          string
		FrontendBaseURL  string
		DefaultFromEmail mail.Address
		SendgridApiKey   string
		RollbarToken     string

		Server   ServerConfig
		Database DatabaseConfig
		Signal   SignalConfig
		Analysis AnalysisConfig
		Scorer   ScorerConfig
		Redis    RedisConfig
		Tracing  TracingConfig
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func loadConf() *viper.Viper {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("testMode", false)
	conf.SetDefault("appName", "ID8")
	conf.SetDefault("build", "develop")
	conf.SetDefault("frontendBaseURL", "http://localhost:3000")
	conf.SetDefault("defaultFromName", "ID8")
	conf.SetDefault("defaultFromEmail", "noreply@localhost")
	conf.SetDefault("sendgridApiKey", "")
	conf.SetDefault("rollbarToken", "")

	conf.SetDefault("serverHost", "localhost")
	conf.SetDefault("serverAddress", ":8000")
	conf.SetDefault("serverDebugHost", ":4000")
	conf.SetDefault("serverShutdownTimeout", 5*time.Second)
	conf.SetDefault("serverDisableReqLogs", false)

	conf.SetDefault("dbEngine", "postgres")
	conf.SetDefault("dbHost", "localhost")
	conf.SetDefault("dbPort", 5432)
	conf.SetDefault("dbName", "id8")
	conf.SetDefault("dbUser", "id8")
	conf.SetDefault("dbPassword", "id8")
	conf.SetDefault("dbAdminUser", "postgres")
	conf.SetDefault("dbAdminPassword", "postgres")
	conf.SetDefault("dbDisableTLS", true)
	conf.SetDefault("dbMaxOpenConns", 25)
	conf.SetDefault("dbMaxIdleConns", 5)

	conf.SetDefault("signalPageSize", 500)

	conf.SetDefault("analysisJoinInFlight", true)
	conf.SetDefault("analysisRunTimeout", 2*time.Minute)
	conf.SetDefault("analysisSweepInterval", 15*time.Minute)
	conf.SetDefault("analysisSweepConcurrency", 4)
	conf.SetDefault("analysisSweepBatchSize", 1000)
	conf.SetDefault("analysisPriorWeight", 0.5)
	conf.SetDefault("analysisCacheSize", 1024)
	conf.SetDefault("analysisRetryMaxAttempts", 3)
	conf.SetDefault("analysisRetryBaseDelay", 200*time.Millisecond)
	conf.SetDefault("analysisRetryMaxDelay", 5*time.Second)
	conf.SetDefault("analysisRetryJitterFactor", 0.25)

	conf.SetDefault("scorerRemoteURL", "")
	conf.SetDefault("scorerApiKey", "")
	conf.SetDefault("scorerTimeout", 10*time.Second)

	conf.SetDefault("redisAddr", "")
	conf.SetDefault("redisPassword", "")
	conf.SetDefault("redisDB", 0)
	conf.SetDefault("redisLockTTL", 5*time.Minute)
	conf.SetDefault("redisDialTimeout", 5*time.Second)

	conf.SetDefault("tracingEnabled", false)
	conf.SetDefault("tracingStdout", false)

	env := os.Getenv("ENV") // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
		conf.SetDefault("dbEngine", "inmem")
	}
	conf.SetDefault("env", env)
	conf.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	if wd, err := Getwd(); err == nil {
		dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
			}
		} else if !os.IsNotExist(err) {
			log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
		}
	}
	conf.AutomaticEnv()
	return conf
}

// NewConfig reads the configuration from defaults, `config/.env.<env>` and the environment.
// Environment variables are prefixed with the current ENV, e.g. PROD_DBHOST.
func NewConfig() *Config {
	conf := loadConf()
	wd, _ := Getwd()

	return &Config{
		Env:             conf.GetString("env"),
		AppName:         conf.GetString("appName"),
		Build:           conf.GetString("build"),
		Debug:           conf.GetBool("debug"),
		TestMode:        conf.GetBool("testMode"),
		WorkDir:         wd,
		FrontendBaseURL: conf.GetString("frontendBaseURL"),
		DefaultFromEmail: mail.Address{
			Name:    conf.GetString("defaultFromName"),
			Address: conf.GetString("defaultFromEmail"),
		},
		SendgridApiKey: conf.GetString("sendgridApiKey"),
		RollbarToken:   conf.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:            conf.GetString("serverHost"),
			Address:         conf.GetString("serverAddress"),
			DebugHost:       conf.GetString("serverDebugHost"),
			ShutdownTimeout: conf.GetDuration("serverShutdownTimeout"),
			DisableReqLogs:  conf.GetBool("serverDisableReqLogs"),
		},
		Database: DatabaseConfig{
			Engine:        conf.GetString("dbEngine"),
			Host:          conf.GetString("dbHost"),
			Port:          conf.GetInt("dbPort"),
			Name:          conf.GetString("dbName"),
			User:          conf.GetString("dbUser"),
			Password:      conf.GetString("dbPassword"),
			AdminUser:     conf.GetString("dbAdminUser"),
			AdminPassword: conf.GetString("dbAdminPassword"),
			DisableTLS:    conf.GetBool("dbDisableTLS"),
			MaxOpenConns:  conf.GetInt("dbMaxOpenConns"),
			MaxIdleConns:  conf.GetInt("dbMaxIdleConns"),
		},
		Signal: SignalConfig{
			PageSize: conf.GetInt("signalPageSize"),
		},
		Analysis: AnalysisConfig{
			JoinInFlight:     conf.GetBool("analysisJoinInFlight"),
			RunTimeout:       conf.GetDuration("analysisRunTimeout"),
			SweepInterval:    conf.GetDuration("analysisSweepInterval"),
			SweepConcurrency: conf.GetInt("analysisSweepConcurrency"),
			SweepBatchSize:   conf.GetInt("analysisSweepBatchSize"),
			PriorWeight:      conf.GetFloat64("analysisPriorWeight"),
			CacheSize:        conf.GetInt("analysisCacheSize"),
			Retry: RetryConfig{
				MaxAttempts:  conf.GetInt("analysisRetryMaxAttempts"),
				BaseDelay:    conf.GetDuration("analysisRetryBaseDelay"),
				MaxDelay:     conf.GetDuration("analysisRetryMaxDelay"),
				JitterFactor: conf.GetFloat64("analysisRetryJitterFactor"),
			},
		},
		Scorer: ScorerConfig{
			RemoteURL: conf.GetString("scorerRemoteURL"),
			APIKey:    conf.GetString("scorerApiKey"),
			Timeout:   conf.GetDuration("scorerTimeout"),
		},
		Redis: RedisConfig{
			Addr:        conf.GetString("redisAddr"),
			Password:    conf.GetString("redisPassword"),
			DB:          conf.GetInt("redisDB"),
			LockTTL:     conf.GetDuration("redisLockTTL"),
			DialTimeout: conf.GetDuration("redisDialTimeout"),
		},
		Tracing: TracingConfig{
			Enabled: conf.GetBool("tracingEnabled"),
			Stdout:  conf.GetBool("tracingStdout"),
		},
	}
}
