package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host                      string
		Address                   string
		DebugAddress              string
		ReadTimeout               time.Duration
		WriteTimeout              time.Duration
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		AllowedOrigins            []string
		// LoginRate is the number of login / password-reset attempts allowed per minute and per client IP.
		LoginRate  float64
		LoginBurst int
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	StorageConfig struct {
		Driver            string // local | oss
		LocalDir          string
		OSSEndpoint       string
		OSSAccessKey      string
		OSSSecretKey      string
		OSSSecurityToken  string
		OSSBucket         string
		PublicBaseURL     string
		Prefix            string
		MaxUploadSize     int64
		MaxImageDimension int
		TrashRetention    time.Duration
		ReaperSchedule    string
	}

	ChatConfig struct {
		Broker  string // local | nats
		NATSURL string
		Subject string
	}

	PaymentConfig struct {
		MidtransServerKey string
		Production        bool
	}

	Config struct {
		Env                       string // DEV (local; default), TEST, QA, PROD
		Build                     string
		Debug                     bool
		TestMode                  bool
		AppName                   string
		SecretKey                 string
		FrontendBaseURL           string
		DefaultFromName           string
		DefaultFromAddress        string
		ReplyToAddress            string // school office answering parents' replies
		SendgridApiKey            string
		RollbarToken              string
		PasswordResetTimeoutDelta time.Duration
		CurrentSchoolYear         string

		Server   ServerConfig
		Database DatabaseConfig
		Storage  StorageConfig
		Chat     ChatConfig
		Payment  PaymentConfig
	}
)

func (dbc DatabaseConfig) Address() string {
	return net.JoinHostPort(dbc.Host, dbc.Port)
}

func (c *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: c.DefaultFromName, Address: c.DefaultFromAddress}
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)

	v.SetDefault("build", "develop")
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "Campus")
	v.SetDefault("secretKey", "k2s8-zp)wqe$+41=vd&uoxh2(h!x)#*c2(#lm4h^$cegm9rt")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromName", "Campus")
	v.SetDefault("defaultFromAddress", "noreply@localhost")
	v.SetDefault("replyToAddress", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)
	v.SetDefault("currentSchoolYear", defaultSchoolYear(time.Now()))

	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverAddress", ":8000")
	v.SetDefault("serverDebugAddress", ":4000")
	v.SetDefault("serverReadTimeout", 5*time.Second)
	v.SetDefault("serverWriteTimeout", 5*time.Second)
	v.SetDefault("serverShutdownTimeout", 5*time.Second)
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("allowedOrigins", []string{"*"})
	v.SetDefault("loginRate", 10.0)
	v.SetDefault("loginBurst", 5)

	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", "5432")
	v.SetDefault("dbName", "campus")
	v.SetDefault("dbUser", "campus")
	v.SetDefault("dbPassword", "campus")
	v.SetDefault("dbAdminUser", "postgres")
	v.SetDefault("dbAdminPassword", "postgres")
	v.SetDefault("dbDisableTLS", true)

	v.SetDefault("storageDriver", "local")
	v.SetDefault("storageLocalDir", filepath.Join(os.TempDir(), "campus-docs"))
	v.SetDefault("ossEndpoint", "")
	v.SetDefault("ossAccessKey", "")
	v.SetDefault("ossSecretKey", "")
	v.SetDefault("ossSecurityToken", "")
	v.SetDefault("ossBucket", "")
	v.SetDefault("storagePublicBaseURL", "")
	v.SetDefault("storagePrefix", "campus")
	v.SetDefault("storageMaxUploadSize", int64(10<<20))
	v.SetDefault("storageMaxImageDimension", 2000)
	v.SetDefault("storageTrashRetention", 30*24*time.Hour)
	v.SetDefault("storageReaperSchedule", "@daily")

	v.SetDefault("chatBroker", "local")
	v.SetDefault("natsURL", "nats://127.0.0.1:4222")
	v.SetDefault("chatSubject", "campus.chat.events")

	v.SetDefault("midtransServerKey", "")
	v.SetDefault("midtransProduction", false)
}

// NewConfig loads the configuration from the environment (and config/.env.<env> if it exists).
func NewConfig() *Config {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	case "QA", "PROD":
		v.SetDefault("debug", false)
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	if wd, err := os.Getwd(); err == nil {
		dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
			}
		} else if !os.IsNotExist(err) {
			log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
		}
	}
	v.AutomaticEnv()

	return &Config{
		Env:                       env,
		Build:                     v.GetString("build"),
		Debug:                     v.GetBool("debug"),
		TestMode:                  v.GetBool("testMode"),
		AppName:                   v.GetString("appName"),
		SecretKey:                 v.GetString("secretKey"),
		FrontendBaseURL:           v.GetString("frontendBaseURL"),
		DefaultFromName:           v.GetString("defaultFromName"),
		DefaultFromAddress:        v.GetString("defaultFromAddress"),
		ReplyToAddress:            v.GetString("replyToAddress"),
		SendgridApiKey:            v.GetString("sendgridApiKey"),
		RollbarToken:              v.GetString("rollbarToken"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		CurrentSchoolYear:         v.GetString("currentSchoolYear"),
		Server: ServerConfig{
			Host:                      v.GetString("serverHost"),
			Address:                   v.GetString("serverAddress"),
			DebugAddress:              v.GetString("serverDebugAddress"),
			ReadTimeout:               v.GetDuration("serverReadTimeout"),
			WriteTimeout:              v.GetDuration("serverWriteTimeout"),
			ShutdownTimeout:           v.GetDuration("serverShutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("jwtRefreshExpirationDelta"),
			AllowedOrigins:            v.GetStringSlice("allowedOrigins"),
			LoginRate:                 v.GetFloat64("loginRate"),
			LoginBurst:                v.GetInt("loginBurst"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("dbEngine"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetString("dbPort"),
			Name:          v.GetString("dbName"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
		},
		Storage: StorageConfig{
			Driver:            v.GetString("storageDriver"),
			LocalDir:          v.GetString("storageLocalDir"),
			OSSEndpoint:       v.GetString("ossEndpoint"),
			OSSAccessKey:      v.GetString("ossAccessKey"),
			OSSSecretKey:      v.GetString("ossSecretKey"),
			OSSSecurityToken:  v.GetString("ossSecurityToken"),
			OSSBucket:         v.GetString("ossBucket"),
			PublicBaseURL:     v.GetString("storagePublicBaseURL"),
			Prefix:            v.GetString("storagePrefix"),
			MaxUploadSize:     v.GetInt64("storageMaxUploadSize"),
			MaxImageDimension: v.GetInt("storageMaxImageDimension"),
			TrashRetention:    v.GetDuration("storageTrashRetention"),
			ReaperSchedule:    v.GetString("storageReaperSchedule"),
		},
		Chat: ChatConfig{
			Broker:  v.GetString("chatBroker"),
			NATSURL: v.GetString("natsURL"),
			Subject: v.GetString("chatSubject"),
		},
		Payment: PaymentConfig{
			MidtransServerKey: v.GetString("midtransServerKey"),
			Production:        v.GetBool("midtransProduction"),
		},
	}
}

// NewTestConfig returns the configuration used by tests.
func NewTestConfig() *Config {
	conf := NewConfig()
	conf.Env = "TEST"
	conf.Debug = false
	conf.TestMode = true
	conf.SecretKey = "test-secret"
	conf.CurrentSchoolYear = "2025-2026"
	conf.Storage.Driver = "local"
	conf.Chat.Broker = "local"
	return conf
}

// defaultSchoolYear returns the school year in progress at t; a new school year starts in June.
func defaultSchoolYear(t time.Time) string {
	start := t.Year()
	if t.Month() < time.June {
		start--
	}
	return SchoolYear(start)
}
