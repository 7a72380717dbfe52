/**
 * @description
 * This file handles the configuration management for the down-service.
 * It uses the Viper library to provide a robust way of reading settings from
 * environment variables or a local .env file.
 *
 * @dependencies
 * - github.com/spf13/viper: A powerful configuration library for Go applications.
 */
package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	IdentityAPIURL string `mapstructure:"IDENTITY_API_URL"`
	IdentityAPIKey string `mapstructure:"IDENTITY_API_KEY"`

	SessionJWTSecret string `mapstructure:"SESSION_JWT_SECRET"`

	// OTPTTLSeconds bounds how long a confirmation handle stays redeemable.
	OTPTTLSeconds int `mapstructure:"OTP_TTL_SECONDS"`

	// SendCodeLimit / SendCodeWindowSeconds budget "send code" per phone number.
	SendCodeLimit         int `mapstructure:"SEND_CODE_LIMIT"`
	SendCodeWindowSeconds int `mapstructure:"SEND_CODE_WINDOW_SECONDS"`

	// Cron schedules for background maintenance.
	EventDeactivateSchedule string `mapstructure:"EVENT_DEACTIVATE_SCHEDULE"`
	IdleUserSweepSchedule   string `mapstructure:"IDLE_USER_SWEEP_SCHEDULE"`
	IdleUserDays            int    `mapstructure:"IDLE_USER_DAYS"`

	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (config Config, err error) {
	viper.AddConfigPath(".")
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind env vars explicitly
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_ADDR")
	_ = viper.BindEnv("REDIS_PASSWORD")
	_ = viper.BindEnv("REDIS_DB")
	_ = viper.BindEnv("IDENTITY_API_URL")
	_ = viper.BindEnv("IDENTITY_API_KEY")
	_ = viper.BindEnv("SESSION_JWT_SECRET")
	_ = viper.BindEnv("OTP_TTL_SECONDS")
	_ = viper.BindEnv("SEND_CODE_LIMIT")
	_ = viper.BindEnv("SEND_CODE_WINDOW_SECONDS")
	_ = viper.BindEnv("EVENT_DEACTIVATE_SCHEDULE")
	_ = viper.BindEnv("IDLE_USER_SWEEP_SCHEDULE")
	_ = viper.BindEnv("IDLE_USER_DAYS")
	_ = viper.BindEnv("ALLOWED_ORIGINS")

	setDefaults()

	// Read the config file if it exists.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Fatalf("Error reading config file: %s", err)
		}
		err = nil
	}

	// Unmarshal the config into the Config struct.
	if err = viper.Unmarshal(&config); err != nil {
		log.Fatalf("Unable to decode config into struct: %v", err)
	}

	return
}

func setDefaults() {
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("OTP_TTL_SECONDS", 300)
	viper.SetDefault("SEND_CODE_LIMIT", 5)
	viper.SetDefault("SEND_CODE_WINDOW_SECONDS", 3600)
	viper.SetDefault("EVENT_DEACTIVATE_SCHEDULE", "*/10 * * * *")
	viper.SetDefault("IDLE_USER_SWEEP_SCHEDULE", "30 3 * * *")
	viper.SetDefault("IDLE_USER_DAYS", 90)
}
