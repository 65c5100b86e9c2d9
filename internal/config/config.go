// Package config loads daemon settings from the environment, with an
// optional .env file for broker credentials and site-specific wiring.
// Flags in cmd override these values.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/atriantas/enlarger-server/internal/gpio"
	"github.com/atriantas/enlarger-server/internal/relay"
)

// Config holds environment-derived daemon settings.
type Config struct {
	// HTTP
	HTTPAddr string

	// MQTT; empty broker disables telemetry
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	// Heating
	HeatingPin    int
	HeatingTarget float64
}

// Load reads the environment (and .env, if present) into a Config.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":80"),

		MQTTBroker:   getEnv("MQTT_BROKER", ""),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "enlarger-server"),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),

		HeatingPin:    getEnvInt("HEATING_PIN", gpio.PinHeating),
		HeatingTarget: getEnvFloat("HEATING_TARGET", 20.0),
	}
}

// Validate rejects configurations that would be unsafe to boot with.
// The heating pin must be one of the configured relays; anything else
// would hand the hysteresis loop a pin the bank cannot drive.
func (c *Config) Validate() error {
	if _, ok := relay.DefaultPins[c.HeatingPin]; !ok {
		return fmt.Errorf("config: heating pin %d is not a configured relay", c.HeatingPin)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("config: cannot parse %s=%q as int, using default: %v", key, value, err)
		return defaultValue
	}
	return intValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("config: cannot parse %s=%q as float, using default: %v", key, value, err)
		return defaultValue
	}
	return floatValue
}
