package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables recognized by the engine.
const (
	EnvPrivateKey     = "FLASHARB_PRIVATE_KEY"
	EnvFlashbotsKey   = "FLASHARB_FLASHBOTS_KEY"
	EnvRPCEndpoint    = "FLASHARB_RPC_ENDPOINT"
	EnvWSEndpoint     = "FLASHARB_WS_ENDPOINT"
	EnvFlashbotsRelay = "FLASHARB_FLASHBOTS_RELAY"
)

// LoadEnv loads environment variables from a .env file if one exists.
func LoadEnv() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// GetEnvWithDefault gets an environment variable with a default value.
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetRequiredEnv gets an environment variable or errors if unset.
func GetRequiredEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s not set", key)
	}
	return value, nil
}
