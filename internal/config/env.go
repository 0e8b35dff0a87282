package config

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envOverrides are the settings that may be supplied through the environment.
// They take precedence over the config file so deployments can tweak the
// listener and logging without editing YAML.
type envOverrides struct {
	Host      string `envconfig:"HOST"`
	Port      int    `envconfig:"PORT"`
	LogLevel  string `envconfig:"LOG_LEVEL"`
	LogFormat string `envconfig:"LOG_FORMAT"`
	GPU       string `envconfig:"GPU_ENDPOINT"`
	DSN       string `envconfig:"POSTGRES_DSN"`
}

// overlayEnv applies HERMES_* environment variables on top of the parsed
// file. A .env file in the working directory is loaded first if present.
func overlayEnv(cfg *Config) error {
	_ = godotenv.Load()

	var env envOverrides
	if err := envconfig.Process("HERMES", &env); err != nil {
		return err
	}

	if env.Host != "" {
		cfg.Server.Host = env.Host
	}
	if env.Port != 0 {
		cfg.Server.Port = env.Port
	}
	if env.LogLevel != "" {
		cfg.Server.LogLevel = env.LogLevel
	}
	if env.LogFormat != "" {
		cfg.Server.LogFormat = env.LogFormat
	}
	if env.GPU != "" {
		cfg.GPUEndpoint = env.GPU
	}
	if env.DSN != "" {
		cfg.Postgres.DSN = env.DSN
	}
	return nil
}
