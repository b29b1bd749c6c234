package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override: RECALL_SERVER_PORT,
// RECALL_LOG_LEVEL and so on.
const EnvPrefix = "RECALL"

// overlayKeys are the dotted keys Overlay reads.
var overlayKeys = []string{
	"server.bind",
	"server.port",
	"database.path",
	"log.level",
	"log.format",
	"store.full_text",
	"gating.allow_private",
	"gating.allow_secret",
	"injector.enabled",
	"injector.token_budget",
}

// NewViper returns a viper bound to the RECALL_ environment. RECALL_DB is
// accepted as a short alias for the database path.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("database.path", EnvPrefix+"_DATABASE_PATH", EnvPrefix+"_DB")
	return v
}

// Overlay copies every key set in v (env, bound flags or explicit Set) over
// cfg and revalidates.
//
// Precedence, highest first: flags, environment, config file, defaults.
func Overlay(cfg *Config, v *viper.Viper) error {
	for _, key := range overlayKeys {
		if !v.IsSet(key) {
			continue
		}
		switch key {
		case "server.bind":
			cfg.Server.Bind = v.GetString(key)
		case "server.port":
			cfg.Server.Port = v.GetInt(key)
		case "database.path":
			cfg.Database.Path = v.GetString(key)
		case "log.level":
			cfg.Log.Level = v.GetString(key)
		case "log.format":
			cfg.Log.Format = v.GetString(key)
		case "store.full_text":
			cfg.Store.FullText = v.GetBool(key)
		case "gating.allow_private":
			cfg.Gating.AllowPrivate = v.GetBool(key)
		case "gating.allow_secret":
			cfg.Gating.AllowSecret = v.GetBool(key)
		case "injector.enabled":
			cfg.Injector.Enabled = v.GetBool(key)
		case "injector.token_budget":
			cfg.Injector.TokenBudget = v.GetInt(key)
		}
	}
	return cfg.Validate()
}
