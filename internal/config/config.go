// Package config provides Viper-based configuration loading for the
// Waystone game server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// CombatConfig holds combat engine tunables.
type CombatConfig struct {
	// Mode selects the interaction style: "rounds" (autonomous fixed-interval
	// rounds) or "turns" (explicit player turns with a timeout).
	Mode string `mapstructure:"mode"`
	// RoundInterval is the delay between automatic combat rounds.
	RoundInterval time.Duration `mapstructure:"round_interval"`
	// TurnTimeout is the manual-mode action window before the default
	// defend action fires.
	TurnTimeout time.Duration `mapstructure:"turn_timeout"`
	// FleeThreshold is the d20+DEX total required to flee in rounds mode.
	FleeThreshold int `mapstructure:"flee_threshold"`
	// ManualFleeThreshold is the flee DC in turns mode.
	ManualFleeThreshold int `mapstructure:"manual_flee_threshold"`
	// RecallCooldown is how long recall stays blocked after leaving combat.
	RecallCooldown time.Duration `mapstructure:"recall_cooldown"`
	// RespawnRoom is the room ID dead players respawn in.
	RespawnRoom string `mapstructure:"respawn_room"`
	// CleanupInterval is how often ended fights are swept from the registry.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// ContentConfig holds paths to data-driven game content.
type ContentConfig struct {
	// NPCDir is the directory holding NPC template YAML files.
	NPCDir string `mapstructure:"npc_dir"`
	// EffectDir is the directory holding effect definition YAML files.
	// Empty means the built-in definitions are used unchanged.
	EffectDir string `mapstructure:"effect_dir"`
	// ScriptDir is the directory holding zone Lua scripts.
	ScriptDir string `mapstructure:"script_dir"`
}

// Config is the top-level application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Combat   CombatConfig   `mapstructure:"combat"`
	Content  ContentConfig  `mapstructure:"content"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error
// describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateDatabase(c.Database); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateCombat(c.Combat); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateCombat(c CombatConfig) error {
	var errs []string
	if c.Mode != "rounds" && c.Mode != "turns" {
		errs = append(errs, fmt.Sprintf("combat.mode must be one of [rounds, turns], got %q", c.Mode))
	}
	if c.RoundInterval <= 0 {
		errs = append(errs, fmt.Sprintf("combat.round_interval must be > 0, got %s", c.RoundInterval))
	}
	if c.TurnTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("combat.turn_timeout must be > 0, got %s", c.TurnTimeout))
	}
	if c.FleeThreshold < 1 || c.FleeThreshold > 21 {
		errs = append(errs, fmt.Sprintf("combat.flee_threshold must be 1-21, got %d", c.FleeThreshold))
	}
	if c.ManualFleeThreshold < 1 || c.ManualFleeThreshold > 21 {
		errs = append(errs, fmt.Sprintf("combat.manual_flee_threshold must be 1-21, got %d", c.ManualFleeThreshold))
	}
	if c.RecallCooldown < 0 {
		errs = append(errs, "combat.recall_cooldown must not be negative")
	}
	if c.RespawnRoom == "" {
		errs = append(errs, "combat.respawn_room must not be empty")
	}
	if c.CleanupInterval <= 0 {
		errs = append(errs, fmt.Sprintf("combat.cleanup_interval must be > 0, got %s", c.CleanupInterval))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment
// variable overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with WAYSTONE_ prefix
	v.SetEnvPrefix("WAYSTONE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "waystone")
	v.SetDefault("database.password", "waystone")
	v.SetDefault("database.name", "waystone")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("combat.mode", "rounds")
	v.SetDefault("combat.round_interval", "3s")
	v.SetDefault("combat.turn_timeout", "30s")
	v.SetDefault("combat.flee_threshold", 10)
	v.SetDefault("combat.manual_flee_threshold", 12)
	v.SetDefault("combat.recall_cooldown", "30s")
	v.SetDefault("combat.respawn_room", "temple-square")
	v.SetDefault("combat.cleanup_interval", "1m")

	v.SetDefault("content.npc_dir", "content/npcs")
	v.SetDefault("content.effect_dir", "")
	v.SetDefault("content.script_dir", "content/scripts")
}
