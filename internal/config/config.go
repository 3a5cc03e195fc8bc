package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/untoldecay/fieldmerge/internal/debug"
)

// DirName is the per-project data directory.
const DirName = ".fieldmerge"

// EnvPrefix prefixes every automatically bound environment variable.
const EnvPrefix = "FIELDMERGE"

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	// Precedence: project .fieldmerge/config.yaml > user config dir
	configFileSet := false
	projectDir := ""

	// 1. Walk up from CWD so commands work from subdirectories
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			dataDir := filepath.Join(dir, DirName)
			configPath := filepath.Join(dataDir, "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				projectDir = dir
				break
			}
		}
	}

	// 2. User config directory (~/.config/fieldmerge/config.yaml)
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "fieldmerge", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// .env files never override variables already in the environment
	loadDotEnv(projectDir)

	// FIELDMERGE_MIGRATION_BATCH_SIZE maps to migration.batch-size
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Conventional Jira variables
	_ = v.BindEnv("jira.url", EnvPrefix+"_JIRA_URL", "JIRA_URL")
	_ = v.BindEnv("jira.username", EnvPrefix+"_JIRA_USERNAME", "JIRA_USERNAME")
	_ = v.BindEnv("jira.api_token", EnvPrefix+"_JIRA_API_TOKEN", "JIRA_API_TOKEN")

	setDefaults(projectDir)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		debug.Logf("loaded config from %s", v.ConfigFileUsed())
	} else {
		debug.Logf("no config.yaml found; using defaults and environment variables")
	}
	return nil
}

func setDefaults(projectDir string) {
	dataDir := DirName
	if projectDir != "" {
		dataDir = filepath.Join(projectDir, DirName)
	}

	v.SetDefault("json", false)
	v.SetDefault("data-dir", dataDir)
	v.SetDefault("db", "")

	v.SetDefault("jira.url", "")
	v.SetDefault("jira.username", "")
	v.SetDefault("jira.api_token", "")
	v.SetDefault("jira.timeout", "30s")

	v.SetDefault("migration.batch-size", 50)
	v.SetDefault("migration.persist-every", 10)

	v.SetDefault("daemon.http-addr", "")
	v.SetDefault("daemon.max-conns", 100)
	v.SetDefault("daemon.request-timeout", "30s")

	v.SetDefault("broker.url", "")
	v.SetDefault("broker.client-id", "fieldmerge")
	v.SetDefault("broker.username", "")
	v.SetDefault("broker.password", "")
	v.SetDefault("broker.topic", "fieldmerge/migrations")

	v.SetDefault("log.file", "")
	v.SetDefault("log.max-size-mb", 50)
	v.SetDefault("log.max-backups", 7)
	v.SetDefault("log.max-age-days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("log.level", "info")
}

func loadDotEnv(projectDir string) {
	var files []string
	candidates := []string{".env"}
	if projectDir != "" {
		candidates = append(candidates, filepath.Join(projectDir, ".env"))
	}
	seen := map[string]bool{}
	for _, path := range candidates {
		abs, err := filepath.Abs(path)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err == nil {
			files = append(files, abs)
		}
	}
	if len(files) == 0 {
		return
	}
	if err := godotenv.Load(files...); err != nil {
		debug.Logf("failed to load %v: %v", files, err)
	}
}

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault    ConfigSource = "default"
	SourceConfigFile ConfigSource = "config_file"
	SourceEnvVar     ConfigSource = "env_var"
)

// EnvKey is the prefixed environment variable for a key.
func EnvKey(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
}

// GetValueSource returns the source of a configuration value.
// Priority (highest to lowest): env var > config file > default
func GetValueSource(key string) ConfigSource {
	if v == nil {
		return SourceDefault
	}
	if os.Getenv(EnvKey(key)) != "" {
		return SourceEnvVar
	}
	if unprefixed, ok := jiraEnv[key]; ok && os.Getenv(unprefixed) != "" {
		return SourceEnvVar
	}
	if v.InConfig(key) {
		return SourceConfigFile
	}
	return SourceDefault
}

var jiraEnv = map[string]string{
	"jira.url":       "JIRA_URL",
	"jira.username":  "JIRA_USERNAME",
	"jira.api_token": "JIRA_API_TOKEN",
}

// ConfigFileUsed is the loaded config file, or "".
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set sets a configuration value
func Set(key string, value any) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map
func AllSettings() map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v.AllSettings()
}

// DataDir is the directory holding the database, locks, socket and logs.
func DataDir() string {
	return GetString("data-dir")
}

// DBPath is the state database, defaulting to <data-dir>/fieldmerge.db.
// ":memory:" selects the in-memory store.
func DBPath() string {
	if db := GetString("db"); db != "" {
		return db
	}
	return filepath.Join(DataDir(), "fieldmerge.db")
}

// Jira holds the tracker connection settings.
type Jira struct {
	URL      string
	Username string
	APIToken string
	Timeout  time.Duration
}

// Validate reports missing connection settings.
func (j Jira) Validate() error {
	if j.URL == "" {
		return fmt.Errorf("jira.url is not set (config file, %s or JIRA_URL)", EnvKey("jira.url"))
	}
	if j.APIToken == "" {
		return fmt.Errorf("jira.api_token is not set (config file, %s or JIRA_API_TOKEN)", EnvKey("jira.api_token"))
	}
	return nil
}

// JiraSettings bundles the jira.* keys.
func JiraSettings() Jira {
	return Jira{
		URL:      strings.TrimRight(GetString("jira.url"), "/"),
		Username: GetString("jira.username"),
		APIToken: GetString("jira.api_token"),
		Timeout:  GetDuration("jira.timeout"),
	}
}

// Migration holds the transfer tuning knobs.
type Migration struct {
	BatchSize    int
	PersistEvery int
}

// MigrationSettings bundles the migration.* keys.
func MigrationSettings() Migration {
	return Migration{
		BatchSize:    GetInt("migration.batch-size"),
		PersistEvery: GetInt("migration.persist-every"),
	}
}

// Broker holds the MQTT event broker settings. URL is empty when disabled.
type Broker struct {
	URL      string
	ClientID string
	Username string
	Password string
	Topic    string
}

// BrokerSettings bundles the broker.* keys.
func BrokerSettings() Broker {
	return Broker{
		URL:      GetString("broker.url"),
		ClientID: GetString("broker.client-id"),
		Username: GetString("broker.username"),
		Password: GetString("broker.password"),
		Topic:    GetString("broker.topic"),
	}
}

// Log holds daemon log rotation settings. An empty File means
// <data-dir>/daemon.log.
type Log struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Level      string
}

// LogSettings bundles the log.* keys.
func LogSettings() Log {
	file := GetString("log.file")
	if file == "" {
		file = filepath.Join(DataDir(), "daemon.log")
	}
	return Log{
		File:       file,
		MaxSizeMB:  GetInt("log.max-size-mb"),
		MaxBackups: GetInt("log.max-backups"),
		MaxAgeDays: GetInt("log.max-age-days"),
		Compress:   GetBool("log.compress"),
		Level:      GetString("log.level"),
	}
}

// Redacted returns AllSettings with secrets masked.
func Redacted() map[string]any {
	settings := AllSettings()
	redact(settings, "jira", "api_token")
	redact(settings, "broker", "password")
	return settings
}

func redact(settings map[string]any, section, key string) {
	sub, ok := settings[section].(map[string]any)
	if !ok {
		return
	}
	if s, _ := sub[key].(string); s != "" {
		sub[key] = "********"
	}
}
