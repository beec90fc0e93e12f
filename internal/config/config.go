// Package config loads gluepoint's runtime configuration through viper,
// mirroring the teacher's cmd/server/main.go initConfig(): a config file
// search path, a GLUEPOINT_ environment prefix, explicit BindEnv calls
// for the spec's non-prefixed variable names, and SetDefault calls for
// everything that has a sane default.
package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved set of values gluepoint needs to start,
// per spec.md §6.
type Config struct {
	GraphQLPort int
	WebPort     int
	AuthToken   string

	DatastoreType string // memory | file | postgres
	StorageDir    string

	PostgresHost     string
	PostgresPort     int
	PostgresUsername string
	PostgresPassword string
	PostgresDB       string

	LLMProvider   string // OPENAI | GEMINI | ANTHROPIC
	LLMAPIKey     string
	LLMModel      string
	OpenAIBaseURL string

	MasterEncryptionKey string

	MaxLoopConcurrency int
	CallRetries        int
	WorkflowTimeout    time.Duration
}

// Load reads configuration from (in increasing priority) defaults, a
// config file, and environment variables, exactly as the teacher's
// initConfig does for its own settings.
func Load() Config {
	viper.SetConfigName("gluepoint")
	viper.SetConfigType("yaml")

	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.gluepoint")
	viper.AddConfigPath("/etc/gluepoint")

	viper.SetEnvPrefix("GLUEPOINT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindSpecEnvVars()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// no config file; defaults/env vars only
		} else {
			log.Printf("config: error reading config file: %v", err)
		}
	}

	return Config{
		GraphQLPort: viper.GetInt("graphql_port"),
		WebPort:     viper.GetInt("web_port"),
		AuthToken:   viper.GetString("auth_token"),

		DatastoreType: strings.ToLower(viper.GetString("datastore_type")),
		StorageDir:    viper.GetString("storage_dir"),

		PostgresHost:     viper.GetString("postgres_host"),
		PostgresPort:     viper.GetInt("postgres_port"),
		PostgresUsername: viper.GetString("postgres_username"),
		PostgresPassword: viper.GetString("postgres_password"),
		PostgresDB:       viper.GetString("postgres_db"),

		LLMProvider:   strings.ToUpper(viper.GetString("llm_provider")),
		LLMAPIKey:     viper.GetString("llm_api_key"),
		LLMModel:      viper.GetString("llm_model"),
		OpenAIBaseURL: viper.GetString("openai_base_url"),

		MasterEncryptionKey: viper.GetString("master_encryption_key"),

		MaxLoopConcurrency: viper.GetInt("max_loop_concurrency"),
		CallRetries:        viper.GetInt("call_retries"),
		WorkflowTimeout:    viper.GetDuration("workflow_timeout"),
	}
}

// bindSpecEnvVars wires the exact (unprefixed) environment variable
// names spec.md §6 documents, since AutomaticEnv with the GLUEPOINT
// prefix alone would only catch GLUEPOINT_-prefixed names.
func bindSpecEnvVars() {
	binds := map[string]string{
		"graphql_port":           "GRAPHQL_PORT",
		"web_port":               "WEB_PORT",
		"auth_token":             "AUTH_TOKEN",
		"datastore_type":         "DATASTORE_TYPE",
		"storage_dir":            "STORAGE_DIR",
		"postgres_host":          "POSTGRES_HOST",
		"postgres_port":          "POSTGRES_PORT",
		"postgres_username":      "POSTGRES_USERNAME",
		"postgres_password":      "POSTGRES_PASSWORD",
		"postgres_db":            "POSTGRES_DB",
		"llm_provider":           "LLM_PROVIDER",
		"llm_api_key":            "LLM_API_KEY",
		"llm_model":              "LLM_MODEL",
		"openai_base_url":        "OPENAI_BASE_URL",
		"master_encryption_key":  "MASTER_ENCRYPTION_KEY",
		"max_loop_concurrency":   "MAX_LOOP_CONCURRENCY",
		"call_retries":           "CALL_RETRIES",
		"workflow_timeout":       "WORKFLOW_TIMEOUT",
	}
	for key, env := range binds {
		_ = viper.BindEnv(key, env)
	}
}

func setDefaults() {
	viper.SetDefault("graphql_port", 3000)
	viper.SetDefault("web_port", 3001)
	viper.SetDefault("datastore_type", "memory")
	viper.SetDefault("storage_dir", "./.gluepoint")
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_db", "gluepoint")
	viper.SetDefault("llm_provider", "OPENAI")
	viper.SetDefault("llm_model", "gpt-4o")
	viper.SetDefault("max_loop_concurrency", 5)
	viper.SetDefault("call_retries", 8)
	viper.SetDefault("workflow_timeout", 5*time.Minute)
}

// PostgresDSN builds a postgres:// connection string from the resolved
// Postgres fields.
func (c Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PostgresUsername, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresDB)
}
