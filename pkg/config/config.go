package config

import "os"

// Config holds server configuration.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string
	SQLitePath  string
	RedisAddr   string
	CorpusRoot  string
	ProfilesDir string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" && os.Getenv("DATABASE_URL") == "" {
		sqlitePath = "covenant.db"
	}

	corpusRoot := os.Getenv("CORPUS_ROOT")
	if corpusRoot == "" {
		corpusRoot = "./corpora"
	}

	profilesDir := os.Getenv("PROFILES_DIR")
	if profilesDir == "" {
		profilesDir = "./profiles"
	}

	return &Config{
		Port:        port,
		LogLevel:    logLevel,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  sqlitePath,
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		CorpusRoot:  corpusRoot,
		ProfilesDir: profilesDir,
	}
}
