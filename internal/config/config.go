package config

// this holds the resolved configuration values from CLI
var (
	StorePath     string // path to the canonical store (SQLite file)
	PipelinesPath string // device pipeline YAML; built-in profiles when empty
	LogLevel      string // zap log level
	LogFilter     string // zapfilter rules, e.g. "debug:importer.pipeline* info+:*"
	LogDev        bool   // human readable development logging
	EnvFile       string // optional .env file loaded before flags are resolved
)
