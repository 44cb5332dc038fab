package conf

// LoggingConfig controls logrus output for the governance core.
type LoggingConfig struct {
	Level string `json:"log_level" envconfig:"LEVEL" default:"info"`
	File  string `json:"log_file" envconfig:"FILE"`
	// Fields are added to every log entry, e.g. deployment region.
	Fields map[string]string `json:"fields"`
}
