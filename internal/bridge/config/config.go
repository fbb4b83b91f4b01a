package config

import "time"

const (
	DropOldest = "oldest"
	DropNewest = "newest"
)

type Config struct {
	QueueCapacity int           `yaml:"queueCapacity"`
	DropPolicy    string        `yaml:"dropPolicy"`
	GraceWindow   time.Duration `yaml:"graceWindow"`
	MaxSessions   int           `yaml:"maxSessions"`
}

func Default() Config {
	return Config{
		QueueCapacity: 32,
		DropPolicy:    DropOldest,
		GraceWindow:   2 * time.Second,
		MaxSessions:   1,
	}
}
