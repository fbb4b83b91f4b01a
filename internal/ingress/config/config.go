package config

import "time"

type Config struct {
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queueSize"`
	AckBudget      time.Duration `yaml:"ackBudget"`
	ResolveTimeout time.Duration `yaml:"resolveTimeout"`
	// Сессия киоска для касаний без явной сессии
	DefaultSession string `yaml:"defaultSession"`
}

func Default() Config {
	return Config{
		Workers:        4,
		QueueSize:      64,
		AckBudget:      50 * time.Millisecond,
		ResolveTimeout: 3 * time.Second,
		DefaultSession: "kiosk",
	}
}
