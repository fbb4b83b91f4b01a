package config

import "time"

type Config struct {
	ServerAddr string `yaml:"serverAddr"`
	// Таймаут записи в websocket киоска
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

func Default() Config {
	return Config{
		ServerAddr:      ":8080",
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}
