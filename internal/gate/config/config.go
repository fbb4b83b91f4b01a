package config

import "time"

type Config struct {
	// Сколько заказ ждёт карту до отмены; 0 отключает таймер
	AwaitTimeout time.Duration `yaml:"awaitTimeout"`
}

func Default() Config {
	return Config{AwaitTimeout: 2 * time.Minute}
}
