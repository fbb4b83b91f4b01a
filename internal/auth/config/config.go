package config

import "time"

type Config struct {
	// Общий секрет киосков; пустой отключает вход по токену
	KioskSecret string        `yaml:"kioskSecret"`
	TokenSecret string        `yaml:"tokenSecret"`
	TokenTTL    time.Duration `yaml:"tokenTTL"`
	// /card_inserts только с localhost
	TerminalFirewall bool `yaml:"terminalFirewall"`
}

func Default() Config {
	return Config{
		TokenTTL:         12 * time.Hour,
		TerminalFirewall: true,
	}
}
