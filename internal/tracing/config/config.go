package config

type Config struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"serviceName"`
}

func Default() Config {
	return Config{
		Endpoint:    "localhost:4318",
		Insecure:    true,
		ServiceName: "cardterminal",
	}
}
