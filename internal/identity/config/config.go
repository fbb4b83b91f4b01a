package config

import "time"

// Имена источников для списка finders
const (
	FinderStore     = "store"
	FinderRedis     = "redis"
	FinderDirectory = "directory"
)

type Config struct {
	// Порядок опроса источников, фиксирован на время работы процесса
	Finders       []string      `yaml:"finders"`
	CacheTTL      time.Duration `yaml:"cacheTTL"`
	CacheShards   int           `yaml:"cacheShards"`
	FinderTimeout time.Duration `yaml:"finderTimeout"`
	Prefetch      bool          `yaml:"prefetch"`

	DirectoryAddr             string        `yaml:"directoryAddr"`
	DirectoryFailureThreshold int           `yaml:"directoryFailureThreshold"`
	DirectoryCooldown         time.Duration `yaml:"directoryCooldown"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
	RedisPrefix   string `yaml:"redisPrefix"`
}

func Default() Config {
	return Config{
		Finders:                   []string{FinderStore},
		CacheTTL:                  8 * time.Hour,
		CacheShards:               16,
		FinderTimeout:             2 * time.Second,
		DirectoryFailureThreshold: 5,
		DirectoryCooldown:         30 * time.Second,
		RedisPrefix:               "cardterminal",
	}
}
