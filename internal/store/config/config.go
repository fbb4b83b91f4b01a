package config

type Config struct {
	// пустая строка: хранилище в памяти (симулятор, разработка)
	DBDsn string `yaml:"databaseDsn"`
}
