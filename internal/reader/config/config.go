package config

const (
	TypeNone   = "none"
	TypeStdin  = "stdin"
	TypeDevice = "device"
)

type Config struct {
	// stdin: симулятор, по карте на строку; device: файл устройства (keyboard wedge, serial)
	Type    string `yaml:"type"`
	Device  string `yaml:"device"`
	Radix   int    `yaml:"radix"`
	Session string `yaml:"session"`
}

func Default() Config {
	return Config{
		Type:    TypeStdin,
		Radix:   10,
		Session: "kiosk",
	}
}
