package config

type Config interface {
	EnvConfig
	ServiceConfig
	StorageConfig
}

type EnvConfig interface {
	GetAppName() string
	GetDataFolder() string
	GetEnv() string
}

type mainConfig struct {
	EnvVars
	Service
	Storage
}

func New() Config {
	return mainConfig{}
}
