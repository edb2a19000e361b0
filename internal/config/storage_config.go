package config

import "path/filepath"

const (
	redisURLVar    = "REDIS_URL"
	passphraseVar  = "SESSION_PASSPHRASE"
	sessionFileVar = "SESSION_FILE"
)

// StorageConfig describes where and how the session snapshot is persisted.
type StorageConfig interface {
	GetRedisURL() string
	GetSessionPassphrase() string
	GetSessionFile() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

// GetRedisURL returns the redis connection URL for session storage. When
// empty the file repository is used.
func (Storage) GetRedisURL() string {
	return GetEnv(redisURLVar, "")
}

// GetSessionPassphrase returns the passphrase encrypting the session file at
// rest. When empty the snapshot is stored unencrypted.
func (Storage) GetSessionPassphrase() string {
	return GetEnv(passphraseVar, "")
}

func (Storage) GetSessionFile() string {
	return GetEnv(sessionFileVar, filepath.Join(EnvVars{}.GetDataFolder(), "session.json"))
}
