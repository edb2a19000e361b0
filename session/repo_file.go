package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-client/internal/crypto"
)

// FileRepo persists the snapshot as a single file on disk. Writes are atomic
// (temp file plus rename) and the file is created with 0600 permissions. When
// a passphrase is configured the record is sealed with AES-GCM; a corrupt or
// undecryptable file is removed and reported as empty (self-healing).
type FileRepo struct {
	path   string
	cipher crypto.Service
}

// FileRepoOption defines a function type to modify the FileRepo instance.
type FileRepoOption func(*FileRepo)

// WithPassphrase seals the stored record with a key derived from the given
// passphrase. An empty passphrase leaves the record in plain JSON.
func WithPassphrase(passphrase string) FileRepoOption {
	return func(r *FileRepo) {
		r.cipher = crypto.NewService(passphrase)
	}
}

// NewFileRepo creates a file-backed session repository at the given path,
// creating parent directories as needed.
func NewFileRepo(path string, options ...FileRepoOption) (*FileRepo, error) {
	if path == "" {
		return nil, errors.New("[NewFileRepo] path is required")
	}

	repo := &FileRepo{
		path:   path,
		cipher: crypto.NoopService{},
	}
	for _, option := range options {
		option(repo)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "[NewFileRepo] create data folder")
	}
	return repo, nil
}

// Save writes the snapshot to disk, replacing any previous record.
func (r *FileRepo) Save(_ context.Context, snapshot Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, "[FileRepo.Save] marshal snapshot")
	}

	sealed, err := r.cipher.Encrypt(data)
	if err != nil {
		return errors.Wrap(err, "[FileRepo.Save] seal snapshot")
	}

	// Write to a temp file first so a crash mid-write never corrupts the record
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return errors.Wrap(err, "[FileRepo.Save] write session file")
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return errors.Wrap(err, "[FileRepo.Save] replace session file")
	}
	return nil
}

// Load reads the stored snapshot. A missing file means no session; a file
// that cannot be opened, decrypted or parsed is removed and reported as
// empty.
func (r *FileRepo) Load(_ context.Context) (Snapshot, error) {
	sealed, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "[FileRepo.Load] read session file")
	}

	data, err := r.cipher.Decrypt(sealed)
	if err != nil {
		return r.selfHeal("undecryptable session file", err), nil
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return r.selfHeal("unparseable session file", err), nil
	}
	if !snapshot.Complete() && !snapshot.Empty() {
		return r.selfHeal("partial session record", nil), nil
	}
	return snapshot, nil
}

// Clear removes the stored record. Clearing an absent record is not an error.
func (r *FileRepo) Clear(_ context.Context) error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "[FileRepo.Clear] remove session file")
	}
	return nil
}

func (r *FileRepo) selfHeal(reason string, err error) Snapshot {
	log.Warn().Err(err).Str("path", r.path).Msg("Clearing corrupt session record: " + reason)
	if removeErr := os.Remove(r.path); removeErr != nil && !os.IsNotExist(removeErr) {
		log.Warn().Err(removeErr).Str("path", r.path).Msg("Failed to remove corrupt session record")
	}
	return Snapshot{}
}
