// Package identity persists the registered receiver identity and the registry
// password. The two files are written atomically and are expected to exist
// together or not at all.
package identity

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	// FileName holds the registered identity inside the config directory.
	FileName = "identity.json"
	// PasswordFileName holds the raw registry shared secret.
	PasswordFileName = "password"
)

// ErrInconsistent is returned when only one of the two credential files is
// present on disk.
var ErrInconsistent = errors.New("identity files inconsistent")

// Identity is the registered receiver identity. Immutable once written,
// except through a full re-registration.
type Identity struct {
	UUID        string `json:"uuid"`
	Fingerprint string `json:"fingerprint"`
	Satellite   string `json:"satellite"`
	Address     string `json:"address"`
}

// Load reads the identity and password from dir. Returns (nil, "", nil) when
// the receiver is not registered. A password file without an identity file is
// treated as unregistered leftover from an interrupted save; an identity file
// without a password is an error.
func Load(dir string) (*Identity, string, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if os.IsNotExist(err) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", errors.Wrap(err, "read identity")
	}

	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, "", errors.Wrap(err, "parse identity")
	}
	if id.UUID == "" || id.Fingerprint == "" {
		return nil, "", errors.Wrap(ErrInconsistent, "identity missing required fields")
	}

	pwd, err := os.ReadFile(filepath.Join(dir, PasswordFileName))
	if os.IsNotExist(err) {
		return nil, "", errors.Wrap(ErrInconsistent, "identity present but password missing")
	}
	if err != nil {
		return nil, "", errors.Wrap(err, "read password")
	}
	return &id, string(pwd), nil
}

// Save persists the identity and password. The password is committed first
// and the identity last, so a crash in between leaves the receiver
// unregistered rather than half-registered.
func Save(dir string, id Identity, password string) error {
	if id.UUID == "" || id.Fingerprint == "" {
		return errors.New("incomplete identity")
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode identity")
	}

	if err := atomicWrite(filepath.Join(dir, PasswordFileName), []byte(password)); err != nil {
		return err
	}
	return atomicWrite(filepath.Join(dir, FileName), data)
}

// SavePassword replaces only the password, keeping the identity.
func SavePassword(dir, password string) error {
	return atomicWrite(filepath.Join(dir, PasswordFileName), []byte(password))
}

// Clear removes both credential files. Missing files are not an error.
func Clear(dir string) error {
	if err := os.Remove(filepath.Join(dir, FileName)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove identity")
	}
	if err := os.Remove(filepath.Join(dir, PasswordFileName)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove password")
	}
	return nil
}

// atomicWrite writes data to a temp file in the same directory, fsyncs it,
// and renames it over path with 0600 permissions.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create dir")
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "create temp")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp")
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return errors.Wrap(err, "chmod temp")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "fsync temp")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "rename")
	}

	// Best effort: persist the directory entry as well.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
