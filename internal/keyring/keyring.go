// Package keyring wraps the receiver's long-term OpenPGP key. The private
// key stays encrypted at rest for the whole process lifetime; the passphrase
// lives in a memguard enclave and is opened only while one signing or
// decryption runs, against a per-operation copy of the key.
package keyring

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/awnumar/memguard"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// KeyFileName is the armored private keyring inside the keyring directory.
const KeyFileName = "keyring.asc"

var (
	// ErrLocked is returned by Sign and Decrypt before a successful Unlock.
	ErrLocked = errors.New("keyring locked")
	// ErrBadPassphrase is returned by Unlock when the passphrase does not
	// open the private key.
	ErrBadPassphrase = errors.New("bad passphrase")
)

// Keyring signs and decrypts with the receiver's long-term key.
type Keyring struct {
	mu         sync.Mutex
	raw        []byte          // armored keyring exactly as stored on disk
	entity     *openpgp.Entity // public half only: fingerprint, key export
	passphrase *memguard.Enclave
	unlocked   bool
	log        *logrus.Entry
}

// Open reads the armored private keyring from dir. The keyring starts
// locked; call Unlock before signing or decrypting.
func Open(dir string, log *logrus.Entry) (*Keyring, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	path := filepath.Join(dir, KeyFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "open keyring")
	}

	ring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "read keyring %s", path)
	}
	if len(ring) == 0 || ring[0].PrivateKey == nil {
		return nil, errors.Errorf("no private key in %s", path)
	}
	return &Keyring{raw: raw, entity: ring[0], log: log}, nil
}

// Fingerprint returns the stable identifier of the receiver key.
func (k *Keyring) Fingerprint() string {
	return fmt.Sprintf("%X", k.entity.PrimaryKey.Fingerprint)
}

// PublicKeyArmored exports the public half of the receiver key.
func (k *Keyring) PublicKeyArmored() (string, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return "", errors.Wrap(err, "armor encode")
	}
	if err := k.entity.Serialize(w); err != nil {
		return "", errors.Wrap(err, "serialize public key")
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrap(err, "close armor")
	}
	return buf.String(), nil
}

// Unlocked reports whether a successful Unlock has happened.
func (k *Keyring) Unlocked() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.unlocked
}

// Unlock verifies the passphrase by decrypting a throwaway copy of the
// private key and producing a probe signature with it. On success the
// passphrase is sealed into the enclave; the at-rest key stays encrypted.
func (k *Keyring) Unlock(passphrase []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.unlocked {
		return nil
	}

	ring, err := k.openSession(passphrase)
	if err != nil {
		return err
	}
	if err := openpgp.DetachSign(io.Discard, ring[0], strings.NewReader("unlock probe"), nil); err != nil {
		return errors.Wrap(ErrBadPassphrase, err.Error())
	}

	if len(passphrase) > 0 {
		buf := make([]byte, len(passphrase))
		copy(buf, passphrase)
		k.passphrase = memguard.NewEnclave(buf)
	}
	k.unlocked = true
	k.log.WithField("fingerprint", k.Fingerprint()).Debug("keyring unlocked")
	return nil
}

// Sign produces an armored detached signature over data.
func (k *Keyring) Sign(data []byte) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.unlocked {
		return "", ErrLocked
	}
	var buf bytes.Buffer
	err := k.withSession(func(ring openpgp.EntityList) error {
		return openpgp.ArmoredDetachSign(&buf, ring[0], bytes.NewReader(data), nil)
	})
	if err != nil {
		return "", errors.Wrap(err, "detached sign")
	}
	return buf.String(), nil
}

// Decrypt opens a message encrypted to the receiver key. Both armored and
// binary ciphertexts are accepted.
func (k *Keyring) Decrypt(ciphertext []byte) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.unlocked {
		return nil, ErrLocked
	}

	var plaintext []byte
	err := k.withSession(func(ring openpgp.EntityList) error {
		var src io.Reader = bytes.NewReader(ciphertext)
		if block, err := armor.Decode(bytes.NewReader(ciphertext)); err == nil {
			src = block.Body
		}
		md, err := openpgp.ReadMessage(src, ring, nil, nil)
		if err != nil {
			return errors.Wrap(err, "read message")
		}
		plaintext, err = io.ReadAll(md.UnverifiedBody)
		return errors.Wrap(err, "decrypt body")
	})
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// withSession opens the enclave and runs fn over a freshly decrypted copy of
// the keyring. The copy and the open passphrase buffer live only for the
// duration of the call.
func (k *Keyring) withSession(fn func(openpgp.EntityList) error) error {
	run := func(passphrase []byte) error {
		ring, err := k.openSession(passphrase)
		if err != nil {
			return err
		}
		return fn(ring)
	}

	if k.passphrase == nil {
		return run(nil)
	}
	buf, err := k.passphrase.Open()
	if err != nil {
		return errors.Wrap(err, "open passphrase enclave")
	}
	defer buf.Destroy()
	return run(buf.Bytes())
}

// openSession parses a fresh copy of the stored keyring and decrypts its
// private keys with the given passphrase.
func (k *Keyring) openSession(passphrase []byte) (openpgp.EntityList, error) {
	ring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(k.raw))
	if err != nil {
		return nil, errors.Wrap(err, "reparse keyring")
	}
	entity := ring[0]
	if entity.PrivateKey.Encrypted {
		if err := entity.PrivateKey.Decrypt(passphrase); err != nil {
			return nil, errors.Wrap(ErrBadPassphrase, err.Error())
		}
	}
	for _, sub := range entity.Subkeys {
		if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
			if err := sub.PrivateKey.Decrypt(passphrase); err != nil {
				return nil, errors.Wrap(ErrBadPassphrase, err.Error())
			}
		}
	}
	return ring, nil
}
