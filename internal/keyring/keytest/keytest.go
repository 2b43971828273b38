// Package keytest generates throwaway OpenPGP keys for tests.
package keytest

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// keyFileName mirrors the gateway's keyring file name. Kept as a literal so
// this helper stays importable from the gateway's own tests.
const keyFileName = "keyring.asc"

func config() *packet.Config {
	// Small keys keep the tests fast.
	return &packet.Config{RSABits: 1024, Algorithm: packet.PubKeyAlgoRSA}
}

// NewEntity generates a fresh RSA keypair.
func NewEntity(t testing.TB) *openpgp.Entity {
	t.Helper()
	e, err := openpgp.NewEntity("Test Receiver", "", "rx@example.com", config())
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return e
}

// WriteKeyring generates a keypair, optionally protects it with passphrase,
// and writes it as the armored keyring file the gateway expects under dir.
func WriteKeyring(t testing.TB, dir, passphrase string) *openpgp.Entity {
	t.Helper()
	e := NewEntity(t)

	if passphrase != "" {
		if err := e.PrivateKey.Encrypt([]byte(passphrase)); err != nil {
			t.Fatalf("encrypt private key: %v", err)
		}
		for _, sub := range e.Subkeys {
			if sub.PrivateKey != nil {
				if err := sub.PrivateKey.Encrypt([]byte(passphrase)); err != nil {
					t.Fatalf("encrypt subkey: %v", err)
				}
			}
		}
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(filepath.Join(dir, keyFileName))
	if err != nil {
		t.Fatalf("create keyring file: %v", err)
	}
	defer f.Close()

	w, err := armor.Encode(f, openpgp.PrivateKeyType, nil)
	if err != nil {
		t.Fatalf("armor encode: %v", err)
	}
	if err := e.SerializePrivateWithoutSigning(w, nil); err != nil {
		t.Fatalf("serialize private key: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close armor: %v", err)
	}
	return e
}

// Encrypt encrypts plaintext to the given entity, returning the armored
// ciphertext the satellite inbox would hold.
func Encrypt(t testing.TB, to *openpgp.Entity, plaintext []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	aw, err := armor.Encode(&buf, "PGP MESSAGE", nil)
	if err != nil {
		t.Fatalf("armor encode: %v", err)
	}
	pw, err := openpgp.Encrypt(aw, []*openpgp.Entity{to}, nil, nil, nil)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := pw.Write(plaintext); err != nil {
		t.Fatalf("write plaintext: %v", err)
	}
	if err := pw.Close(); err != nil {
		t.Fatalf("close message: %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("close armor: %v", err)
	}
	return buf.Bytes()
}
