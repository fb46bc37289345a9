// Package identity provides the file-backed ed25519 signing identity used to
// sign ledger submissions and off-chain store query envelopes.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	privKeyFile = "id_ed25519"
	pubKeyFile  = "id_ed25519.pub"
)

// Signer is the narrow signing contract consumed by the proof submitter and
// the off-chain store adapter. Key-custody internals beyond this provider
// are an external concern.
type Signer interface {
	// Address returns the hex ledger address derived from the public key.
	Address() string

	// PublicKey returns the raw ed25519 public key.
	PublicKey() ed25519.PublicKey

	// Sign signs msg with the identity's private key.
	Sign(msg []byte) []byte
}

// FileIdentity is a Signer backed by base64-encoded key files on disk.
type FileIdentity struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	addr string
}

// LoadOrCreate loads the keypair stored under dir, generating and persisting
// a fresh one when none exists.
func LoadOrCreate(dir string) (*FileIdentity, error) {
	privPath := filepath.Join(dir, privKeyFile)
	pubPath := filepath.Join(dir, pubKeyFile)

	priv, pub, err := readKeyFiles(privPath, pubPath)
	if err == nil {
		return newFileIdentity(priv, pub), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load signing identity: %w", err)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	pub, priv, err = ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing identity: %w", err)
	}
	if err := writeKeyFiles(privPath, pubPath, priv, pub); err != nil {
		return nil, fmt.Errorf("failed to persist signing identity: %w", err)
	}
	return newFileIdentity(priv, pub), nil
}

func newFileIdentity(priv ed25519.PrivateKey, pub ed25519.PublicKey) *FileIdentity {
	return &FileIdentity{priv: priv, pub: pub, addr: AddressOf(pub)}
}

func (f *FileIdentity) Address() string             { return f.addr }
func (f *FileIdentity) PublicKey() ed25519.PublicKey { return f.pub }

func (f *FileIdentity) Sign(msg []byte) []byte {
	return ed25519.Sign(f.priv, msg)
}

// AddressOf derives the hex ledger address for a public key: the last 20
// bytes of SHA-256(pub).
func AddressOf(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[len(sum)-20:])
}

// Verify reports whether sig is a valid signature of msg by pub.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pub, msg, sig)
}

func readKeyFiles(privPath, pubPath string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	privRaw, err := os.ReadFile(privPath)
	if err != nil {
		return nil, nil, err
	}
	pubRaw, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, nil, err
	}
	priv, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(privRaw)))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid private key encoding: %w", err)
	}
	pub, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(pubRaw)))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid public key encoding: %w", err)
	}
	if len(priv) != ed25519.PrivateKeySize || len(pub) != ed25519.PublicKeySize {
		return nil, nil, fmt.Errorf("bad key sizes: priv=%d pub=%d", len(priv), len(pub))
	}
	return ed25519.PrivateKey(priv), ed25519.PublicKey(pub), nil
}

func writeKeyFiles(privPath, pubPath string, priv ed25519.PrivateKey, pub ed25519.PublicKey) error {
	if err := os.WriteFile(privPath, []byte(base64.StdEncoding.EncodeToString(priv)), 0o600); err != nil {
		return err
	}
	return os.WriteFile(pubPath, []byte(base64.StdEncoding.EncodeToString(pub)), 0o644)
}
