// Package security signs built artifacts so a consumer can verify a
// distributable came from this runner and was not swapped after the
// fact. Keys are ed25519, stored as hex files.
package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"wheelsmith/pkg/utils"
)

// GenerateKeyPair creates a new ed25519 key pair.
func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// SaveKeyPair writes both keys as hex files. The private key file is
// created owner-readable only.
func SaveKeyPair(pub ed25519.PublicKey, priv ed25519.PrivateKey, pubPath, privPath string) error {
	if err := os.WriteFile(pubPath, []byte(hex.EncodeToString(pub)), 0o644); err != nil {
		return err
	}
	return os.WriteFile(privPath, []byte(hex.EncodeToString(priv)), 0o600)
}

// LoadPrivateKey loads an ed25519 private key from a hex-encoded file.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	keyBytes, err := hex.DecodeString(string(data))
	if err != nil {
		return nil, err
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid private key size")
	}
	return ed25519.PrivateKey(keyBytes), nil
}

// LoadPublicKey loads an ed25519 public key from a hex-encoded file.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	keyBytes, err := hex.DecodeString(string(data))
	if err != nil {
		return nil, err
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return nil, errors.New("invalid public key size")
	}
	return ed25519.PublicKey(keyBytes), nil
}

// SignArtifact signs the sha256 of the artifact and writes a detached
// <artifact>.sig file containing the hex signature. It returns the
// signature file path.
func SignArtifact(priv ed25519.PrivateKey, artifactPath string) (string, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return "", errors.New("invalid private key size")
	}
	digest, err := utils.HashFile(artifactPath)
	if err != nil {
		return "", fmt.Errorf("hash artifact: %w", err)
	}
	sig := ed25519.Sign(priv, []byte(digest))

	sigPath := artifactPath + ".sig"
	if err := os.WriteFile(sigPath, []byte(hex.EncodeToString(sig)), 0o644); err != nil {
		return "", fmt.Errorf("write signature: %w", err)
	}
	return sigPath, nil
}

// VerifyArtifact checks the detached signature against the artifact's
// current sha256.
func VerifyArtifact(pub ed25519.PublicKey, artifactPath, sigPath string) (bool, error) {
	digest, err := utils.HashFile(artifactPath)
	if err != nil {
		return false, fmt.Errorf("hash artifact: %w", err)
	}
	sigHex, err := os.ReadFile(sigPath)
	if err != nil {
		return false, err
	}
	sig, err := hex.DecodeString(string(sigHex))
	if err != nil {
		return false, err
	}
	return ed25519.Verify(pub, []byte(digest), sig), nil
}
