// Package keys owns the lab SSH keypair. Generation happens at most once
// per key path; an existing keypair is never touched.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// keyBits matches what ssh-keygen -b 4096 would produce.
const keyBits = 4096

// Keypair points at the two key files on disk. The public key path is
// always the private key path plus the ".pub" suffix.
type Keypair struct {
	PrivateKeyPath string
	PublicKeyPath  string
}

// GenerationError reports a failed keypair generation. Fatal for the whole
// run; there is no fallback key source.
type GenerationError struct {
	Path string
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("failed to generate keypair at %s: %v", e.Path, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Provisioner creates and locates the lab keypair.
type Provisioner struct {
	logger *slog.Logger
}

func NewProvisioner(logger *slog.Logger) *Provisioner {
	return &Provisioner{
		logger: logger.With(slog.String("component", "keys")),
	}
}

// EnsureKeypair returns the keypair at dir/name, generating an RSA keypair
// without passphrase if the private key does not exist yet. The private
// key is written with owner-only permissions.
func (p *Provisioner) EnsureKeypair(dir, name string) (Keypair, error) {
	kp := Keypair{
		PrivateKeyPath: filepath.Join(dir, name),
		PublicKeyPath:  filepath.Join(dir, name+".pub"),
	}

	if _, err := os.Stat(kp.PrivateKeyPath); err == nil {
		p.logger.Debug("keypair already exists", slog.String("path", kp.PrivateKeyPath))
		return kp, nil
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Keypair{}, &GenerationError{Path: kp.PrivateKeyPath, Err: err}
	}

	p.logger.Info("generating keypair",
		slog.String("path", kp.PrivateKeyPath),
		slog.Int("bits", keyBits),
	)

	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return Keypair{}, &GenerationError{Path: kp.PrivateKeyPath, Err: err}
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := os.WriteFile(kp.PrivateKeyPath, privPEM, 0o600); err != nil {
		return Keypair{}, &GenerationError{Path: kp.PrivateKeyPath, Err: err}
	}

	sshPub, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		os.Remove(kp.PrivateKeyPath)
		return Keypair{}, &GenerationError{Path: kp.PrivateKeyPath, Err: err}
	}

	pubLine := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub))) + " vmlab\n"
	if err := os.WriteFile(kp.PublicKeyPath, []byte(pubLine), 0o644); err != nil {
		os.Remove(kp.PrivateKeyPath)
		return Keypair{}, &GenerationError{Path: kp.PrivateKeyPath, Err: err}
	}

	p.logger.Info("keypair generated", slog.String("path", kp.PrivateKeyPath))
	return kp, nil
}

// PublicKey reads the public key file and returns the authorized_keys line
// without trailing whitespace.
func (p *Provisioner) PublicKey(kp Keypair) (string, error) {
	content, err := os.ReadFile(kp.PublicKeyPath)
	if err != nil {
		return "", fmt.Errorf("failed to read public key %s: %w", kp.PublicKeyPath, err)
	}
	return strings.TrimSpace(string(content)), nil
}
