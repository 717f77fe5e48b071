package keys

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func testProvisioner() *Provisioner {
	return NewProvisioner(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEnsureKeypairGenerates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")

	kp, err := testProvisioner().EnsureKeypair(dir, "lab_rsa")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "lab_rsa"), kp.PrivateKeyPath)
	assert.Equal(t, kp.PrivateKeyPath+".pub", kp.PublicKeyPath)

	privInfo, err := os.Stat(kp.PrivateKeyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), privInfo.Mode().Perm())

	privBytes, err := os.ReadFile(kp.PrivateKeyPath)
	require.NoError(t, err)
	signer, err := ssh.ParsePrivateKey(privBytes)
	require.NoError(t, err)

	pubBytes, err := os.ReadFile(kp.PublicKeyPath)
	require.NoError(t, err)
	pub, _, _, _, err := ssh.ParseAuthorizedKey(pubBytes)
	require.NoError(t, err)

	// Public key file must correspond to the private key.
	assert.Equal(t, signer.PublicKey().Marshal(), pub.Marshal())
	assert.True(t, strings.HasPrefix(string(pubBytes), "ssh-rsa "))
}

func TestEnsureKeypairIdempotent(t *testing.T) {
	dir := t.TempDir()
	p := testProvisioner()

	kp1, err := p.EnsureKeypair(dir, "lab_rsa")
	require.NoError(t, err)

	privBefore, err := os.ReadFile(kp1.PrivateKeyPath)
	require.NoError(t, err)
	pubBefore, err := os.ReadFile(kp1.PublicKeyPath)
	require.NoError(t, err)

	kp2, err := p.EnsureKeypair(dir, "lab_rsa")
	require.NoError(t, err)
	assert.Equal(t, kp1, kp2)

	privAfter, err := os.ReadFile(kp2.PrivateKeyPath)
	require.NoError(t, err)
	pubAfter, err := os.ReadFile(kp2.PublicKeyPath)
	require.NoError(t, err)

	// Second call must not regenerate anything.
	assert.Equal(t, privBefore, privAfter)
	assert.Equal(t, pubBefore, pubAfter)
}

func TestEnsureKeypairUnwritableDir(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	// A file in the parent path makes directory creation impossible.
	_, err := testProvisioner().EnsureKeypair(filepath.Join(blocker, "keys"), "lab_rsa")
	require.Error(t, err)

	var genErr *GenerationError
	assert.ErrorAs(t, err, &genErr)
}

func TestPublicKey(t *testing.T) {
	p := testProvisioner()

	kp, err := p.EnsureKeypair(t.TempDir(), "lab_rsa")
	require.NoError(t, err)

	line, err := p.PublicKey(kp)
	require.NoError(t, err)
	assert.False(t, strings.HasSuffix(line, "\n"))
	assert.True(t, strings.HasPrefix(line, "ssh-rsa "))

	_, err = p.PublicKey(Keypair{PublicKeyPath: "/nonexistent.pub"})
	assert.Error(t, err)
}
