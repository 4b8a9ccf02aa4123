package keyvault

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/youmark/pkcs8"

	"github.com/i-bosquet/petconnect/core"
	pcerrors "github.com/i-bosquet/petconnect/errors"
	blog "github.com/i-bosquet/petconnect/log"
	"github.com/i-bosquet/petconnect/mocks"
	"github.com/i-bosquet/petconnect/test"
)

var ctx = context.Background()

// writeKeyPair writes an encrypted PKCS#8 private key and a SPKI public
// key under dir and returns the generated key. Small keys keep the
// tests fast.
func writeKeyPair(t *testing.T, dir, name, password string) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	test.AssertNotError(t, err, "generating key pair")

	der, err := pkcs8.MarshalPrivateKey(key, []byte(password), pkcs8.DefaultOpts)
	test.AssertNotError(t, err, "marshalling encrypted PKCS#8")
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: der})
	test.AssertNotError(t, os.WriteFile(filepath.Join(dir, name+".key.pem"), privPEM, 0600), "writing private PEM")

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	test.AssertNotError(t, err, "marshalling SPKI")
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	test.AssertNotError(t, os.WriteFile(filepath.Join(dir, name+".pub.pem"), pubPEM, 0644), "writing public PEM")
	return key
}

func initVault(t *testing.T) (*KeyVault, *mocks.Registry, *rsa.PrivateKey, string) {
	t.Helper()
	dir := t.TempDir()
	key := writeKeyPair(t, dir, "vet-11", "hunter2")

	registry := mocks.NewRegistry()
	registry.Vets[11] = &core.Vet{
		ID:             11,
		Name:           "Ana",
		ClinicID:       1,
		PrivateKeyPath: "vet-11.key.pem",
		PublicKeyPath:  "vet-11.pub.pem",
	}
	return New(dir, 4, registry, blog.NewMock()), registry, key, dir
}

func TestLoadPrivate(t *testing.T) {
	vault, _, key, _ := initVault(t)

	handle, err := vault.LoadPrivate(ctx, 11, core.RoleVet, "hunter2")
	test.AssertNotError(t, err, "loading private key")
	loaded, err := handle.Key()
	test.AssertNotError(t, err, "reading handle")
	test.AssertEquals(t, loaded.D.Cmp(key.D), 0)
}

func TestLoadPrivateWrongPassword(t *testing.T) {
	vault, _, _, _ := initVault(t)

	_, err := vault.LoadPrivate(ctx, 11, core.RoleVet, "wrong")
	test.AssertError(t, err, "loading with a wrong password")
	test.Assert(t, pcerrors.Is(err, pcerrors.KeyDecryptionFailed), "expected KeyDecryptionFailed")
	// The error must not leak the key path.
	test.AssertNotContains(t, err.Error(), string(filepath.Separator))
}

func TestLoadPrivateUnknownPrincipal(t *testing.T) {
	vault, _, _, _ := initVault(t)

	_, err := vault.LoadPrivate(ctx, 99, core.RoleVet, "hunter2")
	test.AssertError(t, err, "loading for an unknown vet")
	test.Assert(t, pcerrors.Is(err, pcerrors.VetNotFound), "expected VetNotFound")
}

func TestLoadPrivateMissingFile(t *testing.T) {
	vault, registry, _, _ := initVault(t)
	registry.Vets[12] = &core.Vet{ID: 12, ClinicID: 1, PrivateKeyPath: "nope.key.pem"}

	_, err := vault.LoadPrivate(ctx, 12, core.RoleVet, "hunter2")
	test.AssertError(t, err, "loading a missing key file")
	test.Assert(t, pcerrors.Is(err, pcerrors.KeyNotFound), "expected KeyNotFound")
}

func TestLoadPrivateGarbageFile(t *testing.T) {
	vault, registry, _, dir := initVault(t)
	test.AssertNotError(t, os.WriteFile(filepath.Join(dir, "garbage.pem"), []byte("not a pem"), 0600), "writing garbage")
	registry.Vets[13] = &core.Vet{ID: 13, ClinicID: 1, PrivateKeyPath: "garbage.pem"}

	_, err := vault.LoadPrivate(ctx, 13, core.RoleVet, "hunter2")
	test.AssertError(t, err, "loading a garbage key file")
	test.Assert(t, pcerrors.Is(err, pcerrors.KeyFormatInvalid), "expected KeyFormatInvalid")
}

func TestLoadPrivateCaches(t *testing.T) {
	vault, _, _, _ := initVault(t)

	first, err := vault.LoadPrivate(ctx, 11, core.RoleVet, "hunter2")
	test.AssertNotError(t, err, "first load")
	second, err := vault.LoadPrivate(ctx, 11, core.RoleVet, "hunter2")
	test.AssertNotError(t, err, "second load")
	test.Assert(t, first == second, "expected the cached handle on the second load")
}

func TestInvalidateZeroesHandle(t *testing.T) {
	vault, _, _, _ := initVault(t)

	handle, err := vault.LoadPrivate(ctx, 11, core.RoleVet, "hunter2")
	test.AssertNotError(t, err, "loading private key")
	vault.Invalidate(11, core.RoleVet)

	_, err = handle.Key()
	test.AssertError(t, err, "reading a zeroed handle")

	// A fresh load after invalidation decrypts again from disk.
	fresh, err := vault.LoadPrivate(ctx, 11, core.RoleVet, "hunter2")
	test.AssertNotError(t, err, "reloading after invalidation")
	_, err = fresh.Key()
	test.AssertNotError(t, err, "reading the fresh handle")
}

func TestCloseZeroesEverything(t *testing.T) {
	vault, _, _, _ := initVault(t)
	handle, err := vault.LoadPrivate(ctx, 11, core.RoleVet, "hunter2")
	test.AssertNotError(t, err, "loading private key")
	vault.Close()
	_, err = handle.Key()
	test.AssertError(t, err, "reading a handle after Close")
}

func TestLoadPublic(t *testing.T) {
	vault, _, key, _ := initVault(t)
	pub, err := vault.LoadPublic(ctx, 11, core.RoleVet)
	test.AssertNotError(t, err, "loading public key")
	test.AssertEquals(t, pub.N.Cmp(key.PublicKey.N), 0)
}

func TestResolvePublicFromPEM(t *testing.T) {
	_, _, key, dir := initVault(t)
	pemBytes, err := os.ReadFile(filepath.Join(dir, "vet-11.pub.pem"))
	test.AssertNotError(t, err, "reading public PEM")

	pub, err := ResolvePublicFromPEM(base64.StdEncoding.EncodeToString(pemBytes))
	test.AssertNotError(t, err, "resolving public key from base64 PEM")
	test.AssertEquals(t, pub.N.Cmp(key.PublicKey.N), 0)

	_, err = ResolvePublicFromPEM("!!!not base64!!!")
	test.AssertError(t, err, "resolving garbage")
	test.Assert(t, pcerrors.Is(err, pcerrors.KeyFormatInvalid), "expected KeyFormatInvalid")
}
