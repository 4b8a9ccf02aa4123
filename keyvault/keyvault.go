// Package keyvault resolves, decrypts and caches the asymmetric key
// material of vet and clinic principals.
//
// Private keys are encrypted PKCS#8 PEM files; public keys are
// SubjectPublicKeyInfo PEM files. Key paths are tracked on the principal
// and resolved against a configured base directory. Decrypted private
// keys are held behind opaque handles that are zeroed on eviction and on
// vault shutdown.
package keyvault

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/youmark/pkcs8"

	"github.com/i-bosquet/petconnect/core"
	pcerrors "github.com/i-bosquet/petconnect/errors"
	blog "github.com/i-bosquet/petconnect/log"
)

const (
	privatePEMType = "ENCRYPTED PRIVATE KEY"
	publicPEMType  = "PUBLIC KEY"
)

// Handle is an opaque reference to a decrypted private key. Handles are
// owned by the vault; callers must not retain the underlying key beyond
// the operation they obtained the handle for.
type Handle struct {
	mu  sync.Mutex
	key *rsa.PrivateKey

	// passwordDigest lets the vault detect a cached entry that was
	// decrypted with a different password than the one supplied for the
	// current operation.
	passwordDigest [sha256.Size]byte
}

// Key returns the private key behind the handle, or an error if the
// handle has been revoked.
func (h *Handle) Key() (*rsa.PrivateKey, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.key == nil {
		return nil, pcerrors.SignatureGenerationFailedError("private key handle has been revoked")
	}
	return h.key, nil
}

// Zero destroys the key material behind the handle. Subsequent Key
// calls fail.
func (h *Handle) Zero() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.key == nil {
		return
	}
	h.key.D.SetInt64(0)
	for _, p := range h.key.Primes {
		p.SetInt64(0)
	}
	h.key.Precomputed = rsa.PrecomputedValues{}
	h.key = nil
}

// NewHandle wraps an already-loaded private key in a handle outside the
// vault cache. The caller owns the handle's lifetime and should Zero it
// when done.
func NewHandle(key *rsa.PrivateKey) *Handle {
	return &Handle{key: key}
}

type cacheKey struct {
	principalID int64
	role        core.PrincipalRole
}

// KeyVault loads principal key material from disk and caches decrypted
// private-key handles per (principal, role). The cache is in-memory only;
// entries are zeroed on eviction, invalidation and shutdown.
type KeyVault struct {
	baseDir  string
	registry core.RegistryStore
	log      blog.Logger

	mu    sync.Mutex
	cache *lru.Cache
}

// New constructs a KeyVault. cacheSize bounds the number of decrypted
// private keys held in memory at once.
func New(baseDir string, cacheSize int, registry core.RegistryStore, logger blog.Logger) *KeyVault {
	cache := lru.New(cacheSize)
	cache.OnEvicted = func(_ lru.Key, value interface{}) {
		value.(*Handle).Zero()
	}
	return &KeyVault{
		baseDir:  baseDir,
		registry: registry,
		log:      logger,
		cache:    cache,
	}
}

// AbsolutePathOf resolves a key path tracked on a principal against the
// vault's base directory. Absolute paths are used as-is.
func (kv *KeyVault) AbsolutePathOf(relative string) string {
	if filepath.IsAbs(relative) {
		return relative
	}
	return filepath.Join(kv.baseDir, relative)
}

// keyPaths returns the (private, public) key paths of a principal.
func (kv *KeyVault) keyPaths(ctx context.Context, principalID int64, role core.PrincipalRole) (string, string, error) {
	switch role {
	case core.RoleVet:
		vet, err := kv.registry.GetVet(ctx, principalID)
		if err != nil {
			return "", "", err
		}
		return vet.PrivateKeyPath, vet.PublicKeyPath, nil
	case core.RoleClinic:
		clinic, err := kv.registry.GetClinic(ctx, principalID)
		if err != nil {
			return "", "", err
		}
		return clinic.PrivateKeyPath, clinic.PublicKeyPath, nil
	}
	return "", "", pcerrors.KeyNotFoundError("unknown principal role %q", role)
}

// LoadPrivate resolves, decrypts and caches the private key of a
// principal. A failed decryption never leaks partial material and never
// poisons the cache.
func (kv *KeyVault) LoadPrivate(ctx context.Context, principalID int64, role core.PrincipalRole, password string) (*Handle, error) {
	digest := sha256.Sum256([]byte(password))

	ck := cacheKey{principalID: principalID, role: role}
	kv.mu.Lock()
	if cached, ok := kv.cache.Get(ck); ok {
		handle := cached.(*Handle)
		if subtle.ConstantTimeCompare(handle.passwordDigest[:], digest[:]) == 1 {
			kv.mu.Unlock()
			return handle, nil
		}
		// Password changed since the entry was cached: drop it (zeroing
		// the old material via the eviction hook) and decrypt afresh.
		kv.cache.Remove(ck)
	}
	kv.mu.Unlock()

	privPath, _, err := kv.keyPaths(ctx, principalID, role)
	if err != nil {
		return nil, err
	}
	key, err := kv.readPrivatePEM(kv.AbsolutePathOf(privPath), password)
	if err != nil {
		return nil, err
	}

	handle := &Handle{key: key, passwordDigest: digest}
	kv.mu.Lock()
	kv.cache.Add(ck, handle)
	kv.mu.Unlock()
	return handle, nil
}

// LoadPublic resolves and parses the public key of a principal.
func (kv *KeyVault) LoadPublic(ctx context.Context, principalID int64, role core.PrincipalRole) (*rsa.PublicKey, error) {
	_, pubPath, err := kv.keyPaths(ctx, principalID, role)
	if err != nil {
		return nil, err
	}
	return kv.readPublicPEM(kv.AbsolutePathOf(pubPath))
}

// ResolvePublicFromPEM parses a base64-wrapped SubjectPublicKeyInfo PEM,
// as carried inside QR verification requests.
func ResolvePublicFromPEM(pemB64 string) (*rsa.PublicKey, error) {
	pemBytes, err := base64.StdEncoding.DecodeString(pemB64)
	if err != nil {
		return nil, pcerrors.KeyFormatInvalidError("decoding base64 public key PEM: %s", err)
	}
	return parsePublicPEM(pemBytes)
}

// Invalidate drops the cached private-key handle of a principal, zeroing
// its material. It must be called on principal key rotation.
func (kv *KeyVault) Invalidate(principalID int64, role core.PrincipalRole) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.cache.Remove(cacheKey{principalID: principalID, role: role})
}

// Close evicts and zeroes every cached handle. A later LoadPrivate
// decrypts from disk again and caches the new handle.
func (kv *KeyVault) Close() {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.cache.Clear()
}

func (kv *KeyVault) readPrivatePEM(path, password string) (*rsa.PrivateKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pcerrors.KeyNotFoundError("private key file %q not found", path)
		}
		return nil, pcerrors.KeyNotFoundError("reading private key file %q: %s", path, err)
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, pcerrors.KeyFormatInvalidError("no PEM block in private key file %q", path)
	}
	if block.Type != privatePEMType {
		return nil, pcerrors.KeyFormatInvalidError("unexpected PEM type %q in private key file %q", block.Type, path)
	}
	key, err := pkcs8.ParsePKCS8PrivateKeyRSA(block.Bytes, []byte(password))
	if err != nil {
		// Wrong password and corrupt ciphertext are indistinguishable
		// here; both are reported as a decryption failure.
		return nil, pcerrors.KeyDecryptionFailedError("decrypting private key for %q failed", filepath.Base(path))
	}
	return key, nil
}

func (kv *KeyVault) readPublicPEM(path string) (*rsa.PublicKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pcerrors.KeyNotFoundError("public key file %q not found", path)
		}
		return nil, pcerrors.KeyNotFoundError("reading public key file %q: %s", path, err)
	}
	return parsePublicPEM(pemBytes)
}

func parsePublicPEM(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != publicPEMType {
		return nil, pcerrors.KeyFormatInvalidError("input is not a public key PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, pcerrors.KeyFormatInvalidError("parsing public key: %s", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, pcerrors.KeyFormatInvalidError("unsupported public key type %T", pub)
	}
	return rsaPub, nil
}
