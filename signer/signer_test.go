package signer

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/i-bosquet/petconnect/core"
	pcerrors "github.com/i-bosquet/petconnect/errors"
	"github.com/i-bosquet/petconnect/keyvault"
	"github.com/i-bosquet/petconnect/test"
)

// testHandle builds a vault-style handle around a freshly generated key.
// Small keys keep the tests fast.
func testHandle(t *testing.T) (*keyvault.Handle, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	test.AssertNotError(t, err, "generating test key")
	return keyvault.NewHandle(key), key
}

func TestDigest(t *testing.T) {
	test.AssertEquals(t, Digest([]byte("")), "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855")
	test.AssertEquals(t, Digest([]byte("petconnect")), Digest([]byte("petconnect")))
	test.AssertEquals(t, len(Digest([]byte("x"))), 64)
}

func TestSignAndVerify(t *testing.T) {
	handle, key := testHandle(t)
	data := []byte(Digest([]byte(`{"certType":"PET_VACCINATION_CERT_V1"}`)))

	sig, err := Sign(handle, data)
	test.AssertNotError(t, err, "signing digest")
	test.Assert(t, Verify(&key.PublicKey, data, sig), "signature should verify")
}

func TestVerifyIsTotal(t *testing.T) {
	handle, key := testHandle(t)
	data := []byte("covered bytes")
	sig, err := Sign(handle, data)
	test.AssertNotError(t, err, "signing")

	test.Assert(t, !Verify(&key.PublicKey, data, "not!base64!!"), "invalid base64 must verify false")
	test.Assert(t, !Verify(&key.PublicKey, []byte("tampered bytes"), sig), "tampered data must verify false")
	test.Assert(t, !Verify(nil, data, sig), "nil key must verify false")
	test.Assert(t, !Verify(&key.PublicKey, data, ""), "empty signature must verify false")

	other, err := rsa.GenerateKey(rand.Reader, 1024)
	test.AssertNotError(t, err, "generating second key")
	test.Assert(t, !Verify(&other.PublicKey, data, sig), "wrong key must verify false")
}

func TestSignRevokedHandle(t *testing.T) {
	handle, _ := testHandle(t)
	handle.Zero()
	_, err := Sign(handle, []byte("data"))
	test.AssertError(t, err, "signing with a revoked handle")
	test.Assert(t, pcerrors.Is(err, pcerrors.SignatureGenerationFailed), "expected SignatureGenerationFailed")
}

func TestRecordSignableString(t *testing.T) {
	createdAt := time.Date(2025, 5, 20, 9, 30, 0, 0, time.UTC)
	record := &core.MedicalRecord{
		ID:            101,
		PetID:         42,
		CreatorUserID: 11,
		Type:          core.RecordTypeVaccine,
		CreatedAt:     createdAt,
		Vaccine: &core.Vaccine{
			Name:          "Nobivac Rabies",
			BatchNumber:   "B-778",
			ValidityYears: 1,
		},
	}
	test.AssertEquals(t,
		RecordSignableString(record),
		"petId=42|vetId=11|type=vaccine|createdAt=2025-05-20T09:30:00Z|vaccine=Nobivac Rabies|B-778|1")

	// The vaccine segment is omitted for records without one.
	checkup := &core.MedicalRecord{
		PetID:         42,
		CreatorUserID: 11,
		Type:          core.RecordTypeAnnualCheck,
		CreatedAt:     createdAt,
	}
	test.AssertEquals(t,
		RecordSignableString(checkup),
		"petId=42|vetId=11|type=annualCheck|createdAt=2025-05-20T09:30:00Z")
}

func TestSignAndVerifyRecord(t *testing.T) {
	handle, key := testHandle(t)
	record := &core.MedicalRecord{
		ID:            7,
		PetID:         42,
		CreatorUserID: 11,
		Type:          core.RecordTypeAnnualCheck,
		CreatedAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	sig, err := SignRecord(handle, record)
	test.AssertNotError(t, err, "signing record")
	record.VetSignature = sig
	test.Assert(t, VerifyRecord(&key.PublicKey, record), "record signature should verify")

	record.Type = core.RecordTypeOther
	test.Assert(t, !VerifyRecord(&key.PublicKey, record), "modified record must not verify")
}
