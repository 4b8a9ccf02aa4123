package qr

import (
	"bytes"
	"compress/zlib"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/minvws/base45-go/eubase45"

	"github.com/i-bosquet/petconnect/core"
	pcerrors "github.com/i-bosquet/petconnect/errors"
	"github.com/i-bosquet/petconnect/keyvault"
	"github.com/i-bosquet/petconnect/payload"
	"github.com/i-bosquet/petconnect/signer"
	"github.com/i-bosquet/petconnect/test"
)

// issueTestCertificate builds a fully signed certificate without going
// through the CA: canonical payload, hex digest, and two detached
// signatures over the digest bytes.
func issueTestCertificate(t *testing.T) (*core.Certificate, *rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	fc := clock.NewFake()
	fc.Set(time.Date(2025, 6, 19, 10, 0, 0, 0, time.UTC))

	pet := &core.Pet{
		ID:        42,
		Name:      "Luna",
		Species:   "dog",
		Breed:     "beagle",
		Microchip: "941000024680135",
		BirthDate: time.Date(2021, 3, 14, 0, 0, 0, 0, time.UTC),
	}
	record := &core.MedicalRecord{
		ID:        101,
		PetID:     42,
		Type:      core.RecordTypeVaccine,
		CreatedAt: time.Date(2025, 5, 20, 9, 30, 0, 0, time.UTC),
		Vaccine: &core.Vaccine{
			Name:            "Nobivac Rabies",
			ValidityYears:   1,
			Laboratory:      "MSD",
			BatchNumber:     "B-778",
			IsRabiesVaccine: true,
		},
	}
	clinic := &core.Clinic{ID: 1, Name: "Clinica Central", Country: "ES"}

	jsonBytes, err := payload.NewBuilder(fc).Build(pet, record, clinic, "AHC-0001")
	test.AssertNotError(t, err, "building payload")
	hash := signer.Digest(jsonBytes)

	vetKey, err := rsa.GenerateKey(rand.Reader, 1024)
	test.AssertNotError(t, err, "generating vet key")
	clinicKey, err := rsa.GenerateKey(rand.Reader, 1024)
	test.AssertNotError(t, err, "generating clinic key")

	vetSig, err := signer.Sign(keyvault.NewHandle(vetKey), []byte(hash))
	test.AssertNotError(t, err, "vet signing")
	clinicSig, err := signer.Sign(keyvault.NewHandle(clinicKey), []byte(hash))
	test.AssertNotError(t, err, "clinic signing")

	return &core.Certificate{
		ID:                1,
		CertificateNumber: "AHC-0001",
		PetID:             42,
		MedicalRecordID:   101,
		GeneratorVetID:    11,
		IssuingClinicID:   1,
		PayloadJSON:       string(jsonBytes),
		PayloadHash:       hash,
		VetSignature:      vetSig,
		ClinicSignature:   clinicSig,
		CreatedAt:         fc.Now(),
	}, vetKey, clinicKey
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cert, vetKey, clinicKey := issueTestCertificate(t)

	qrData, err := Encode(cert)
	test.AssertNotError(t, err, "encoding HC1 string")
	test.Assert(t, len(qrData) > len(Prefix), "HC1 string should be non-trivial")
	test.AssertEquals(t, qrData[:4], Prefix)
	for _, r := range qrData {
		test.Assert(t, r < 128, "HC1 string must be pure ASCII")
	}

	decoded, err := Decode(qrData)
	test.AssertNotError(t, err, "decoding HC1 string")
	test.AssertEquals(t, decoded.Alg, AlgRS256)

	// The transported signatures are the raw bytes of the stored
	// detached signatures.
	wantVet, _ := base64.StdEncoding.DecodeString(cert.VetSignature)
	wantClinic, _ := base64.StdEncoding.DecodeString(cert.ClinicSignature)
	test.AssertByteEquals(t, decoded.VetSignature, wantVet)
	test.AssertByteEquals(t, decoded.ClinicSignature, wantClinic)

	// The CBOR payload carries the same facts.
	m, err := decoded.Payload()
	test.AssertNotError(t, err, "re-materializing payload map")
	test.AssertEquals(t, m["certType"].(string), "PET_VACCINATION_CERT_V1")
	test.AssertEquals(t, m["certificateNumber"].(string), "AHC-0001")

	// Trust rides on the detached signatures over the canonical JSON
	// digest, which both still verify.
	digest := []byte(signer.Digest([]byte(cert.PayloadJSON)))
	test.Assert(t, signer.Verify(&vetKey.PublicKey, digest,
		base64.StdEncoding.EncodeToString(decoded.VetSignature)), "vet signature should verify")
	test.Assert(t, signer.Verify(&clinicKey.PublicKey, digest,
		base64.StdEncoding.EncodeToString(decoded.ClinicSignature)), "clinic signature should verify")
}

func TestTamperedPayloadFailsVerification(t *testing.T) {
	cert, vetKey, clinicKey := issueTestCertificate(t)

	// Flip one byte of the canonical payload: the recomputed digest
	// changes, so at least one (here: both) signature checks fail.
	tampered := []byte(cert.PayloadJSON)
	tampered[len(tampered)/2] ^= 0x01
	digest := []byte(signer.Digest(tampered))

	vetOK := signer.Verify(&vetKey.PublicKey, digest, cert.VetSignature)
	clinicOK := signer.Verify(&clinicKey.PublicKey, digest, cert.ClinicSignature)
	test.Assert(t, !vetOK || !clinicOK, "a tampered payload must fail at least one verification")
}

func TestEncodeNilPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Encode(nil) should panic")
		}
	}()
	_, _ = Encode(nil)
}

func TestDecodeMalformedInput(t *testing.T) {
	_, err := Decode("NOPE:ABC")
	test.Assert(t, pcerrors.Is(err, pcerrors.MalformedQrInput), "expected MalformedQrInput for wrong prefix")

	_, err = Decode("HC1:")
	test.Assert(t, pcerrors.Is(err, pcerrors.MalformedQrInput), "expected MalformedQrInput for empty payload")
}

func TestDecodeBase45Error(t *testing.T) {
	_, err := Decode("HC1:??not-base45??")
	test.Assert(t, pcerrors.Is(err, pcerrors.Base45DecodeError), "expected Base45DecodeError")
}

func TestDecodeInflateError(t *testing.T) {
	encoded := eubase45.EUBase45Encode([]byte("this is not zlib data"))
	_, err := Decode(Prefix + string(encoded))
	test.Assert(t, pcerrors.Is(err, pcerrors.InflateError), "expected InflateError")
}

func TestDecodeCborError(t *testing.T) {
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	_, err := zw.Write([]byte("this is not cbor"))
	test.AssertNotError(t, err, "deflating garbage")
	test.AssertNotError(t, zw.Close(), "closing deflater")

	encoded := eubase45.EUBase45Encode(compressed.Bytes())
	_, err = Decode(Prefix + string(encoded))
	test.Assert(t, pcerrors.Is(err, pcerrors.CborParseError), "expected CborParseError")
}
