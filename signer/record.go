package signer

import (
	"crypto/rsa"
	"fmt"
	"strings"
	"time"

	"github.com/i-bosquet/petconnect/core"
	"github.com/i-bosquet/petconnect/keyvault"
)

// RecordSignableString computes the stable string a vet signs when
// creating a medical record. The vaccine segment is omitted when the
// record carries no vaccine block.
func RecordSignableString(record *core.MedicalRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "petId=%d|vetId=%d|type=%s|createdAt=%s",
		record.PetID,
		record.CreatorUserID,
		record.Type,
		record.CreatedAt.UTC().Format(time.RFC3339))
	if record.Vaccine != nil {
		fmt.Fprintf(&b, "|vaccine=%s|%s|%d",
			record.Vaccine.Name,
			record.Vaccine.BatchNumber,
			record.Vaccine.ValidityYears)
	}
	return b.String()
}

// SignRecord signs a freshly created medical record with the creating
// vet's private key, returning the detached base64 signature to store on
// the record.
func SignRecord(handle *keyvault.Handle, record *core.MedicalRecord) (string, error) {
	return Sign(handle, []byte(RecordSignableString(record)))
}

// VerifyRecord checks a record's stored vet signature against the
// recomputed signable string.
func VerifyRecord(pub *rsa.PublicKey, record *core.MedicalRecord) bool {
	return Verify(pub, []byte(RecordSignableString(record)), record.VetSignature)
}
