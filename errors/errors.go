// Package errors defines the domain error taxonomy for the certificate
// authority core. It is imported as pcerrors to avoid a conflict with the
// stdlib errors package.
//
// Eligibility, uniqueness, input-shape and immutability errors are
// recoverable business faults surfaced verbatim to callers. Cryptographic
// and persistence errors are logged in full internally and surfaced as a
// single opaque InternalServer failure.
package errors

import (
	"fmt"
	"time"
)

// ErrorType provides a coarse category for PetConnectErrors
type ErrorType int

const (
	InternalServer ErrorType = iota
	Malformed
	Unauthorized

	// Input shape
	CertificateNumberBlank
	PetIDMissing

	// Not found
	PetNotFound
	VetNotFound
	ClinicNotFound
	RecordNotFound

	// Eligibility
	MissingValidRabiesVaccine
	MissingRecentCheckup

	// Uniqueness
	CertificateNumberAlreadyExists
	CertificateAlreadyExistsForRecord

	// Crypto
	KeyNotFound
	KeyDecryptionFailed
	KeyFormatInvalid
	SignatureGenerationFailed
	SignatureVerificationFailed

	// Immutability
	RecordImmutable

	// QR transport
	MalformedQrInput
	Base45DecodeError
	InflateError
	CborParseError

	// Delegated access
	InvalidTemporaryToken
)

// PetConnectError represents internal PetConnect errors
type PetConnectError struct {
	Type   ErrorType
	Detail string
}

func (pe *PetConnectError) Error() string {
	return pe.Detail
}

// New is a convenience function for creating a new PetConnectError
func New(errType ErrorType, msg string, args ...interface{}) error {
	return &PetConnectError{
		Type:   errType,
		Detail: fmt.Sprintf(msg, args...),
	}
}

// Is is a convenience function for testing the internal type of a
// PetConnectError
func Is(err error, errType ErrorType) bool {
	pErr, ok := err.(*PetConnectError)
	if !ok {
		return false
	}
	return pErr.Type == errType
}

func InternalServerError(msg string, args ...interface{}) error {
	return New(InternalServer, msg, args...)
}

func MalformedError(msg string, args ...interface{}) error {
	return New(Malformed, msg, args...)
}

func UnauthorizedError(msg string, args ...interface{}) error {
	return New(Unauthorized, msg, args...)
}

func CertificateNumberBlankError() error {
	return New(CertificateNumberBlank, "certificate number must not be blank")
}

func PetIDMissingError() error {
	return New(PetIDMissing, "pet id is missing from the request")
}

func PetNotFoundError(id int64) error {
	return New(PetNotFound, "pet %d not found", id)
}

func VetNotFoundError(id int64) error {
	return New(VetNotFound, "vet %d not found", id)
}

func ClinicNotFoundError(id int64) error {
	return New(ClinicNotFound, "clinic %d not found", id)
}

func RecordNotFoundError(id int64) error {
	return New(RecordNotFound, "medical record %d not found", id)
}

func MissingValidRabiesVaccineError(petID int64) error {
	return New(MissingValidRabiesVaccine, "pet %d has no valid signed rabies vaccine record", petID)
}

func MissingRecentCheckupError(petID int64, cutoff time.Time) error {
	return New(MissingRecentCheckup, "pet %d has no signed annual check since %s", petID, cutoff.Format("2006-01-02"))
}

func CertificateNumberAlreadyExistsError(number string) error {
	return New(CertificateNumberAlreadyExists, "certificate number %q already exists", number)
}

func CertificateAlreadyExistsForRecordError(recordID int64) error {
	return New(CertificateAlreadyExistsForRecord, "a certificate already exists for medical record %d", recordID)
}

func KeyNotFoundError(msg string, args ...interface{}) error {
	return New(KeyNotFound, msg, args...)
}

func KeyDecryptionFailedError(msg string, args ...interface{}) error {
	return New(KeyDecryptionFailed, msg, args...)
}

func KeyFormatInvalidError(msg string, args ...interface{}) error {
	return New(KeyFormatInvalid, msg, args...)
}

func SignatureGenerationFailedError(msg string, args ...interface{}) error {
	return New(SignatureGenerationFailed, msg, args...)
}

func SignatureVerificationFailedError(msg string, args ...interface{}) error {
	return New(SignatureVerificationFailed, msg, args...)
}

func RecordImmutableError(recordID int64) error {
	return New(RecordImmutable, "medical record %d is immutable and cannot be modified", recordID)
}

func MalformedQrInputError(msg string, args ...interface{}) error {
	return New(MalformedQrInput, msg, args...)
}

func Base45DecodeErr(msg string, args ...interface{}) error {
	return New(Base45DecodeError, msg, args...)
}

func InflateErr(msg string, args ...interface{}) error {
	return New(InflateError, msg, args...)
}

func CborParseErr(msg string, args ...interface{}) error {
	return New(CborParseError, msg, args...)
}

func InvalidTemporaryTokenError() error {
	return New(InvalidTemporaryToken, "temporary access token is invalid or expired")
}
