package core

import (
	"context"
	"time"
)

// CertificateAuthority is the issuance and verification surface of the
// certificate authority core.
type CertificateAuthority interface {
	// IssueCertificate runs the full issuance pipeline for the given
	// request on behalf of the generating vet.
	IssueCertificate(ctx context.Context, req IssuanceRequest, generatingVetID int64) (*CertificateView, error)

	// VerifyCertificate recomputes the payload hash of a stored
	// certificate and checks both detached signatures against the
	// recorded principals' public keys.
	VerifyCertificate(ctx context.Context, cert *Certificate) error
}

// RecordStore is the medical-record side of the storage authority
// consumed by the core. Result ordering is part of the contract: all
// Find* methods return newest-first, ties broken by highest id.
type RecordStore interface {
	// FindSignedRabiesDesc returns the signed vaccine records flagged as
	// rabies vaccines for a pet.
	FindSignedRabiesDesc(ctx context.Context, petID int64) ([]MedicalRecord, error)

	// FindSignedCheckupsSinceDesc returns the signed annual-check
	// records created at or after the cutoff.
	FindSignedCheckupsSinceDesc(ctx context.Context, petID int64, cutoff time.Time) ([]MedicalRecord, error)

	// FindSignedRecords returns every signed record of a pet. This is
	// the record set readable through a delegated access token.
	FindSignedRecords(ctx context.Context, petID int64) ([]MedicalRecord, error)

	GetRecord(ctx context.Context, id int64) (*MedicalRecord, error)

	// AddRecord persists a newly created record, already signed by its
	// creating vet and tagged with the vet's clinic.
	AddRecord(ctx context.Context, record *MedicalRecord) (*MedicalRecord, error)

	// UpdateRecord rewrites the content fields of a record. It fails
	// with a RecordImmutable error once the record is frozen.
	UpdateRecord(ctx context.Context, record *MedicalRecord) error

	// MarkImmutable freezes a record. Idempotent.
	MarkImmutable(ctx context.Context, recordID int64) error
}

// CertificateStore is the certificate side of the storage authority.
// Uniqueness of certificateNumber and medicalRecordID rests on the
// store's unique indexes; AddCertificate translates violations into the
// matching domain errors.
type CertificateStore interface {
	ExistsForRecord(ctx context.Context, recordID int64) (bool, error)

	// FindByNumber returns nil (and no error) when no certificate with
	// that number exists.
	FindByNumber(ctx context.Context, number string) (*Certificate, error)

	GetCertificate(ctx context.Context, id int64) (*Certificate, error)

	// AddCertificate atomically freezes the originating record and
	// inserts the certificate. A failure leaves the record's immutable
	// flag unchanged from its pre-transaction state.
	AddCertificate(ctx context.Context, cert *Certificate) (*Certificate, error)
}

// RegistryStore resolves the externally managed entities referenced by
// the core. CRUD for these lives outside the core.
type RegistryStore interface {
	GetPet(ctx context.Context, id int64) (*Pet, error)
	GetVet(ctx context.Context, id int64) (*Vet, error)
	GetClinic(ctx context.Context, id int64) (*Clinic, error)
}

// EventPublisher delivers domain events to interested consumers.
// Publication is asynchronous and best-effort.
type EventPublisher interface {
	PublishCertificateGenerated(ctx context.Context, event CertificateGeneratedEvent) error
}
