package core

import (
	"time"
)

// PetStatus defines the lifecycle state of a pet. Only active pets may
// have certificates issued for them.
type PetStatus string

const (
	PetStatusPending  = PetStatus("pending")
	PetStatusActive   = PetStatus("active")
	PetStatusInactive = PetStatus("inactive")
)

// RecordType identifies the kind of clinical event a medical record
// describes.
type RecordType string

const (
	RecordTypeFirstVisit  = RecordType("firstVisit")
	RecordTypeAnnualCheck = RecordType("annualCheck")
	RecordTypeVaccine     = RecordType("vaccine")
	RecordTypeIllness     = RecordType("illness")
	RecordTypeUrgency     = RecordType("urgency")
	RecordTypeOther       = RecordType("other")
)

// PrincipalRole distinguishes the two kinds of signing principals. Every
// vet and every clinic holds an RSA key pair.
type PrincipalRole string

const (
	RoleVet    = PrincipalRole("vet")
	RoleClinic = PrincipalRole("clinic")
)

// Pet is the subject of a certificate. Cross-references to the owner and
// the assigned vet are ids, not object links.
type Pet struct {
	ID            int64     `db:"id"`
	OwnerID       int64     `db:"ownerID"`
	Name          string    `db:"name"`
	Species       string    `db:"species"`
	Breed         string    `db:"breed"`
	Microchip     string    `db:"microchip"`
	BirthDate     time.Time `db:"birthDate"`
	Status        PetStatus `db:"status"`
	AssignedVetID int64     `db:"assignedVetID"`

	// Travel dates are optional and only present once the pet has
	// entered or left the EU.
	LastEuEntryDate *time.Time `db:"lastEuEntryDate"`
	LastEuExitDate  *time.Time `db:"lastEuExitDate"`
}

// Vaccine is the vaccine block embedded in a medical record of type
// vaccine. It is owned exclusively by its record.
type Vaccine struct {
	Name            string `json:"name"`
	ValidityYears   int    `json:"validityYears"`
	Laboratory      string `json:"laboratory"`
	BatchNumber     string `json:"batchNumber"`
	IsRabiesVaccine bool   `json:"isRabiesVaccine"`
}

// MedicalRecord is a clinical event recorded by a vet. Once Immutable is
// set the content fields (type, description, vaccine, createdAt and the
// vet signature) are frozen for the lifetime of the record; the flag is
// monotonic and never cleared.
type MedicalRecord struct {
	ID            int64
	PetID         int64
	CreatorUserID int64
	ClinicID      int64
	Type          RecordType
	Description   string
	Vaccine       *Vaccine

	// VetSignature is the detached base64 signature produced when the
	// creating vet signs the record. A record with an empty signature is
	// not usable as certificate evidence.
	VetSignature string

	Immutable bool
	CreatedAt time.Time
}

// Signed reports whether the record carries a vet signature.
func (r *MedicalRecord) Signed() bool {
	return r.VetSignature != ""
}

// Certificate is an issued, immutable pet health certificate. It owns the
// reference to its originating medical record; pet, vet and clinic are
// weak references by id.
type Certificate struct {
	ID                int64
	CertificateNumber string
	PetID             int64
	MedicalRecordID   int64
	GeneratorVetID    int64
	IssuingClinicID   int64

	// PayloadJSON is the canonical payload exactly as hashed and signed
	// at issuance. PayloadHash is its lower-case hex SHA-256 digest, and
	// both detached signatures cover the ASCII bytes of that digest.
	PayloadJSON     string
	PayloadHash     string
	VetSignature    string
	ClinicSignature string

	InitialEuEntryExpiryDate *time.Time
	TravelValidityEndDate    *time.Time

	CreatedAt time.Time
}

// Vet is a veterinarian principal. Key paths are stored relative to the
// key vault's base directory.
type Vet struct {
	ID             int64  `db:"id"`
	Name           string `db:"name"`
	ClinicID       int64  `db:"clinicID"`
	PublicKeyPath  string `db:"publicKeyPath"`
	PrivateKeyPath string `db:"privateKeyPath"`
}

// Clinic is a clinic principal and the issuer named in certificate
// payloads.
type Clinic struct {
	ID             int64  `db:"id"`
	Name           string `db:"name"`
	Country        string `db:"country"`
	PublicKeyPath  string `db:"publicKeyPath"`
	PrivateKeyPath string `db:"privateKeyPath"`
}

// IssuanceRequest is the request body for certificate issuance. The key
// passwords are supplied per-operation and never stored.
type IssuanceRequest struct {
	PetID                    int64  `json:"petId"`
	CertificateNumber        string `json:"certificateNumber"`
	VetPrivateKeyPassword    string `json:"vetPrivateKeyPassword"`
	ClinicPrivateKeyPassword string `json:"clinicPrivateKeyPassword"`
}

// MaxCertificateNumberLength bounds the user-supplied certificate number.
const MaxCertificateNumberLength = 64

// CertificateView is the issuance result returned to callers: the
// certificate plus summaries of the referenced entities. PayloadJSON is
// returned verbatim.
type CertificateView struct {
	Certificate Certificate   `json:"certificate"`
	Pet         PetSummary    `json:"pet"`
	Vet         SummaryRef    `json:"vet"`
	Clinic      ClinicSummary `json:"clinic"`
}

// PetSummary is the pet subset embedded in a certificate view.
type PetSummary struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Species   string    `json:"species"`
	Breed     string    `json:"breed"`
	Microchip string    `json:"microchip"`
	BirthDate time.Time `json:"birthDate"`
}

// SummaryRef is a minimal id+name reference.
type SummaryRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ClinicSummary is the clinic subset embedded in a certificate view.
type ClinicSummary struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Country string `json:"country"`
}

// CertificateGeneratedEvent is published after a successful issuance.
// Publication is best-effort; losing the event never undoes an issuance.
type CertificateGeneratedEvent struct {
	CertificateID     int64     `json:"certificateId"`
	PetID             int64     `json:"petId"`
	OwnerID           int64     `json:"ownerId"`
	VetID             int64     `json:"vetId"`
	CertificateNumber string    `json:"certificateNumber"`
	OccurredAt        time.Time `json:"occurredAt"`
}

// EuEntryStampValidity is how long after an EU entry date the initial
// entry stamp remains usable.
const EuEntryStampValidity = 10 * 24 * time.Hour

// TravelValidityMonths is the onward-travel window granted from the EU
// entry date.
const TravelValidityMonths = 4
