// Package payload builds the canonical JSON payload that certificate
// hashes and signatures cover.
//
// Determinism is the contract: two builds from identical inputs yield
// byte-identical JSON. The payload is marshalled from a fixed struct and
// then canonicalized per RFC 8785, which fixes key ordering, number
// formatting and whitespace.
package payload

import (
	"encoding/json"
	"time"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
	"github.com/jmhodges/clock"

	"github.com/i-bosquet/petconnect/core"
	pcerrors "github.com/i-bosquet/petconnect/errors"
)

// CertType identifies the payload schema version.
const CertType = "PET_VACCINATION_CERT_V1"

// isoDate renders dates the way the payload carries them: ISO-8601
// calendar dates in UTC.
const isoDate = "2006-01-02"

type issuerFacts struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Country string `json:"country"`
}

type subjectFacts struct {
	PetID     int64  `json:"petId"`
	PetName   string `json:"petName"`
	Species   string `json:"species"`
	Breed     string `json:"breed"`
	Microchip string `json:"microchip"`
	BirthDate string `json:"birthDate"`
}

type vaccineFacts struct {
	Name            string `json:"name"`
	ValidityYears   int    `json:"validityYears"`
	Laboratory      string `json:"laboratory"`
	BatchNumber     string `json:"batchNumber"`
	IsRabiesVaccine bool   `json:"isRabiesVaccine"`
	VaccinationDate string `json:"vaccinationDate"`
}

type eventFacts struct {
	RecordID   int64        `json:"recordId"`
	RecordType string       `json:"recordType"`
	Vaccine    vaccineFacts `json:"vaccine"`
}

type certPayload struct {
	CertType          string       `json:"certType"`
	IssuanceTimestamp int64        `json:"issuanceTimestamp"`
	CertificateNumber string       `json:"certificateNumber"`
	Issuer            issuerFacts  `json:"issuer"`
	Subject           subjectFacts `json:"subject"`
	Event             eventFacts   `json:"event"`
}

// Builder assembles canonical certificate payloads. The clock stamps
// issuanceTimestamp in epoch milliseconds.
type Builder struct {
	clk clock.Clock
}

// NewBuilder returns a Builder using the given clock.
func NewBuilder(clk clock.Clock) *Builder {
	return &Builder{clk: clk}
}

// Build produces the canonical payload bytes for a certificate issued
// now, from the pet, the rabies evidence record, the issuing clinic and
// the caller-supplied certificate number.
func (b *Builder) Build(pet *core.Pet, record *core.MedicalRecord, clinic *core.Clinic, certificateNumber string) ([]byte, error) {
	return b.buildAt(b.clk.Now(), pet, record, clinic, certificateNumber)
}

func (b *Builder) buildAt(now time.Time, pet *core.Pet, record *core.MedicalRecord, clinic *core.Clinic, certificateNumber string) ([]byte, error) {
	if record.Vaccine == nil {
		return nil, pcerrors.InternalServerError("payload requires a vaccine record, got record %d with no vaccine block", record.ID)
	}
	p := certPayload{
		CertType:          CertType,
		IssuanceTimestamp: now.UnixMilli(),
		CertificateNumber: certificateNumber,
		Issuer: issuerFacts{
			ID:      clinic.ID,
			Name:    clinic.Name,
			Country: clinic.Country,
		},
		Subject: subjectFacts{
			PetID:     pet.ID,
			PetName:   pet.Name,
			Species:   pet.Species,
			Breed:     pet.Breed,
			Microchip: pet.Microchip,
			BirthDate: pet.BirthDate.UTC().Format(isoDate),
		},
		Event: eventFacts{
			RecordID:   record.ID,
			RecordType: string(record.Type),
			Vaccine: vaccineFacts{
				Name:            record.Vaccine.Name,
				ValidityYears:   record.Vaccine.ValidityYears,
				Laboratory:      record.Vaccine.Laboratory,
				BatchNumber:     record.Vaccine.BatchNumber,
				IsRabiesVaccine: record.Vaccine.IsRabiesVaccine,
				VaccinationDate: record.CreatedAt.UTC().Format(isoDate),
			},
		},
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, pcerrors.InternalServerError("serializing certificate payload: %s", err)
	}
	canonical, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return nil, pcerrors.InternalServerError("canonicalizing certificate payload: %s", err)
	}
	return canonical, nil
}
