// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package ca

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/i-bosquet/petconnect/core"
	pcerrors "github.com/i-bosquet/petconnect/errors"
	"github.com/i-bosquet/petconnect/keyvault"
	blog "github.com/i-bosquet/petconnect/log"
	"github.com/i-bosquet/petconnect/payload"
	"github.com/i-bosquet/petconnect/policy"
	"github.com/i-bosquet/petconnect/signer"
)

// CertificateAuthorityImpl issues pet health certificates: it validates
// eligibility evidence, assembles and hashes the canonical payload,
// captures the vet and clinic signatures over the digest, and persists
// the certificate under the storage authority's uniqueness guarantees.
type CertificateAuthorityImpl struct {
	registry  core.RegistryStore
	certs     core.CertificateStore
	evidence  *policy.EvidenceAuthority
	builder   *payload.Builder
	vault     *keyvault.KeyVault
	publisher core.EventPublisher
	clk       clock.Clock
	log       blog.Logger

	issuanceCount *prometheus.CounterVec
	signatureTime prometheus.Histogram
}

// NewCertificateAuthorityImpl constructs a CA wired to its
// collaborators and registers its metrics.
func NewCertificateAuthorityImpl(
	registry core.RegistryStore,
	certs core.CertificateStore,
	evidence *policy.EvidenceAuthority,
	builder *payload.Builder,
	vault *keyvault.KeyVault,
	publisher core.EventPublisher,
	clk clock.Clock,
	logger blog.Logger,
	stats prometheus.Registerer,
) *CertificateAuthorityImpl {
	issuanceCount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "certificate_issuances",
		Help: "Number of certificate issuance attempts, by outcome",
	}, []string{"outcome"})
	stats.MustRegister(issuanceCount)

	signatureTime := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "issuance_signing_seconds",
		Help:    "Time spent producing the vet and clinic signatures",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	stats.MustRegister(signatureTime)

	return &CertificateAuthorityImpl{
		registry:      registry,
		certs:         certs,
		evidence:      evidence,
		builder:       builder,
		vault:         vault,
		publisher:     publisher,
		clk:           clk,
		log:           logger,
		issuanceCount: issuanceCount,
		signatureTime: signatureTime,
	}
}

// IssueCertificate runs the issuance pipeline end-to-end. Business
// faults (input shape, not-found, eligibility, uniqueness) surface
// verbatim; cryptographic and persistence failures are audit-logged in
// full and surface as a single opaque error.
func (ca *CertificateAuthorityImpl) IssueCertificate(ctx context.Context, req core.IssuanceRequest, generatingVetID int64) (*core.CertificateView, error) {
	view, err := ca.issueCertificate(ctx, req, generatingVetID)
	if err != nil {
		ca.issuanceCount.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, err
	}
	ca.issuanceCount.WithLabelValues("success").Inc()
	return view, nil
}

func (ca *CertificateAuthorityImpl) issueCertificate(ctx context.Context, req core.IssuanceRequest, generatingVetID int64) (*core.CertificateView, error) {
	// Input shape first.
	if req.PetID <= 0 {
		return nil, pcerrors.PetIDMissingError()
	}
	certificateNumber := strings.TrimSpace(req.CertificateNumber)
	if certificateNumber == "" {
		return nil, pcerrors.CertificateNumberBlankError()
	}
	if len(certificateNumber) > core.MaxCertificateNumberLength {
		return nil, pcerrors.MalformedError("certificate number exceeds %d characters", core.MaxCertificateNumberLength)
	}

	// Resolve the principals and the pet, then authorize: the caller
	// must be a vet linked to a clinic, the pet must be active and be
	// cared for by a vet of that same clinic.
	vet, err := ca.registry.GetVet(ctx, generatingVetID)
	if err != nil {
		return nil, err
	}
	if vet.ClinicID == 0 {
		return nil, pcerrors.UnauthorizedError("vet %d is not linked to a clinic", vet.ID)
	}
	clinic, err := ca.registry.GetClinic(ctx, vet.ClinicID)
	if err != nil {
		return nil, err
	}
	pet, err := ca.registry.GetPet(ctx, req.PetID)
	if err != nil {
		return nil, err
	}
	if pet.Status != core.PetStatusActive {
		return nil, pcerrors.UnauthorizedError("pet %d is not active", pet.ID)
	}
	assignedVet, err := ca.registry.GetVet(ctx, pet.AssignedVetID)
	if err != nil {
		return nil, err
	}
	if assignedVet.ClinicID != clinic.ID {
		return nil, pcerrors.UnauthorizedError("pet %d is not associated with clinic %d", pet.ID, clinic.ID)
	}

	// Evidence: the rabies record backs the payload; the checkup record
	// must exist but is not embedded.
	rabiesRecord, _, err := ca.evidence.SelectEvidence(ctx, pet.ID)
	if err != nil {
		return nil, err
	}

	// Uniqueness guards. The storage layer's unique indexes are the
	// authority under concurrency; these checks surface the friendly
	// error without burning a signature.
	exists, err := ca.certs.ExistsForRecord(ctx, rabiesRecord.ID)
	if err != nil {
		return nil, ca.internalError("checking certificate existence for record %d: %s", rabiesRecord.ID, err)
	}
	if exists {
		return nil, pcerrors.CertificateAlreadyExistsForRecordError(rabiesRecord.ID)
	}
	existing, err := ca.certs.FindByNumber(ctx, certificateNumber)
	if err != nil {
		return nil, ca.internalError("looking up certificate number %q: %s", certificateNumber, err)
	}
	if existing != nil {
		return nil, pcerrors.CertificateNumberAlreadyExistsError(certificateNumber)
	}

	// All business preconditions hold; only now touch key material.
	vetHandle, err := ca.vault.LoadPrivate(ctx, vet.ID, core.RoleVet, req.VetPrivateKeyPassword)
	if err != nil {
		return nil, ca.opaqueCryptoError(err, "loading vet %d private key", vet.ID)
	}
	clinicHandle, err := ca.vault.LoadPrivate(ctx, clinic.ID, core.RoleClinic, req.ClinicPrivateKeyPassword)
	if err != nil {
		return nil, ca.opaqueCryptoError(err, "loading clinic %d private key", clinic.ID)
	}

	jsonBytes, err := ca.builder.Build(pet, rabiesRecord, clinic, certificateNumber)
	if err != nil {
		return nil, ca.opaqueCryptoError(err, "building canonical payload for pet %d", pet.ID)
	}
	payloadHash := signer.Digest(jsonBytes)

	// Both signatures cover the ASCII hex digest of the canonical JSON.
	signStart := ca.clk.Now()
	vetSignature, err := signer.Sign(vetHandle, []byte(payloadHash))
	if err != nil {
		return nil, ca.opaqueCryptoError(err, "vet %d signing certificate %q", vet.ID, certificateNumber)
	}
	clinicSignature, err := signer.Sign(clinicHandle, []byte(payloadHash))
	if err != nil {
		return nil, ca.opaqueCryptoError(err, "clinic %d signing certificate %q", clinic.ID, certificateNumber)
	}
	ca.signatureTime.Observe(ca.clk.Now().Sub(signStart).Seconds())

	cert := &core.Certificate{
		CertificateNumber: certificateNumber,
		PetID:             pet.ID,
		MedicalRecordID:   rabiesRecord.ID,
		GeneratorVetID:    vet.ID,
		IssuingClinicID:   clinic.ID,
		PayloadJSON:       string(jsonBytes),
		PayloadHash:       payloadHash,
		VetSignature:      vetSignature,
		ClinicSignature:   clinicSignature,
		CreatedAt:         ca.clk.Now(),
	}
	stampTravelDates(cert, pet)

	// The store freezes the evidence record and inserts the certificate
	// in one transaction; a failure leaves the record untouched.
	stored, err := ca.certs.AddCertificate(ctx, cert)
	if err != nil {
		if pcerrors.Is(err, pcerrors.CertificateNumberAlreadyExists) ||
			pcerrors.Is(err, pcerrors.CertificateAlreadyExistsForRecord) ||
			pcerrors.Is(err, pcerrors.RecordNotFound) {
			return nil, err
		}
		return nil, ca.internalError("persisting certificate %q: %s", certificateNumber, err)
	}

	// Event publication sits outside the transactional boundary: losing
	// the event never undoes the issuance.
	event := core.CertificateGeneratedEvent{
		CertificateID:     stored.ID,
		PetID:             pet.ID,
		OwnerID:           pet.OwnerID,
		VetID:             vet.ID,
		CertificateNumber: stored.CertificateNumber,
		OccurredAt:        stored.CreatedAt,
	}
	if err := ca.publisher.PublishCertificateGenerated(ctx, event); err != nil {
		ca.log.Warning(fmt.Sprintf("failed to publish CertificateGenerated for certificate %d: %s", stored.ID, err))
	}

	return &core.CertificateView{
		Certificate: *stored,
		Pet: core.PetSummary{
			ID:        pet.ID,
			Name:      pet.Name,
			Species:   pet.Species,
			Breed:     pet.Breed,
			Microchip: pet.Microchip,
			BirthDate: pet.BirthDate,
		},
		Vet:    core.SummaryRef{ID: vet.ID, Name: vet.Name},
		Clinic: core.ClinicSummary{ID: clinic.ID, Name: clinic.Name, Country: clinic.Country},
	}, nil
}

// VerifyCertificate recomputes the payload digest of a stored
// certificate and checks both detached signatures against the recorded
// principals' public keys.
func (ca *CertificateAuthorityImpl) VerifyCertificate(ctx context.Context, cert *core.Certificate) error {
	if signer.Digest([]byte(cert.PayloadJSON)) != cert.PayloadHash {
		return pcerrors.SignatureVerificationFailedError("payload hash of certificate %d does not match its payload", cert.ID)
	}
	vetKey, err := ca.vault.LoadPublic(ctx, cert.GeneratorVetID, core.RoleVet)
	if err != nil {
		return err
	}
	clinicKey, err := ca.vault.LoadPublic(ctx, cert.IssuingClinicID, core.RoleClinic)
	if err != nil {
		return err
	}
	digestBytes := []byte(cert.PayloadHash)
	if !signer.Verify(vetKey, digestBytes, cert.VetSignature) {
		return pcerrors.SignatureVerificationFailedError("vet signature of certificate %d does not verify", cert.ID)
	}
	if !signer.Verify(clinicKey, digestBytes, cert.ClinicSignature) {
		return pcerrors.SignatureVerificationFailedError("clinic signature of certificate %d does not verify", cert.ID)
	}
	return nil
}

// stampTravelDates derives the EU travel window from the pet's last EU
// entry date, when present.
func stampTravelDates(cert *core.Certificate, pet *core.Pet) {
	if pet.LastEuEntryDate == nil {
		return
	}
	entry := *pet.LastEuEntryDate
	entryExpiry := entry.Add(core.EuEntryStampValidity)
	travelEnd := entry.AddDate(0, core.TravelValidityMonths, 0)
	cert.InitialEuEntryExpiryDate = &entryExpiry
	cert.TravelValidityEndDate = &travelEnd
}

// internalError audit-logs the full detail and returns the single opaque
// failure shown to callers for crypto and persistence faults.
func (ca *CertificateAuthorityImpl) internalError(msg string, args ...interface{}) error {
	ca.log.AuditErr(fmt.Sprintf(msg, args...))
	return pcerrors.InternalServerError("certificate issuance failed")
}

// opaqueCryptoError audit-logs a cryptographic failure with context and
// returns the opaque caller-facing error. The underlying error text may
// name key files and so must never reach the caller.
func (ca *CertificateAuthorityImpl) opaqueCryptoError(err error, msg string, args ...interface{}) error {
	ca.log.AuditErr(fmt.Sprintf("%s: %s", fmt.Sprintf(msg, args...), err))
	return pcerrors.InternalServerError("certificate issuance failed")
}

func outcomeLabel(err error) string {
	pErr, ok := err.(*pcerrors.PetConnectError)
	if !ok {
		return "error"
	}
	switch pErr.Type {
	case pcerrors.MissingValidRabiesVaccine, pcerrors.MissingRecentCheckup:
		return "ineligible"
	case pcerrors.CertificateNumberAlreadyExists, pcerrors.CertificateAlreadyExistsForRecord:
		return "duplicate"
	case pcerrors.PetNotFound, pcerrors.VetNotFound, pcerrors.ClinicNotFound, pcerrors.RecordNotFound:
		return "notfound"
	case pcerrors.Unauthorized:
		return "unauthorized"
	case pcerrors.CertificateNumberBlank, pcerrors.PetIDMissing, pcerrors.Malformed:
		return "malformed"
	default:
		return "error"
	}
}

var _ core.CertificateAuthority = (*CertificateAuthorityImpl)(nil)
