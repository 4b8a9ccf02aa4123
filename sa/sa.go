package sa

import (
	"context"
	"strings"
	"time"

	"github.com/jmhodges/clock"
	"github.com/letsencrypt/borp"

	"github.com/i-bosquet/petconnect/core"
	"github.com/i-bosquet/petconnect/db"
	pcerrors "github.com/i-bosquet/petconnect/errors"
	blog "github.com/i-bosquet/petconnect/log"
)

// SQLStorageAuthority defines a Storage Authority backed by MySQL. It
// implements the record, certificate and registry contracts consumed by
// the certificate authority core.
type SQLStorageAuthority struct {
	dbMap *borp.DbMap
	clk   clock.Clock
	log   blog.Logger
}

// NewSQLStorageAuthority provides persistence using a SQL backend.
func NewSQLStorageAuthority(dbMap *borp.DbMap, clk clock.Clock, logger blog.Logger) (*SQLStorageAuthority, error) {
	ssa := &SQLStorageAuthority{
		dbMap: dbMap,
		clk:   clk,
		log:   logger,
	}
	return ssa, nil
}

// signedClause restricts record queries to records carrying a vet
// signature.
const signedClause = "vetSignature IS NOT NULL AND vetSignature != ''"

// FindSignedRabiesDesc returns the signed rabies vaccine records of a
// pet, newest first, ties broken by highest id.
func (ssa *SQLStorageAuthority) FindSignedRabiesDesc(ctx context.Context, petID int64) ([]core.MedicalRecord, error) {
	models, err := selectRecords(
		ctx,
		ssa.dbMap,
		"WHERE petID = ? AND type = ? AND isRabiesVaccine = true AND "+signedClause+" ORDER BY createdAt DESC, id DESC",
		petID, string(core.RecordTypeVaccine),
	)
	if err != nil {
		return nil, err
	}
	return modelsToRecords(models), nil
}

// FindSignedCheckupsSinceDesc returns the signed annual-check records of
// a pet created at or after the cutoff, newest first.
func (ssa *SQLStorageAuthority) FindSignedCheckupsSinceDesc(ctx context.Context, petID int64, cutoff time.Time) ([]core.MedicalRecord, error) {
	models, err := selectRecords(
		ctx,
		ssa.dbMap,
		"WHERE petID = ? AND type = ? AND createdAt >= ? AND "+signedClause+" ORDER BY createdAt DESC, id DESC",
		petID, string(core.RecordTypeAnnualCheck), cutoff,
	)
	if err != nil {
		return nil, err
	}
	return modelsToRecords(models), nil
}

// FindSignedRecords returns every signed record of a pet, newest first.
// This is the record set readable through a delegated access token.
func (ssa *SQLStorageAuthority) FindSignedRecords(ctx context.Context, petID int64) ([]core.MedicalRecord, error) {
	models, err := selectRecords(
		ctx,
		ssa.dbMap,
		"WHERE petID = ? AND "+signedClause+" ORDER BY createdAt DESC, id DESC",
		petID,
	)
	if err != nil {
		return nil, err
	}
	return modelsToRecords(models), nil
}

// GetRecord obtains a MedicalRecord by ID
func (ssa *SQLStorageAuthority) GetRecord(ctx context.Context, id int64) (*core.MedicalRecord, error) {
	model, err := selectRecord(ctx, ssa.dbMap, "WHERE id = ?", id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, pcerrors.RecordNotFoundError(id)
		}
		return nil, err
	}
	record := modelToRecord(&model)
	return &record, nil
}

// AddRecord persists a newly created, already signed medical record.
func (ssa *SQLStorageAuthority) AddRecord(ctx context.Context, record *core.MedicalRecord) (*core.MedicalRecord, error) {
	model := recordToModel(record)
	model.CreatedAt = record.CreatedAt
	if model.CreatedAt.IsZero() {
		model.CreatedAt = ssa.clk.Now()
	}
	if err := ssa.dbMap.Insert(ctx, model); err != nil {
		return nil, err
	}
	stored := modelToRecord(model)
	return &stored, nil
}

// UpdateRecord rewrites the content fields of a record, refusing once
// the record has been frozen.
func (ssa *SQLStorageAuthority) UpdateRecord(ctx context.Context, record *core.MedicalRecord) error {
	_, err := db.WithTransaction(ctx, ssa.dbMap, func(tx db.Executor) (interface{}, error) {
		existing, err := selectRecord(ctx, tx, "WHERE id = ?", record.ID)
		if err != nil {
			if db.IsNoRows(err) {
				return nil, pcerrors.RecordNotFoundError(record.ID)
			}
			return nil, err
		}
		if existing.Immutable {
			return nil, pcerrors.RecordImmutableError(record.ID)
		}
		model := recordToModel(record)
		model.CreatedAt = existing.CreatedAt
		if _, err := tx.Update(ctx, model); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

// MarkImmutable freezes a record. Idempotent: marking an already frozen
// record succeeds without effect.
func (ssa *SQLStorageAuthority) MarkImmutable(ctx context.Context, recordID int64) error {
	result, err := ssa.dbMap.ExecContext(ctx, "UPDATE records SET immutable = true WHERE id = ?", recordID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Distinguish "already immutable" from "no such record".
		_, err := selectRecord(ctx, ssa.dbMap, "WHERE id = ?", recordID)
		if db.IsNoRows(err) {
			return pcerrors.RecordNotFoundError(recordID)
		}
		return err
	}
	return nil
}

// ExistsForRecord reports whether a certificate already references the
// given medical record.
func (ssa *SQLStorageAuthority) ExistsForRecord(ctx context.Context, recordID int64) (bool, error) {
	var count int64
	err := ssa.dbMap.SelectOne(
		ctx,
		&count,
		"SELECT COUNT(*) FROM certificates WHERE medicalRecordID = ?",
		recordID,
	)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// FindByNumber returns the certificate with the given number, or nil
// when none exists.
func (ssa *SQLStorageAuthority) FindByNumber(ctx context.Context, number string) (*core.Certificate, error) {
	model, err := selectCertificate(ctx, ssa.dbMap, "WHERE certificateNumber = ?", number)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return modelToCert(&model), nil
}

// GetCertificate obtains a Certificate by ID
func (ssa *SQLStorageAuthority) GetCertificate(ctx context.Context, id int64) (*core.Certificate, error) {
	model, err := selectCertificate(ctx, ssa.dbMap, "WHERE id = ?", id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, pcerrors.InternalServerError("certificate %d not found", id)
		}
		return nil, err
	}
	return modelToCert(&model), nil
}

// AddCertificate freezes the originating record and inserts the
// certificate in one transaction. The unique indexes on
// certificateNumber and medicalRecordID are the concurrency authority:
// the transaction reaching commit second aborts with a duplicate-entry
// error, translated here into the matching domain error.
func (ssa *SQLStorageAuthority) AddCertificate(ctx context.Context, cert *core.Certificate) (*core.Certificate, error) {
	result, err := db.WithTransaction(ctx, ssa.dbMap, func(tx db.Executor) (interface{}, error) {
		existing, err := selectRecord(ctx, tx, "WHERE id = ?", cert.MedicalRecordID)
		if err != nil {
			if db.IsNoRows(err) {
				return nil, pcerrors.RecordNotFoundError(cert.MedicalRecordID)
			}
			return nil, err
		}
		if !existing.Immutable {
			if _, err := tx.ExecContext(ctx, "UPDATE records SET immutable = true WHERE id = ?", cert.MedicalRecordID); err != nil {
				return nil, err
			}
		}

		model := certToModel(cert)
		if err := tx.Insert(ctx, model); err != nil {
			if db.IsDuplicate(err) {
				if strings.Contains(err.Error(), "certificateNumber") {
					return nil, pcerrors.CertificateNumberAlreadyExistsError(cert.CertificateNumber)
				}
				return nil, pcerrors.CertificateAlreadyExistsForRecordError(cert.MedicalRecordID)
			}
			return nil, err
		}
		return modelToCert(model), nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*core.Certificate), nil
}

// GetPet obtains a Pet by ID
func (ssa *SQLStorageAuthority) GetPet(ctx context.Context, id int64) (*core.Pet, error) {
	var pet core.Pet
	err := ssa.dbMap.SelectOne(
		ctx,
		&pet,
		"SELECT "+petFields+" FROM pets WHERE id = ?",
		id,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, pcerrors.PetNotFoundError(id)
		}
		return nil, err
	}
	return &pet, nil
}

// GetVet obtains a Vet by ID
func (ssa *SQLStorageAuthority) GetVet(ctx context.Context, id int64) (*core.Vet, error) {
	var vet core.Vet
	err := ssa.dbMap.SelectOne(
		ctx,
		&vet,
		"SELECT "+vetFields+" FROM vets WHERE id = ?",
		id,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, pcerrors.VetNotFoundError(id)
		}
		return nil, err
	}
	return &vet, nil
}

// GetClinic obtains a Clinic by ID
func (ssa *SQLStorageAuthority) GetClinic(ctx context.Context, id int64) (*core.Clinic, error) {
	var clinic core.Clinic
	err := ssa.dbMap.SelectOne(
		ctx,
		&clinic,
		"SELECT "+clinicFields+" FROM clinics WHERE id = ?",
		id,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, pcerrors.ClinicNotFoundError(id)
		}
		return nil, err
	}
	return &clinic, nil
}

func modelsToRecords(models []recordModel) []core.MedicalRecord {
	records := make([]core.MedicalRecord, 0, len(models))
	for i := range models {
		records = append(records, modelToRecord(&models[i]))
	}
	return records
}

var _ core.RecordStore = (*SQLStorageAuthority)(nil)
var _ core.CertificateStore = (*SQLStorageAuthority)(nil)
var _ core.RegistryStore = (*SQLStorageAuthority)(nil)
