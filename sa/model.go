package sa

import (
	"context"
	"database/sql"
	"time"

	"github.com/i-bosquet/petconnect/core"
	"github.com/i-bosquet/petconnect/db"
)

// By convention, any function that takes a db.OneSelector or db.Selector
// expects that a context will be applied by the borp executor itself.

const recordFields = "id, petID, creatorUserID, clinicID, type, description, vetSignature, immutable, createdAt, vaccineName, vaccineValidityYears, vaccineLaboratory, vaccineBatchNumber, isRabiesVaccine"

// recordModel is the description of a core.MedicalRecord in the
// database. The vaccine block is flattened into nullable columns.
type recordModel struct {
	ID            int64     `db:"id"`
	PetID         int64     `db:"petID"`
	CreatorUserID int64     `db:"creatorUserID"`
	ClinicID      int64     `db:"clinicID"`
	Type          string    `db:"type"`
	Description   string    `db:"description"`
	VetSignature  string    `db:"vetSignature"`
	Immutable     bool      `db:"immutable"`
	CreatedAt     time.Time `db:"createdAt"`

	VaccineName          sql.NullString `db:"vaccineName"`
	VaccineValidityYears sql.NullInt64  `db:"vaccineValidityYears"`
	VaccineLaboratory    sql.NullString `db:"vaccineLaboratory"`
	VaccineBatchNumber   sql.NullString `db:"vaccineBatchNumber"`
	IsRabiesVaccine      sql.NullBool   `db:"isRabiesVaccine"`
}

const certFields = "id, certificateNumber, petID, medicalRecordID, generatorVetID, issuingClinicID, payload, hash, vetSignature, clinicSignature, initialEuEntryExpiryDate, travelValidityEndDate, createdAt"

// certificateModel is the description of a core.Certificate in the
// database.
type certificateModel struct {
	ID                int64  `db:"id"`
	CertificateNumber string `db:"certificateNumber"`
	PetID             int64  `db:"petID"`
	MedicalRecordID   int64  `db:"medicalRecordID"`
	GeneratorVetID    int64  `db:"generatorVetID"`
	IssuingClinicID   int64  `db:"issuingClinicID"`
	Payload           string `db:"payload"`
	Hash              string `db:"hash"`
	VetSignature      string `db:"vetSignature"`
	ClinicSignature   string `db:"clinicSignature"`

	InitialEuEntryExpiryDate *time.Time `db:"initialEuEntryExpiryDate"`
	TravelValidityEndDate    *time.Time `db:"travelValidityEndDate"`

	CreatedAt time.Time `db:"createdAt"`
}

const petFields = "id, ownerID, name, species, breed, microchip, birthDate, status, assignedVetID, lastEuEntryDate, lastEuExitDate"

const vetFields = "id, name, clinicID, publicKeyPath, privateKeyPath"

const clinicFields = "id, name, country, publicKeyPath, privateKeyPath"

// selectRecord selects all fields of one medical record model
func selectRecord(ctx context.Context, s db.OneSelector, q string, args ...interface{}) (recordModel, error) {
	var model recordModel
	err := s.SelectOne(
		ctx,
		&model,
		"SELECT "+recordFields+" FROM records "+q,
		args...,
	)
	return model, err
}

// selectRecords selects all fields of multiple medical record models
func selectRecords(ctx context.Context, s db.Selector, q string, args ...interface{}) ([]recordModel, error) {
	var models []recordModel
	_, err := s.Select(
		ctx,
		&models,
		"SELECT "+recordFields+" FROM records "+q,
		args...,
	)
	return models, err
}

// selectCertificate selects all fields of one certificate model
func selectCertificate(ctx context.Context, s db.OneSelector, q string, args ...interface{}) (certificateModel, error) {
	var model certificateModel
	err := s.SelectOne(
		ctx,
		&model,
		"SELECT "+certFields+" FROM certificates "+q,
		args...,
	)
	return model, err
}

// recordToModel flattens a core record, including its vaccine block,
// into the database shape.
func recordToModel(record *core.MedicalRecord) *recordModel {
	model := &recordModel{
		ID:            record.ID,
		PetID:         record.PetID,
		CreatorUserID: record.CreatorUserID,
		ClinicID:      record.ClinicID,
		Type:          string(record.Type),
		Description:   record.Description,
		VetSignature:  record.VetSignature,
		Immutable:     record.Immutable,
		CreatedAt:     record.CreatedAt,
	}
	if record.Vaccine != nil {
		model.VaccineName = sql.NullString{String: record.Vaccine.Name, Valid: true}
		model.VaccineValidityYears = sql.NullInt64{Int64: int64(record.Vaccine.ValidityYears), Valid: true}
		model.VaccineLaboratory = sql.NullString{String: record.Vaccine.Laboratory, Valid: true}
		model.VaccineBatchNumber = sql.NullString{String: record.Vaccine.BatchNumber, Valid: true}
		model.IsRabiesVaccine = sql.NullBool{Bool: record.Vaccine.IsRabiesVaccine, Valid: true}
	}
	return model
}

// modelToRecord rebuilds a core record; a vaccine block is attached only
// when the vaccine name column is non-null.
func modelToRecord(model *recordModel) core.MedicalRecord {
	record := core.MedicalRecord{
		ID:            model.ID,
		PetID:         model.PetID,
		CreatorUserID: model.CreatorUserID,
		ClinicID:      model.ClinicID,
		Type:          core.RecordType(model.Type),
		Description:   model.Description,
		VetSignature:  model.VetSignature,
		Immutable:     model.Immutable,
		CreatedAt:     model.CreatedAt,
	}
	if model.VaccineName.Valid {
		record.Vaccine = &core.Vaccine{
			Name:            model.VaccineName.String,
			ValidityYears:   int(model.VaccineValidityYears.Int64),
			Laboratory:      model.VaccineLaboratory.String,
			BatchNumber:     model.VaccineBatchNumber.String,
			IsRabiesVaccine: model.IsRabiesVaccine.Bool,
		}
	}
	return record
}

func certToModel(cert *core.Certificate) *certificateModel {
	return &certificateModel{
		ID:                       cert.ID,
		CertificateNumber:        cert.CertificateNumber,
		PetID:                    cert.PetID,
		MedicalRecordID:          cert.MedicalRecordID,
		GeneratorVetID:           cert.GeneratorVetID,
		IssuingClinicID:          cert.IssuingClinicID,
		Payload:                  cert.PayloadJSON,
		Hash:                     cert.PayloadHash,
		VetSignature:             cert.VetSignature,
		ClinicSignature:          cert.ClinicSignature,
		InitialEuEntryExpiryDate: cert.InitialEuEntryExpiryDate,
		TravelValidityEndDate:    cert.TravelValidityEndDate,
		CreatedAt:                cert.CreatedAt,
	}
}

func modelToCert(model *certificateModel) *core.Certificate {
	return &core.Certificate{
		ID:                       model.ID,
		CertificateNumber:        model.CertificateNumber,
		PetID:                    model.PetID,
		MedicalRecordID:          model.MedicalRecordID,
		GeneratorVetID:           model.GeneratorVetID,
		IssuingClinicID:          model.IssuingClinicID,
		PayloadJSON:              model.Payload,
		PayloadHash:              model.Hash,
		VetSignature:             model.VetSignature,
		ClinicSignature:          model.ClinicSignature,
		InitialEuEntryExpiryDate: model.InitialEuEntryExpiryDate,
		TravelValidityEndDate:    model.TravelValidityEndDate,
		CreatedAt:                model.CreatedAt,
	}
}
