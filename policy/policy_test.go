package policy

import (
	"context"
	"testing"
	"time"

	"github.com/jmhodges/clock"

	"github.com/i-bosquet/petconnect/core"
	pcerrors "github.com/i-bosquet/petconnect/errors"
	blog "github.com/i-bosquet/petconnect/log"
	"github.com/i-bosquet/petconnect/mocks"
	"github.com/i-bosquet/petconnect/test"
)

var ctx = context.Background()

func initEA(t *testing.T) (*EvidenceAuthority, *mocks.RecordStore, clock.FakeClock, *blog.Mock) {
	t.Helper()
	fc := clock.NewFake()
	fc.Set(time.Date(2025, 6, 19, 10, 0, 0, 0, time.UTC))
	log := blog.NewMock()
	store := mocks.NewRecordStore()
	return NewEvidenceAuthority(store, fc, log), store, fc, log
}

func addRecord(t *testing.T, store *mocks.RecordStore, record core.MedicalRecord) {
	t.Helper()
	_, err := store.AddRecord(ctx, &record)
	test.AssertNotError(t, err, "adding record to mock store")
}

func rabiesRecord(id, petID int64, createdAt time.Time, validityYears int, signed bool) core.MedicalRecord {
	record := core.MedicalRecord{
		ID:        id,
		PetID:     petID,
		Type:      core.RecordTypeVaccine,
		CreatedAt: createdAt,
		Vaccine: &core.Vaccine{
			Name:            "Nobivac Rabies",
			ValidityYears:   validityYears,
			IsRabiesVaccine: true,
		},
	}
	if signed {
		record.VetSignature = "c2lnbmVk"
	}
	return record
}

func checkupRecord(id, petID int64, createdAt time.Time) core.MedicalRecord {
	return core.MedicalRecord{
		ID:           id,
		PetID:        petID,
		Type:         core.RecordTypeAnnualCheck,
		CreatedAt:    createdAt,
		VetSignature: "c2lnbmVk",
	}
}

func TestSelectEvidenceSuccess(t *testing.T) {
	ea, store, fc, _ := initEA(t)
	now := fc.Now()
	addRecord(t, store, rabiesRecord(101, 42, now.AddDate(0, 0, -30), 1, true))
	addRecord(t, store, checkupRecord(102, 42, now.AddDate(0, 0, -60)))

	rabies, checkup, err := ea.SelectEvidence(ctx, 42)
	test.AssertNotError(t, err, "selecting evidence")
	test.AssertEquals(t, rabies.ID, int64(101))
	test.AssertEquals(t, checkup.ID, int64(102))
}

func TestSelectEvidenceUnsignedRabies(t *testing.T) {
	ea, store, fc, _ := initEA(t)
	addRecord(t, store, rabiesRecord(201, 43, fc.Now().AddDate(0, 0, -10), 1, false))

	_, _, err := ea.SelectEvidence(ctx, 43)
	test.AssertError(t, err, "unsigned rabies record must not qualify")
	test.Assert(t, pcerrors.Is(err, pcerrors.MissingValidRabiesVaccine), "expected MissingValidRabiesVaccine")
}

func TestSelectEvidenceExpiredRabies(t *testing.T) {
	ea, store, fc, _ := initEA(t)
	addRecord(t, store, rabiesRecord(202, 44, fc.Now().AddDate(0, 0, -400), 1, true))
	addRecord(t, store, checkupRecord(203, 44, fc.Now().AddDate(0, 0, -30)))

	_, _, err := ea.SelectEvidence(ctx, 44)
	test.AssertError(t, err, "expired rabies record must not qualify")
	test.Assert(t, pcerrors.Is(err, pcerrors.MissingValidRabiesVaccine), "expected MissingValidRabiesVaccine")
}

func TestSelectEvidenceNoRecentCheckup(t *testing.T) {
	ea, store, fc, _ := initEA(t)
	addRecord(t, store, rabiesRecord(301, 45, fc.Now().AddDate(0, 0, -30), 1, true))
	addRecord(t, store, checkupRecord(302, 45, fc.Now().AddDate(-2, 0, 0)))

	_, _, err := ea.SelectEvidence(ctx, 45)
	test.AssertError(t, err, "stale checkup must not qualify")
	test.Assert(t, pcerrors.Is(err, pcerrors.MissingRecentCheckup), "expected MissingRecentCheckup")
	test.AssertContains(t, err.Error(), "2024-06-19")
}

func TestSelectEvidencePicksNewestValidRabies(t *testing.T) {
	ea, store, fc, _ := initEA(t)
	now := fc.Now()
	addRecord(t, store, rabiesRecord(401, 46, now.AddDate(0, 0, -300), 2, true))
	addRecord(t, store, rabiesRecord(402, 46, now.AddDate(0, 0, -20), 1, true))
	addRecord(t, store, checkupRecord(403, 46, now.AddDate(0, 0, -10)))

	rabies, _, err := ea.SelectEvidence(ctx, 46)
	test.AssertNotError(t, err, "selecting evidence")
	test.AssertEquals(t, rabies.ID, int64(402))
}

func TestSelectEvidenceTieBreaksOnID(t *testing.T) {
	ea, store, fc, _ := initEA(t)
	createdAt := fc.Now().AddDate(0, 0, -15)
	addRecord(t, store, rabiesRecord(501, 47, createdAt, 1, true))
	addRecord(t, store, rabiesRecord(503, 47, createdAt, 1, true))
	addRecord(t, store, rabiesRecord(502, 47, createdAt, 1, true))
	addRecord(t, store, checkupRecord(504, 47, fc.Now().AddDate(0, 0, -5)))

	rabies, _, err := ea.SelectEvidence(ctx, 47)
	test.AssertNotError(t, err, "selecting evidence")
	test.AssertEquals(t, rabies.ID, int64(503))
}

func TestSelectEvidenceSkipsMalformedVaccineBlocks(t *testing.T) {
	ea, store, fc, log := initEA(t)
	now := fc.Now()

	// Newest record carries a negative validity and must be skipped
	// with a warning rather than rejected outright.
	broken := rabiesRecord(601, 48, now.AddDate(0, 0, -5), -1, true)
	addRecord(t, store, broken)
	addRecord(t, store, rabiesRecord(602, 48, now.AddDate(0, 0, -40), 1, true))
	addRecord(t, store, checkupRecord(603, 48, now.AddDate(0, 0, -10)))

	rabies, _, err := ea.SelectEvidence(ctx, 48)
	test.AssertNotError(t, err, "selecting evidence")
	test.AssertEquals(t, rabies.ID, int64(602))
	test.AssertEquals(t, len(log.GetAllMatching("negative validity")), 1)
}

func TestSelectEvidenceValidityBoundary(t *testing.T) {
	ea, store, fc, _ := initEA(t)
	now := fc.Now()

	// Created exactly one year ago with one year of validity: still
	// valid today, invalid tomorrow.
	addRecord(t, store, rabiesRecord(701, 49, now.AddDate(-1, 0, 0), 1, true))
	addRecord(t, store, checkupRecord(702, 49, now.AddDate(0, 0, -10)))

	rabies, _, err := ea.SelectEvidence(ctx, 49)
	test.AssertNotError(t, err, "boundary-day vaccine should still be valid")
	test.AssertEquals(t, rabies.ID, int64(701))

	fc.Add(24 * time.Hour)
	_, _, err = ea.SelectEvidence(ctx, 49)
	test.AssertError(t, err, "vaccine expired one day past the boundary")
	test.Assert(t, pcerrors.Is(err, pcerrors.MissingValidRabiesVaccine), "expected MissingValidRabiesVaccine")
}
