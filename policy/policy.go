// Package policy implements the evidence authority: the eligibility
// rules deciding which medical records can back a certificate.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/jmhodges/clock"

	"github.com/i-bosquet/petconnect/core"
	pcerrors "github.com/i-bosquet/petconnect/errors"
	blog "github.com/i-bosquet/petconnect/log"
)

// checkupWindowYears is how far back an annual check still counts as recent.
const checkupWindowYears = 1

// EvidenceAuthority selects the evidence records backing an issuance: the
// newest still-valid signed rabies vaccine record, and a signed annual
// check from the last year.
type EvidenceAuthority struct {
	store core.RecordStore
	clk   clock.Clock
	log   blog.Logger
}

// NewEvidenceAuthority constructs an EvidenceAuthority.
func NewEvidenceAuthority(store core.RecordStore, clk clock.Clock, logger blog.Logger) *EvidenceAuthority {
	return &EvidenceAuthority{
		store: store,
		clk:   clk,
		log:   logger,
	}
}

// SelectEvidence returns the rabies vaccine record and the recent
// checkup record for a pet, or the matching eligibility error. The
// checkup record is required to exist but does not appear in the
// certificate payload.
func (ea *EvidenceAuthority) SelectEvidence(ctx context.Context, petID int64) (*core.MedicalRecord, *core.MedicalRecord, error) {
	rabies, err := ea.selectRabies(ctx, petID)
	if err != nil {
		return nil, nil, err
	}
	checkup, err := ea.selectCheckup(ctx, petID)
	if err != nil {
		return nil, nil, err
	}
	return rabies, checkup, nil
}

func (ea *EvidenceAuthority) selectRabies(ctx context.Context, petID int64) (*core.MedicalRecord, error) {
	records, err := ea.store.FindSignedRabiesDesc(ctx, petID)
	if err != nil {
		return nil, err
	}
	today := dateOf(ea.clk.Now())
	for i := range records {
		record := records[i]
		if record.Vaccine == nil {
			ea.log.Warning(fmt.Sprintf("skipping rabies record %d for pet %d: no vaccine block", record.ID, petID))
			continue
		}
		if record.Vaccine.ValidityYears < 0 {
			ea.log.Warning(fmt.Sprintf("skipping rabies record %d for pet %d: negative validity %d", record.ID, petID, record.Vaccine.ValidityYears))
			continue
		}
		validUntil := dateOf(record.CreatedAt).AddDate(record.Vaccine.ValidityYears, 0, 0)
		if validUntil.Before(today) {
			continue
		}
		return &record, nil
	}
	return nil, pcerrors.MissingValidRabiesVaccineError(petID)
}

func (ea *EvidenceAuthority) selectCheckup(ctx context.Context, petID int64) (*core.MedicalRecord, error) {
	cutoff := ea.clk.Now().AddDate(-checkupWindowYears, 0, 0)
	records, err := ea.store.FindSignedCheckupsSinceDesc(ctx, petID, cutoff)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, pcerrors.MissingRecentCheckupError(petID, cutoff)
	}
	return &records[0], nil
}

// dateOf truncates a timestamp to its UTC calendar date.
func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
