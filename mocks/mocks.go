// Package mocks provides hand-written in-memory implementations of the
// core collaborator interfaces for use in tests. The stores mimic the
// ordering and uniqueness semantics of the SQL storage authority.
package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/i-bosquet/petconnect/core"
	pcerrors "github.com/i-bosquet/petconnect/errors"
)

// Registry is a mock core.RegistryStore backed by maps.
type Registry struct {
	Pets    map[int64]*core.Pet
	Vets    map[int64]*core.Vet
	Clinics map[int64]*core.Clinic
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		Pets:    map[int64]*core.Pet{},
		Vets:    map[int64]*core.Vet{},
		Clinics: map[int64]*core.Clinic{},
	}
}

func (r *Registry) GetPet(_ context.Context, id int64) (*core.Pet, error) {
	pet, ok := r.Pets[id]
	if !ok {
		return nil, pcerrors.PetNotFoundError(id)
	}
	return pet, nil
}

func (r *Registry) GetVet(_ context.Context, id int64) (*core.Vet, error) {
	vet, ok := r.Vets[id]
	if !ok {
		return nil, pcerrors.VetNotFoundError(id)
	}
	return vet, nil
}

func (r *Registry) GetClinic(_ context.Context, id int64) (*core.Clinic, error) {
	clinic, ok := r.Clinics[id]
	if !ok {
		return nil, pcerrors.ClinicNotFoundError(id)
	}
	return clinic, nil
}

// RecordStore is a mock core.RecordStore. Query methods apply the same
// filters and ordering as the SQL implementation: newest first, ties
// broken by highest id, signed records only.
type RecordStore struct {
	mu      sync.Mutex
	Records map[int64]*core.MedicalRecord
}

// NewRecordStore returns an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{Records: map[int64]*core.MedicalRecord{}}
}

func (rs *RecordStore) sortedDesc(filter func(*core.MedicalRecord) bool) []core.MedicalRecord {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	var out []core.MedicalRecord
	for _, record := range rs.Records {
		if filter(record) {
			out = append(out, *record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (rs *RecordStore) FindSignedRabiesDesc(_ context.Context, petID int64) ([]core.MedicalRecord, error) {
	return rs.sortedDesc(func(r *core.MedicalRecord) bool {
		return r.PetID == petID && r.Type == core.RecordTypeVaccine && r.Signed() &&
			r.Vaccine != nil && r.Vaccine.IsRabiesVaccine
	}), nil
}

func (rs *RecordStore) FindSignedCheckupsSinceDesc(_ context.Context, petID int64, cutoff time.Time) ([]core.MedicalRecord, error) {
	return rs.sortedDesc(func(r *core.MedicalRecord) bool {
		return r.PetID == petID && r.Type == core.RecordTypeAnnualCheck && r.Signed() &&
			!r.CreatedAt.Before(cutoff)
	}), nil
}

func (rs *RecordStore) FindSignedRecords(_ context.Context, petID int64) ([]core.MedicalRecord, error) {
	return rs.sortedDesc(func(r *core.MedicalRecord) bool {
		return r.PetID == petID && r.Signed()
	}), nil
}

func (rs *RecordStore) GetRecord(_ context.Context, id int64) (*core.MedicalRecord, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	record, ok := rs.Records[id]
	if !ok {
		return nil, pcerrors.RecordNotFoundError(id)
	}
	copied := *record
	return &copied, nil
}

func (rs *RecordStore) AddRecord(_ context.Context, record *core.MedicalRecord) (*core.MedicalRecord, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if record.ID == 0 {
		var max int64
		for id := range rs.Records {
			if id > max {
				max = id
			}
		}
		record.ID = max + 1
	}
	copied := *record
	rs.Records[record.ID] = &copied
	return record, nil
}

func (rs *RecordStore) UpdateRecord(_ context.Context, record *core.MedicalRecord) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	existing, ok := rs.Records[record.ID]
	if !ok {
		return pcerrors.RecordNotFoundError(record.ID)
	}
	if existing.Immutable {
		return pcerrors.RecordImmutableError(record.ID)
	}
	copied := *record
	rs.Records[record.ID] = &copied
	return nil
}

func (rs *RecordStore) MarkImmutable(_ context.Context, recordID int64) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	record, ok := rs.Records[recordID]
	if !ok {
		return pcerrors.RecordNotFoundError(recordID)
	}
	record.Immutable = true
	return nil
}

// CertificateStore is a mock core.CertificateStore enforcing the same
// uniqueness rules as the SQL unique indexes. It shares a RecordStore so
// that AddCertificate can freeze the originating record atomically.
type CertificateStore struct {
	mu           sync.Mutex
	Certificates map[int64]*core.Certificate
	Records      *RecordStore
	nextID       int64

	// InsertErr, when set, makes AddCertificate fail without side
	// effects, for exercising the rollback path.
	InsertErr error
}

// NewCertificateStore returns an empty CertificateStore over the given
// RecordStore.
func NewCertificateStore(records *RecordStore) *CertificateStore {
	return &CertificateStore{
		Certificates: map[int64]*core.Certificate{},
		Records:      records,
		nextID:       1,
	}
}

func (cs *CertificateStore) ExistsForRecord(_ context.Context, recordID int64) (bool, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, cert := range cs.Certificates {
		if cert.MedicalRecordID == recordID {
			return true, nil
		}
	}
	return false, nil
}

func (cs *CertificateStore) FindByNumber(_ context.Context, number string) (*core.Certificate, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, cert := range cs.Certificates {
		if cert.CertificateNumber == number {
			copied := *cert
			return &copied, nil
		}
	}
	return nil, nil
}

func (cs *CertificateStore) GetCertificate(_ context.Context, id int64) (*core.Certificate, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cert, ok := cs.Certificates[id]
	if !ok {
		return nil, pcerrors.InternalServerError("certificate %d not found", id)
	}
	copied := *cert
	return &copied, nil
}

func (cs *CertificateStore) AddCertificate(ctx context.Context, cert *core.Certificate) (*core.Certificate, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.InsertErr != nil {
		return nil, cs.InsertErr
	}
	if _, err := cs.Records.GetRecord(ctx, cert.MedicalRecordID); err != nil {
		return nil, err
	}
	for _, existing := range cs.Certificates {
		if existing.CertificateNumber == cert.CertificateNumber {
			return nil, pcerrors.CertificateNumberAlreadyExistsError(cert.CertificateNumber)
		}
		if existing.MedicalRecordID == cert.MedicalRecordID {
			return nil, pcerrors.CertificateAlreadyExistsForRecordError(cert.MedicalRecordID)
		}
	}
	if err := cs.Records.MarkImmutable(ctx, cert.MedicalRecordID); err != nil {
		return nil, err
	}
	copied := *cert
	copied.ID = cs.nextID
	cs.nextID++
	cs.Certificates[copied.ID] = &copied
	stored := copied
	return &stored, nil
}

// Publisher is a mock core.EventPublisher recording published events.
type Publisher struct {
	mu     sync.Mutex
	Events []core.CertificateGeneratedEvent

	// Err, when set, is returned from every publish.
	Err error
}

func (p *Publisher) PublishCertificateGenerated(_ context.Context, event core.CertificateGeneratedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Events = append(p.Events, event)
	return nil
}

// Published returns a snapshot of the recorded events.
func (p *Publisher) Published() []core.CertificateGeneratedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.CertificateGeneratedEvent, len(p.Events))
	copy(out, p.Events)
	return out
}
