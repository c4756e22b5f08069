package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/iut-admissions-api/internal/models"
	"github.com/noah-isme/iut-admissions-api/internal/repository"
)

type fakeAccounts struct {
	mu      sync.Mutex
	users   map[string]*models.User
	deleted []string
	seq     int
	// fileKeys are the document keys DeleteCascade reports per account.
	fileKeys map[string][]string
}

func newFakeAccounts(users ...*models.User) *fakeAccounts {
	f := &fakeAccounts{users: make(map[string]*models.User)}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeAccounts) FindByID(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeAccounts) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Username, username) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeAccounts) FindByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	if u, err := f.FindByUsername(ctx, identifier); err == nil {
		return u, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, identifier) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeAccounts) Create(ctx context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if strings.EqualFold(existing.Username, u.Username) {
			return &repository.UniqueViolation{Constraint: repository.ConstraintAccountUsername}
		}
	}
	if u.ID == "" {
		f.seq++
		u.ID = fmt.Sprintf("acc-%d", f.seq)
	}
	copied := *u
	f.users[u.ID] = &copied
	return nil
}

func (f *fakeAccounts) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.users, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAccounts) DeleteCascade(ctx context.Context, accountID string) ([]string, error) {
	if err := f.Delete(ctx, accountID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fileKeys[accountID], nil
}

func (f *fakeAccounts) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.LastLogin = &at
	}
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	drafts []models.NotificationDraft
}

func (f *fakeNotifier) Create(ctx context.Context, draft models.NotificationDraft) *models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts = append(f.drafts, draft)
	return &models.Notification{RecipientID: draft.RecipientID, Kind: draft.Kind, Title: draft.Title}
}

func (f *fakeNotifier) kinds() []models.NotificationKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.NotificationKind, 0, len(f.drafts))
	for _, d := range f.drafts {
		out = append(out, d.Kind)
	}
	return out
}

func (f *fakeNotifier) last() models.NotificationDraft {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.drafts) == 0 {
		return models.NotificationDraft{}
	}
	return f.drafts[len(f.drafts)-1]
}

// fakeAdmissionsStore is a mutex-serialized stand-in for the programs,
// enrollment_records, registration_counters and required_documents tables.
type fakeAdmissionsStore struct {
	mu       sync.Mutex
	programs map[string]*models.Program
	records  map[string]*models.EnrollmentRecord
	docs     map[string]*models.RequiredDocument
	counters map[int]int
	seq      int

	// collisions makes the next n Create calls fail on the registration number
	// after consuming a sequence value.
	collisions int
	createErr  error
}

func newFakeAdmissionsStore(programs ...*models.Program) *fakeAdmissionsStore {
	s := &fakeAdmissionsStore{
		programs: make(map[string]*models.Program),
		records:  make(map[string]*models.EnrollmentRecord),
		docs:     make(map[string]*models.RequiredDocument),
		counters: make(map[int]int),
	}
	for _, p := range programs {
		s.programs[p.ID] = p
	}
	return s
}

func (s *fakeAdmissionsStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *fakeAdmissionsStore) Create(ctx context.Context, record *models.EnrollmentRecord, spec repository.RegistrationNumberSpec, enforceCapacity bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	program, ok := s.programs[record.ProgramID]
	if !ok || program.Status != models.ProgramActive {
		return repository.ErrProgramUnavailable
	}
	if enforceCapacity && program.Occupancy >= program.Capacity {
		return repository.ErrProgramFull
	}
	s.counters[spec.Year]++
	if s.collisions > 0 {
		s.collisions--
		return &repository.UniqueViolation{Constraint: repository.ConstraintRegistrationNumber}
	}
	for _, existing := range s.records {
		if existing.AccountID == record.AccountID {
			return &repository.UniqueViolation{Constraint: repository.ConstraintEnrollmentAccount}
		}
	}
	program.Occupancy++
	record.ID = s.nextID("enr")
	record.RegistrationNumber = models.FormatRegistrationNumber(spec.Prefix, spec.Year, s.counters[spec.Year])
	record.CreatedAt = time.Now().UTC()
	record.UpdatedAt = record.CreatedAt
	copied := *record
	s.records[record.ID] = &copied
	return nil
}

func (s *fakeAdmissionsStore) FindByID(ctx context.Context, id string) (*models.EnrollmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[id]; ok {
		copied := *r
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *fakeAdmissionsStore) FindByAccount(ctx context.Context, accountID string) (*models.EnrollmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.AccountID == accountID {
			copied := *r
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *fakeAdmissionsStore) ExistsByNationalID(ctx context.Context, nationalID, excludeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID != excludeID && r.NationalID == nationalID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeAdmissionsStore) ExistsByPersonalEmail(ctx context.Context, email, excludeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID != excludeID && r.PersonalEmail == email {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeAdmissionsStore) Mutate(ctx context.Context, id string, enforceCapacity bool, fn func(*models.EnrollmentRecord) error) (*models.EnrollmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	next := *current
	if err := fn(&next); err != nil {
		return nil, err
	}
	next.ID, next.AccountID, next.RegistrationNumber, next.CreatedAt = current.ID, current.AccountID, current.RegistrationNumber, current.CreatedAt
	switch {
	case current.HoldsSeat() && !next.HoldsSeat():
		s.release(current.ProgramID)
	case current.HoldsSeat() && next.ProgramID != current.ProgramID:
		program, ok := s.programs[next.ProgramID]
		if !ok || program.Status != models.ProgramActive {
			return nil, repository.ErrProgramUnavailable
		}
		if enforceCapacity && program.Occupancy >= program.Capacity {
			return nil, repository.ErrProgramFull
		}
		program.Occupancy++
		s.release(current.ProgramID)
	}
	next.UpdatedAt = time.Now().UTC()
	s.records[id] = &next
	copied := next
	return &copied, nil
}

func (s *fakeAdmissionsStore) release(programID string) {
	if p, ok := s.programs[programID]; ok && p.Occupancy > 0 {
		p.Occupancy--
	}
}

func (s *fakeAdmissionsStore) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentListItem, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []models.EnrollmentListItem
	for _, r := range s.records {
		if filter.ProgramID != "" && r.ProgramID != filter.ProgramID {
			continue
		}
		if filter.ValidationStatus != nil && r.ValidationStatus != *filter.ValidationStatus {
			continue
		}
		item := models.EnrollmentListItem{EnrollmentRecord: *r}
		if p, ok := s.programs[r.ProgramID]; ok {
			item.ProgramCode, item.ProgramName = p.Code, p.Name
		}
		items = append(items, item)
	}
	return items, len(items), nil
}

func (s *fakeAdmissionsStore) CountByProgram(ctx context.Context, programID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, r := range s.records {
		if r.ProgramID == programID {
			count++
		}
	}
	return count, nil
}

func (s *fakeAdmissionsStore) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.RequiredDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RequiredDocument
	for _, kind := range models.RequiredDocumentKinds() {
		for _, d := range s.docs {
			if d.EnrollmentID == enrollmentID && d.Kind == kind {
				out = append(out, *d)
			}
		}
	}
	return out, nil
}

func (s *fakeAdmissionsStore) program(id string) models.Program {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.programs[id]
}

// fakeProgramReader exposes the store's programs through the catalog lookups.
type fakeProgramReader struct{ store *fakeAdmissionsStore }

func (f fakeProgramReader) FindByID(ctx context.Context, id string) (*models.Program, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if p, ok := f.store.programs[id]; ok {
		copied := *p
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (f fakeProgramReader) FindByCode(ctx context.Context, code string) (*models.Program, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	for _, p := range f.store.programs {
		if strings.EqualFold(p.Code, code) {
			copied := *p
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

type countingIssuerMetrics struct {
	mu        sync.Mutex
	retries   int
	conflicts int
	created   int
}

func (m *countingIssuerMetrics) RegistrationRetry() {
	m.mu.Lock()
	m.retries++
	m.mu.Unlock()
}

func (m *countingIssuerMetrics) RegistrationConflict() {
	m.mu.Lock()
	m.conflicts++
	m.mu.Unlock()
}

func (m *countingIssuerMetrics) EnrollmentCreated() {
	m.mu.Lock()
	m.created++
	m.mu.Unlock()
}

func activeProgram(id, code string, capacity int) *models.Program {
	return &models.Program{ID: id, Code: code, Name: "Programme " + code, Capacity: capacity, Eligibility: models.EligibilityGeneral, Status: models.ProgramActive}
}

func studentAccount(id string) *models.User {
	return &models.User{ID: id, Username: id, Email: id + "@example.com", FullName: "Student " + id, Role: models.RoleStudent, Active: true}
}

func (s *fakeAdmissionsStore) CountByValidationStatus(ctx context.Context) (models.ValidationStatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var counts models.ValidationStatusCounts
	for _, r := range s.records {
		switch r.ValidationStatus {
		case models.ValidationPending:
			counts.Pending++
		case models.ValidationValidated:
			counts.Validated++
		case models.ValidationRejected:
			counts.Rejected++
		}
	}
	return counts, nil
}

func (s *fakeAdmissionsStore) CountByStatus(ctx context.Context) (models.DocumentCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var counts models.DocumentCounts
	for _, d := range s.docs {
		if d.Validated {
			counts.Validated++
		} else {
			counts.Pending++
		}
	}
	return counts, nil
}

func (s *fakeAdmissionsStore) CountActive(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, p := range s.programs {
		if p.Status == models.ProgramActive {
			count++
		}
	}
	return count, nil
}

func (s *fakeAdmissionsStore) ListByLoad(ctx context.Context, limit int) ([]models.ProgramLoad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var loads []models.ProgramLoad
	for _, p := range s.programs {
		loads = append(loads, models.ProgramLoad{ProgramID: p.ID, Code: p.Code, Name: p.Name, Capacity: p.Capacity,
			Occupancy: p.Occupancy, OccupancyRate: p.OccupancyRate()})
	}
	sort.Slice(loads, func(i, j int) bool { return loads[i].OccupancyRate > loads[j].OccupancyRate })
	if len(loads) > limit {
		loads = loads[:limit]
	}
	return loads, nil
}

func (s *fakeAdmissionsStore) addDocuments(enrollmentID string, validated bool, kinds ...models.DocumentKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kind := range kinds {
		id := s.nextID("doc")
		s.docs[id] = &models.RequiredDocument{ID: id, EnrollmentID: enrollmentID, Kind: kind, FileKey: "documents/" + id, Validated: validated}
	}
}

func stringsReader(s string) *strings.Reader { return strings.NewReader(s) }
