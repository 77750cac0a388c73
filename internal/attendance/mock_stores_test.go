package attendance

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"campusattend/internal/roster"
)

// mockStore is a map-backed Store that mirrors the schema's uniqueness
// constraints, so service tests exercise the same arbitration the database
// performs.
type mockStore struct {
	gen      int64
	tokens   []TokenIssue
	sessions map[string]*Session // assignmentID|date
	records  map[string]*Record  // sessionID|studentID
	bindings map[string]string   // sessionID|fingerprint -> studentID
	names    map[string]string   // studentID -> full name, for conflict errors
	ended    []EndedSession

	failInsertFor map[string]bool // studentIDs whose inserts fail
}

func newMockStore() *mockStore {
	return &mockStore{
		sessions:      make(map[string]*Session),
		records:       make(map[string]*Record),
		bindings:      make(map[string]string),
		names:         make(map[string]string),
		failInsertFor: make(map[string]bool),
	}
}

func (m *mockStore) InsertToken(_ context.Context, assignmentID, token string, issuedAt, expiresAt time.Time) (TokenIssue, error) {
	m.gen++
	issue := TokenIssue{Generation: m.gen, AssignmentID: assignmentID, Token: token, IssuedAt: issuedAt, ExpiresAt: expiresAt}
	m.tokens = append(m.tokens, issue)
	return issue, nil
}

func (m *mockStore) CurrentToken(_ context.Context, assignmentID string) (*TokenIssue, error) {
	for i := len(m.tokens) - 1; i >= 0; i-- {
		if m.tokens[i].AssignmentID == assignmentID {
			issue := m.tokens[i]
			return &issue, nil
		}
	}
	return nil, nil
}

func (m *mockStore) ResolveToken(ctx context.Context, token string) (*TokenIssue, error) {
	for i := len(m.tokens) - 1; i >= 0; i-- {
		if m.tokens[i].Token == token {
			current, _ := m.CurrentToken(ctx, m.tokens[i].AssignmentID)
			if current.Generation != m.tokens[i].Generation {
				return nil, nil // superseded
			}
			issue := m.tokens[i]
			return &issue, nil
		}
	}
	return nil, nil
}

func (m *mockStore) GetOrCreateSession(_ context.Context, assignmentID, date string) (*Session, error) {
	key := assignmentID + "|" + date
	if s, ok := m.sessions[key]; ok {
		return s, nil
	}
	s := &Session{ID: uuid.NewString(), AssignmentID: assignmentID, Date: date, CreatedAt: time.Now()}
	m.sessions[key] = s
	return s, nil
}

func (m *mockStore) GetSession(_ context.Context, assignmentID, date string) (*Session, error) {
	if s, ok := m.sessions[assignmentID+"|"+date]; ok {
		return s, nil
	}
	return nil, nil
}

func (m *mockStore) CommitSignIn(_ context.Context, sessionID, studentID, fingerprint string, status Status) (*Record, error) {
	if _, ok := m.records[sessionID+"|"+studentID]; ok {
		return nil, ErrAlreadySignedIn
	}
	bindKey := sessionID + "|" + fingerprint
	if owner, ok := m.bindings[bindKey]; ok && owner != studentID {
		return nil, &DeviceConflictError{StudentID: owner, StudentName: m.names[owner]}
	}
	m.bindings[bindKey] = studentID
	rec := &Record{
		ID:                uuid.NewString(),
		SessionID:         sessionID,
		StudentID:         studentID,
		Status:            status,
		Method:            MethodQR,
		DeviceFingerprint: &fingerprint,
		CreatedAt:         time.Now(),
	}
	m.records[sessionID+"|"+studentID] = rec
	return rec, nil
}

func (m *mockStore) UpsertRecord(_ context.Context, sessionID, studentID string, status Status) error {
	key := sessionID + "|" + studentID
	if rec, ok := m.records[key]; ok {
		rec.Status = status
		rec.Method = MethodManual
		return nil
	}
	m.records[key] = &Record{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		StudentID: studentID,
		Status:    status,
		Method:    MethodManual,
		CreatedAt: time.Now(),
	}
	return nil
}

func (m *mockStore) InsertRecordIfMissing(_ context.Context, sessionID, studentID string, status Status, method Method) (bool, error) {
	if m.failInsertFor[studentID] {
		return false, errors.New("insert failed")
	}
	key := sessionID + "|" + studentID
	if _, ok := m.records[key]; ok {
		return false, nil
	}
	m.records[key] = &Record{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		StudentID: studentID,
		Status:    status,
		Method:    method,
		CreatedAt: time.Now(),
	}
	return true, nil
}

func (m *mockStore) ListRecords(_ context.Context, sessionID string) ([]LiveRecord, error) {
	var out []LiveRecord
	for _, rec := range m.records {
		if rec.SessionID == sessionID {
			out = append(out, LiveRecord{
				StudentID:  rec.StudentID,
				Status:     rec.Status,
				Method:     rec.Method,
				SignedInAt: rec.CreatedAt,
			})
		}
	}
	return out, nil
}

func (m *mockStore) RecordFor(_ context.Context, assignmentID, date, studentID string) (*Record, error) {
	s, ok := m.sessions[assignmentID+"|"+date]
	if !ok {
		return nil, nil
	}
	if rec, ok := m.records[s.ID+"|"+studentID]; ok {
		return rec, nil
	}
	return nil, nil
}

func (m *mockStore) HistorySummary(_ context.Context, assignmentID, from, to string) ([]DaySummary, error) {
	byDate := make(map[string]*DaySummary)
	for _, s := range m.sessions {
		if s.AssignmentID != assignmentID || s.Date < from || s.Date > to {
			continue
		}
		for _, rec := range m.records {
			if rec.SessionID != s.ID {
				continue
			}
			d, ok := byDate[s.Date]
			if !ok {
				d = &DaySummary{Date: s.Date}
				byDate[s.Date] = d
			}
			switch rec.Status {
			case StatusPresent:
				d.Present++
			case StatusLate:
				d.Late++
			case StatusAbsent:
				d.Absent++
			case StatusExcused:
				d.Excused++
			}
		}
	}
	var out []DaySummary
	for _, d := range byDate {
		out = append(out, *d)
	}
	return out, nil
}

func (m *mockStore) StudentRecords(_ context.Context, studentID, from, to string) ([]StudentRecord, error) {
	var out []StudentRecord
	for _, s := range m.sessions {
		if s.Date < from || s.Date > to {
			continue
		}
		if rec, ok := m.records[s.ID+"|"+studentID]; ok {
			out = append(out, StudentRecord{Date: s.Date, Status: rec.Status, Method: rec.Method, RecordedAt: rec.CreatedAt})
		}
	}
	return out, nil
}

func (m *mockStore) ListEndedSessions(_ context.Context, _, _ string) ([]EndedSession, error) {
	return m.ended, nil
}

// mockRoster is a map-backed assignment registry.
type mockRoster struct {
	assignments map[string]*roster.Assignment
	students    map[string]*roster.Student
	enrollment  map[string]bool // studentID|subjectID
	lectures    []roster.Lecture
}

func newMockRoster() *mockRoster {
	return &mockRoster{
		assignments: make(map[string]*roster.Assignment),
		students:    make(map[string]*roster.Student),
		enrollment:  make(map[string]bool),
	}
}

func (m *mockRoster) enroll(s roster.Student, subjectID string) {
	st := s
	m.students[s.StudentID] = &st
	m.enrollment[s.StudentID+"|"+subjectID] = true
}

func (m *mockRoster) GetAssignment(_ context.Context, id string) (*roster.Assignment, error) {
	if a, ok := m.assignments[id]; ok {
		return a, nil
	}
	return nil, nil
}

func (m *mockRoster) IsEnrolled(_ context.Context, studentID, classID, subjectID string) (bool, error) {
	s, ok := m.students[studentID]
	if !ok || s.ClassID != classID {
		return false, nil
	}
	return m.enrollment[studentID+"|"+subjectID], nil
}

func (m *mockRoster) ListEnrolled(_ context.Context, classID, subjectID string) ([]roster.Student, error) {
	var out []roster.Student
	for _, s := range m.students {
		if s.ClassID == classID && m.enrollment[s.StudentID+"|"+subjectID] {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *mockRoster) GetStudent(_ context.Context, studentID string) (*roster.Student, error) {
	if s, ok := m.students[studentID]; ok {
		return s, nil
	}
	return nil, nil
}

func (m *mockRoster) TodayLectures(_ context.Context, _, _ string) ([]roster.Lecture, error) {
	return m.lectures, nil
}

// mockCache records token cache traffic.
type mockCache struct {
	token     string
	expiresAt time.Time
	hits      int
}

func (m *mockCache) CacheToken(_ context.Context, _, token string, expiresAt time.Time) error {
	m.token = token
	m.expiresAt = expiresAt
	return nil
}

func (m *mockCache) CachedToken(_ context.Context, _ string) (string, time.Time, bool) {
	if m.token == "" || time.Now().After(m.expiresAt) {
		return "", time.Time{}, false
	}
	m.hits++
	return m.token, m.expiresAt, true
}
