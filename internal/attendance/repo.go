package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository persists attendance data in Postgres. Uniqueness is enforced by
// the schema's constraints; inserts use ON CONFLICT so that concurrent
// requests are arbitrated by the database, never by a prior existence check.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InsertToken appends a new generation to the rotation log and returns it.
// Appending implicitly invalidates every earlier generation for the
// assignment: lookups only ever accept the latest one.
func (r *Repository) InsertToken(ctx context.Context, assignmentID, token string, issuedAt, expiresAt time.Time) (TokenIssue, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO qr_tokens (assignment_id, token, issued_at, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING generation
	`, assignmentID, token, issuedAt, expiresAt)
	issue := TokenIssue{AssignmentID: assignmentID, Token: token, IssuedAt: issuedAt, ExpiresAt: expiresAt}
	if err := row.Scan(&issue.Generation); err != nil {
		return TokenIssue{}, err
	}
	return issue, nil
}

// CurrentToken returns the latest generation for an assignment, or nil when
// no token was ever rotated.
func (r *Repository) CurrentToken(ctx context.Context, assignmentID string) (*TokenIssue, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT generation, assignment_id, token, issued_at, expires_at
		FROM qr_tokens
		WHERE assignment_id = $1
		ORDER BY generation DESC
		LIMIT 1
	`, assignmentID)
	var issue TokenIssue
	if err := row.Scan(&issue.Generation, &issue.AssignmentID, &issue.Token, &issue.IssuedAt, &issue.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &issue, nil
}

// ResolveToken looks up a presented token. It returns nil when the token is
// unknown or has been superseded by a later generation.
func (r *Repository) ResolveToken(ctx context.Context, token string) (*TokenIssue, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT t.generation, t.assignment_id, t.token, t.issued_at, t.expires_at
		FROM qr_tokens t
		WHERE t.token = $1
		  AND t.generation = (SELECT MAX(generation) FROM qr_tokens WHERE assignment_id = t.assignment_id)
	`, token)
	var issue TokenIssue
	if err := row.Scan(&issue.Generation, &issue.AssignmentID, &issue.Token, &issue.IssuedAt, &issue.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &issue, nil
}

// GetOrCreateSession returns the session for (assignment, date), creating it
// if absent. The UNIQUE constraint resolves concurrent creation: both callers
// end up selecting the same row.
func (r *Repository) GetOrCreateSession(ctx context.Context, assignmentID, date string) (*Session, error) {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, assignment_id, session_date)
		VALUES ($1, $2, $3)
		ON CONFLICT (assignment_id, session_date) DO NOTHING
	`, uuid.NewString(), assignmentID, date); err != nil {
		return nil, err
	}
	return r.GetSession(ctx, assignmentID, date)
}

// GetSession returns the session for (assignment, date), or nil when none exists.
func (r *Repository) GetSession(ctx context.Context, assignmentID, date string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, assignment_id, session_date::text, created_at
		FROM sessions
		WHERE assignment_id = $1 AND session_date = $2
	`, assignmentID, date)
	var s Session
	if err := row.Scan(&s.ID, &s.AssignmentID, &s.Date, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// CommitSignIn binds the device and inserts the attendance record as one
// transaction. The uniqueness constraints are the final arbiter: a lost race
// surfaces as ErrAlreadySignedIn or a DeviceConflictError, never as a
// double insert.
func (r *Repository) CommitSignIn(ctx context.Context, sessionID, studentID, fingerprint string, status Status) (*Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM attendance_records WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID).Scan(&existing)
	if err == nil {
		return nil, ErrAlreadySignedIn
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO device_bindings (id, session_id, device_fingerprint, student_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, device_fingerprint) DO NOTHING
	`, uuid.NewString(), sessionID, fingerprint, studentID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var ownerID, firstName, lastName string
		err = tx.QueryRowContext(ctx, `
			SELECT db.student_id, s.first_name, s.last_name
			FROM device_bindings db
			JOIN students s ON s.student_id = db.student_id
			WHERE db.session_id = $1 AND db.device_fingerprint = $2
		`, sessionID, fingerprint).Scan(&ownerID, &firstName, &lastName)
		if err != nil {
			return nil, err
		}
		if ownerID != studentID {
			return nil, &DeviceConflictError{StudentID: ownerID, StudentName: firstName + " " + lastName}
		}
		// Same student re-binding the same device; the record insert below
		// decides whether this is a duplicate attempt.
	}

	rec := Record{
		ID:                uuid.NewString(),
		SessionID:         sessionID,
		StudentID:         studentID,
		Status:            status,
		Method:            MethodQR,
		DeviceFingerprint: &fingerprint,
	}
	row := tx.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, session_id, student_id, status, method, device_fingerprint)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, student_id) DO NOTHING
		RETURNING created_at
	`, rec.ID, rec.SessionID, rec.StudentID, rec.Status, rec.Method, fingerprint)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlreadySignedIn
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpsertRecord writes a manual correction, overwriting any prior status
// regardless of how it was set. This is the only path allowed to overwrite.
func (r *Repository) UpsertRecord(ctx context.Context, sessionID, studentID string, status Status) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, session_id, student_id, status, method)
		VALUES ($1, $2, $3, $4, 'Manual')
		ON CONFLICT (session_id, student_id)
		DO UPDATE SET status = EXCLUDED.status, method = 'Manual'
	`, uuid.NewString(), sessionID, studentID, status)
	return err
}

// InsertRecordIfMissing inserts a record only when the student has none in
// the session. Returns whether a row was written.
func (r *Repository) InsertRecordIfMissing(ctx context.Context, sessionID, studentID string, status Status, method Method) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, session_id, student_id, status, method)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, student_id) DO NOTHING
	`, uuid.NewString(), sessionID, studentID, status, method)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListRecords returns a session's records with student names, newest first.
func (r *Repository) ListRecords(ctx context.Context, sessionID string) ([]LiveRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ar.student_id, s.first_name, s.last_name, ar.status, ar.method, ar.created_at
		FROM attendance_records ar
		JOIN students s ON s.student_id = ar.student_id
		WHERE ar.session_id = $1
		ORDER BY ar.created_at DESC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []LiveRecord
	for rows.Next() {
		var lr LiveRecord
		if err := rows.Scan(&lr.StudentID, &lr.FirstName, &lr.LastName, &lr.Status, &lr.Method, &lr.SignedInAt); err != nil {
			return nil, err
		}
		records = append(records, lr)
	}
	return records, rows.Err()
}

// RecordFor returns the student's record in the assignment's session on the
// given date, or nil when the student has none.
func (r *Repository) RecordFor(ctx context.Context, assignmentID, date, studentID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT ar.id, ar.session_id, ar.student_id, ar.status, ar.method, ar.device_fingerprint, ar.created_at
		FROM attendance_records ar
		JOIN sessions s ON s.id = ar.session_id
		WHERE s.assignment_id = $1 AND s.session_date = $2 AND ar.student_id = $3
	`, assignmentID, date, studentID)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.Status, &rec.Method, &rec.DeviceFingerprint, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// HistorySummary returns per-date status counts for an assignment over a range.
func (r *Repository) HistorySummary(ctx context.Context, assignmentID, from, to string) ([]DaySummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.session_date::text,
		       COUNT(*) FILTER (WHERE ar.status = 'Present'),
		       COUNT(*) FILTER (WHERE ar.status = 'Late'),
		       COUNT(*) FILTER (WHERE ar.status = 'Absent'),
		       COUNT(*) FILTER (WHERE ar.status = 'Excused')
		FROM sessions s
		JOIN attendance_records ar ON ar.session_id = s.id
		WHERE s.assignment_id = $1 AND s.session_date BETWEEN $2 AND $3
		GROUP BY s.session_date
		ORDER BY s.session_date
	`, assignmentID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var days []DaySummary
	for rows.Next() {
		var d DaySummary
		if err := rows.Scan(&d.Date, &d.Present, &d.Late, &d.Absent, &d.Excused); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

// StudentRecords returns a student's own attendance over a date range.
func (r *Repository) StudentRecords(ctx context.Context, studentID, from, to string) ([]StudentRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.session_date::text, sub.subject_code, sub.subject_name, ar.status, ar.method, ar.created_at
		FROM attendance_records ar
		JOIN sessions s ON s.id = ar.session_id
		JOIN assignments a ON a.id = s.assignment_id
		JOIN subjects sub ON sub.subject_id = a.subject_id
		WHERE ar.student_id = $1 AND s.session_date BETWEEN $2 AND $3
		ORDER BY s.session_date DESC, ar.created_at DESC
	`, studentID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []StudentRecord
	for rows.Next() {
		var sr StudentRecord
		if err := rows.Scan(&sr.Date, &sr.SubjectCode, &sr.SubjectName, &sr.Status, &sr.Method, &sr.RecordedAt); err != nil {
			return nil, err
		}
		records = append(records, sr)
	}
	return records, rows.Err()
}

// ListEndedSessions returns the sessions on a date whose sign-in window has
// closed by timeOfDay (HH:MM:SS). Used by the reconciliation sweep; since
// reconciliation is idempotent, returning an already-swept session is harmless.
func (r *Repository) ListEndedSessions(ctx context.Context, date, timeOfDay string) ([]EndedSession, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.assignment_id, s.session_date::text
		FROM sessions s
		JOIN assignments a ON a.id = s.assignment_id
		WHERE s.session_date = $1
		  AND $2::time > COALESCE(a.schedule_end, a.schedule_start + interval '1 hour')
	`, date, timeOfDay)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ended []EndedSession
	for rows.Next() {
		var e EndedSession
		if err := rows.Scan(&e.SessionID, &e.AssignmentID, &e.Date); err != nil {
			return nil, err
		}
		ended = append(ended, e)
	}
	return ended, rows.Err()
}
