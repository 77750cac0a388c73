package attendance

import (
	"context"
	"log"
	"time"

	"campusattend/internal/roster"
)

// Store is the persistence surface the service drives. *Repository implements
// it against Postgres; tests substitute a map-backed mock.
type Store interface {
	InsertToken(ctx context.Context, assignmentID, token string, issuedAt, expiresAt time.Time) (TokenIssue, error)
	CurrentToken(ctx context.Context, assignmentID string) (*TokenIssue, error)
	ResolveToken(ctx context.Context, token string) (*TokenIssue, error)
	GetOrCreateSession(ctx context.Context, assignmentID, date string) (*Session, error)
	GetSession(ctx context.Context, assignmentID, date string) (*Session, error)
	CommitSignIn(ctx context.Context, sessionID, studentID, fingerprint string, status Status) (*Record, error)
	UpsertRecord(ctx context.Context, sessionID, studentID string, status Status) error
	InsertRecordIfMissing(ctx context.Context, sessionID, studentID string, status Status, method Method) (bool, error)
	ListRecords(ctx context.Context, sessionID string) ([]LiveRecord, error)
	RecordFor(ctx context.Context, assignmentID, date, studentID string) (*Record, error)
	HistorySummary(ctx context.Context, assignmentID, from, to string) ([]DaySummary, error)
	StudentRecords(ctx context.Context, studentID, from, to string) ([]StudentRecord, error)
	ListEndedSessions(ctx context.Context, date, timeOfDay string) ([]EndedSession, error)
}

// Roster is the read-only view of the assignment registry.
type Roster interface {
	GetAssignment(ctx context.Context, id string) (*roster.Assignment, error)
	IsEnrolled(ctx context.Context, studentID, classID, subjectID string) (bool, error)
	ListEnrolled(ctx context.Context, classID, subjectID string) ([]roster.Student, error)
	GetStudent(ctx context.Context, studentID string) (*roster.Student, error)
	TodayLectures(ctx context.Context, studentID, dayOfWeek string) ([]roster.Lecture, error)
}

// TokenCache is an optional hot cache for the current rotating token, polled
// by the teacher's display every few seconds.
type TokenCache interface {
	CacheToken(ctx context.Context, assignmentID, token string, expiresAt time.Time) error
	CachedToken(ctx context.Context, assignmentID string) (token string, expiresAt time.Time, ok bool)
}

// Options carries the attendance policy knobs.
type Options struct {
	TokenTTL        time.Duration // rotation validity window
	LateThreshold   time.Duration // grace period after scheduled start
	DefaultDuration time.Duration // lecture length when no end time is configured
	Location        *time.Location
}

// Service implements attendance capture and verification: token rotation,
// sign-in, reconciliation, and manual corrections.
type Service struct {
	store  Store
	roster Roster
	cache  TokenCache // may be nil
	opts   Options
}

// NewService creates a service backed by the given stores.
func NewService(store Store, reg Roster, cache TokenCache, opts Options) *Service {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 5 * time.Second
	}
	if opts.LateThreshold <= 0 {
		opts.LateThreshold = 15 * time.Minute
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = time.Hour
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Service{store: store, roster: reg, cache: cache, opts: opts}
}

// Rotate mints a fresh token for the assignment, valid for TokenTTL from now.
// Each rotation invalidates the previous token immediately, even before its
// wall-clock expiry. As a side effect, today's session is created if absent.
func (s *Service) Rotate(ctx context.Context, callerID, assignmentID string, now time.Time) (TokenIssue, error) {
	if _, err := s.ownedAssignment(ctx, callerID, assignmentID); err != nil {
		return TokenIssue{}, err
	}

	if _, err := s.store.GetOrCreateSession(ctx, assignmentID, s.dateOf(now)); err != nil {
		return TokenIssue{}, err
	}

	token, err := newToken(now)
	if err != nil {
		return TokenIssue{}, err
	}
	issue, err := s.store.InsertToken(ctx, assignmentID, token, now, now.Add(s.opts.TokenTTL))
	if err != nil {
		return TokenIssue{}, err
	}

	if s.cache != nil {
		if err := s.cache.CacheToken(ctx, assignmentID, issue.Token, issue.ExpiresAt); err != nil {
			log.Printf("token cache write failed for assignment %s: %v", assignmentID, err)
		}
	}
	return issue, nil
}

// CurrentToken returns the assignment's live token, or nil when none is live.
func (s *Service) CurrentToken(ctx context.Context, callerID, assignmentID string, now time.Time) (*TokenIssue, error) {
	if _, err := s.ownedAssignment(ctx, callerID, assignmentID); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if token, exp, ok := s.cache.CachedToken(ctx, assignmentID); ok {
			return &TokenIssue{AssignmentID: assignmentID, Token: token, ExpiresAt: exp}, nil
		}
	}

	issue, err := s.store.CurrentToken(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if issue == nil || issue.ExpiresAt.Before(now) {
		return nil, nil
	}
	return issue, nil
}

// SignIn runs the verification pipeline and commits one attendance record.
// Each step fails with its own error kind; all failures are terminal for the
// attempt and the client is expected to scan the currently displayed token.
func (s *Service) SignIn(ctx context.Context, studentID, token, fingerprint string, now time.Time) (*Record, error) {
	if token == "" {
		return nil, ErrTokenInvalid
	}
	if len(fingerprint) < 32 {
		return nil, ErrBadFingerprint
	}

	// 1. Resolve the token against the latest generation. A token overwritten
	// by a newer rotation no longer resolves, even if its expiry has not passed.
	issue, err := s.store.ResolveToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, ErrTokenInvalid
	}

	// 2. Freshness.
	if issue.ExpiresAt.Before(now) {
		return nil, ErrTokenExpired
	}

	assignment, err := s.roster.GetAssignment(ctx, issue.AssignmentID)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, ErrTokenInvalid
	}

	// 3. Window: a sign-in at exactly windowEnd still succeeds.
	date := s.dateOf(now)
	start, end, err := s.window(assignment, date)
	if err != nil {
		return nil, err
	}
	if now.After(end) {
		return nil, ErrWindowClosed
	}

	// 4. Enrollment.
	enrolled, err := s.roster.IsEnrolled(ctx, studentID, assignment.ClassID, assignment.SubjectID)
	if err != nil {
		return nil, err
	}
	if !enrolled {
		return nil, ErrNotEnrolled
	}

	// 5. Session.
	session, err := s.store.GetOrCreateSession(ctx, assignment.ID, date)
	if err != nil {
		return nil, err
	}

	// 6-9. Duplicate check, device binding and record insert are one atomic
	// unit; the store's constraints arbitrate races.
	return s.store.CommitSignIn(ctx, session.ID, studentID, fingerprint, classify(now, start, s.opts.LateThreshold))
}

// Finalize is the teacher-triggered reconciliation of one session.
func (s *Service) Finalize(ctx context.Context, callerID, assignmentID, date string, now time.Time) (int, error) {
	if _, err := s.ownedAssignment(ctx, callerID, assignmentID); err != nil {
		return 0, err
	}
	return s.Reconcile(ctx, assignmentID, date, now)
}

// Reconcile inserts Absent records for every enrolled student with no record
// in the session. It refuses while the window is open, and is idempotent: the
// set of unmarked students is empty after the first run. A failure on one
// student does not abort the sweep for the rest.
func (s *Service) Reconcile(ctx context.Context, assignmentID, date string, now time.Time) (int, error) {
	assignment, err := s.roster.GetAssignment(ctx, assignmentID)
	if err != nil {
		return 0, err
	}
	if assignment == nil {
		return 0, ErrUnknownAssignment
	}

	_, end, err := s.window(assignment, date)
	if err != nil {
		return 0, err
	}
	if !now.After(end) {
		return 0, ErrWindowStillOpen
	}

	session, err := s.store.GetOrCreateSession(ctx, assignmentID, date)
	if err != nil {
		return 0, err
	}

	enrolled, err := s.roster.ListEnrolled(ctx, assignment.ClassID, assignment.SubjectID)
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, student := range enrolled {
		inserted, err := s.store.InsertRecordIfMissing(ctx, session.ID, student.StudentID, StatusAbsent, MethodAuto)
		if err != nil {
			log.Printf("reconcile: marking %s absent in session %s failed: %v", student.StudentID, session.ID, err)
			continue
		}
		if inserted {
			marked++
		}
	}
	return marked, nil
}

// SetStatus is the teacher's manual override: it upserts the student's record
// with method Manual, overwriting any prior status including Auto absences.
func (s *Service) SetStatus(ctx context.Context, callerID, assignmentID, studentID string, status Status, date string) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	if _, err := s.ownedAssignment(ctx, callerID, assignmentID); err != nil {
		return err
	}

	session, err := s.store.GetOrCreateSession(ctx, assignmentID, date)
	if err != nil {
		return err
	}
	return s.store.UpsertRecord(ctx, session.ID, studentID, status)
}

// MarkAll sets every enrolled student who has no record yet to the given
// status with method Manual. Existing records are left untouched.
func (s *Service) MarkAll(ctx context.Context, callerID, assignmentID string, status Status, date string) (int, error) {
	if status != StatusPresent && status != StatusAbsent {
		return 0, ErrInvalidStatus
	}
	assignment, err := s.ownedAssignment(ctx, callerID, assignmentID)
	if err != nil {
		return 0, err
	}

	session, err := s.store.GetOrCreateSession(ctx, assignmentID, date)
	if err != nil {
		return 0, err
	}

	enrolled, err := s.roster.ListEnrolled(ctx, assignment.ClassID, assignment.SubjectID)
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, student := range enrolled {
		inserted, err := s.store.InsertRecordIfMissing(ctx, session.ID, student.StudentID, status, MethodManual)
		if err != nil {
			log.Printf("mark-all: marking %s in session %s failed: %v", student.StudentID, session.ID, err)
			continue
		}
		if inserted {
			marked++
		}
	}
	return marked, nil
}

// LiveStatus returns the teacher's polling view of a session: who has signed
// in, how, and out of how many enrolled.
func (s *Service) LiveStatus(ctx context.Context, callerID, assignmentID, date string) (*LiveStatus, error) {
	assignment, err := s.ownedAssignment(ctx, callerID, assignmentID)
	if err != nil {
		return nil, err
	}

	enrolled, err := s.roster.ListEnrolled(ctx, assignment.ClassID, assignment.SubjectID)
	if err != nil {
		return nil, err
	}
	status := &LiveStatus{TotalEnrolled: len(enrolled), Records: []LiveRecord{}}

	session, err := s.store.GetSession(ctx, assignmentID, date)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return status, nil
	}

	records, err := s.store.ListRecords(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if records != nil {
		status.Records = records
	}
	status.SignedIn = len(records)
	return status, nil
}

// History returns per-date status counts for an assignment over a range.
func (s *Service) History(ctx context.Context, callerID, assignmentID, from, to string) ([]DaySummary, error) {
	if _, err := s.ownedAssignment(ctx, callerID, assignmentID); err != nil {
		return nil, err
	}
	return s.store.HistorySummary(ctx, assignmentID, from, to)
}

// MyAttendance returns the student's own records over a date range.
func (s *Service) MyAttendance(ctx context.Context, studentID, from, to string) ([]StudentRecord, error) {
	return s.store.StudentRecords(ctx, studentID, from, to)
}

// LectureStatus is one entry on the student's sign-in screen: a scheduled
// slot, whether its window is open right now, and the student's record so far.
type LectureStatus struct {
	Lecture    roster.Lecture `json:"lecture"`
	WindowOpen bool           `json:"window_open"`
	Status     *Status        `json:"status,omitempty"`
	Method     *Method        `json:"method,omitempty"`
}

// MyLectures returns today's lectures for the student with per-lecture
// sign-in state. The window shown opens 15 minutes before the scheduled start
// so students see upcoming lectures, although early sign-ins remain Present.
func (s *Service) MyLectures(ctx context.Context, studentID string, now time.Time) ([]LectureStatus, error) {
	lectures, err := s.roster.TodayLectures(ctx, studentID, now.In(s.opts.Location).Weekday().String())
	if err != nil {
		return nil, err
	}

	date := s.dateOf(now)
	out := make([]LectureStatus, 0, len(lectures))
	for _, lec := range lectures {
		start, end, err := s.lectureWindow(lec.ScheduleStart, lec.ScheduleEnd, date)
		if err != nil {
			return nil, err
		}
		ls := LectureStatus{
			Lecture:    lec,
			WindowOpen: !now.Before(start.Add(-s.opts.LateThreshold)) && !now.After(end),
		}
		rec, err := s.store.RecordFor(ctx, lec.AssignmentID, date, studentID)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			ls.Status = &rec.Status
			ls.Method = &rec.Method
		}
		out = append(out, ls)
	}
	return out, nil
}

// SweepEnded lists sessions on the given date whose window has closed.
func (s *Service) SweepEnded(ctx context.Context, now time.Time) ([]EndedSession, error) {
	local := now.In(s.opts.Location)
	return s.store.ListEndedSessions(ctx, local.Format("2006-01-02"), local.Format("15:04:05"))
}

// classify maps a sign-in instant to Present or Late. Only reached after the
// window-open check, so "too early" never occurs here; an early sign-in is
// Present with no penalty.
func classify(now, scheduledStart time.Time, lateThreshold time.Duration) Status {
	if now.After(scheduledStart.Add(lateThreshold)) {
		return StatusLate
	}
	return StatusPresent
}

func (s *Service) ownedAssignment(ctx context.Context, callerID, assignmentID string) (*roster.Assignment, error) {
	assignment, err := s.roster.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, ErrUnknownAssignment
	}
	if assignment.TeacherID != callerID {
		return nil, ErrNotAssignmentTeacher
	}
	return assignment, nil
}

func (s *Service) dateOf(now time.Time) string {
	return now.In(s.opts.Location).Format("2006-01-02")
}

// window computes the sign-in window for an assignment on a date. A missing
// end time defaults to start plus the configured lecture duration.
func (s *Service) window(a *roster.Assignment, date string) (start, end time.Time, err error) {
	return s.lectureWindow(a.ScheduleStart, a.ScheduleEnd, date)
}

func (s *Service) lectureWindow(scheduleStart string, scheduleEnd *string, date string) (start, end time.Time, err error) {
	start, err = time.ParseInLocation("2006-01-02 15:04:05", date+" "+scheduleStart, s.opts.Location)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if scheduleEnd != nil && *scheduleEnd != "" {
		end, err = time.ParseInLocation("2006-01-02 15:04:05", date+" "+*scheduleEnd, s.opts.Location)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		end = start.Add(s.opts.DefaultDuration)
	}
	return start, end, nil
}
