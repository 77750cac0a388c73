package attendance

import "time"

// Status is the attendance outcome for one student in one session.
type Status string

const (
	StatusPresent Status = "Present"
	StatusLate    Status = "Late"
	StatusAbsent  Status = "Absent"
	StatusExcused Status = "Excused"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusLate, StatusAbsent, StatusExcused:
		return true
	}
	return false
}

// Method records how an attendance record came to exist.
type Method string

const (
	MethodQR     Method = "QR"
	MethodManual Method = "Manual"
	MethodAuto   Method = "Auto"
)

// TokenIssue is one entry in the append-only rotation log. Only the highest
// generation for an assignment is ever accepted at sign-in.
type TokenIssue struct {
	Generation   int64
	AssignmentID string
	Token        string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// Session is the attendance-taking instance of one assignment on one date.
type Session struct {
	ID           string
	AssignmentID string
	Date         string // YYYY-MM-DD
	CreatedAt    time.Time
}

// Record is one student's attendance fact within a session.
type Record struct {
	ID                string
	SessionID         string
	StudentID         string
	Status            Status
	Method            Method
	DeviceFingerprint *string
	CreatedAt         time.Time
}

// LiveRecord is a record joined with the student's name for the teacher view.
type LiveRecord struct {
	StudentID  string    `json:"student_id"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Status     Status    `json:"status"`
	Method     Method    `json:"method"`
	SignedInAt time.Time `json:"signed_in_at"`
}

// LiveStatus is the teacher's polling view of a running session.
type LiveStatus struct {
	SignedIn      int          `json:"signed_in_count"`
	TotalEnrolled int          `json:"total_enrolled"`
	Records       []LiveRecord `json:"records"`
}

// DaySummary is one date's status counts for an assignment.
type DaySummary struct {
	Date    string `json:"date"`
	Present int    `json:"present_count"`
	Late    int    `json:"late_count"`
	Absent  int    `json:"absent_count"`
	Excused int    `json:"excused_count"`
}

// StudentRecord is one row of a student's own attendance history.
type StudentRecord struct {
	Date        string    `json:"date"`
	SubjectCode string    `json:"subject_code"`
	SubjectName string    `json:"subject_name"`
	Status      Status    `json:"status"`
	Method      Method    `json:"method"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// EndedSession identifies a session whose sign-in window has closed.
type EndedSession struct {
	SessionID    string
	AssignmentID string
	Date         string
}
