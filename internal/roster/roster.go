package roster

import (
	"context"
	"database/sql"
	"errors"
)

// Assignment is a recurring teaching slot: teacher x subject x class on a
// weekly schedule. Owned by the admin CRUD layer; the core only reads it.
type Assignment struct {
	ID            string
	TeacherID     string
	SubjectID     string
	ClassID       string
	DayOfWeek     *string
	ScheduleStart string // HH:MM:SS
	ScheduleEnd   *string
}

// Student is the roster view of a student.
type Student struct {
	StudentID string
	FirstName string
	LastName  string
	ClassID   string
}

// Lecture is one of a student's scheduled slots, as shown on the sign-in screen.
type Lecture struct {
	AssignmentID  string  `json:"assignment_id"`
	SubjectCode   string  `json:"subject_code"`
	SubjectName   string  `json:"subject_name"`
	TeacherName   string  `json:"teacher_name"`
	DayOfWeek     *string `json:"day_of_week,omitempty"`
	ScheduleStart string  `json:"schedule_start"`
	ScheduleEnd   *string `json:"schedule_end,omitempty"`
}

// Repository reads roster and schedule data from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a roster repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetAssignment returns an assignment by id, or nil when it does not exist.
func (r *Repository) GetAssignment(ctx context.Context, id string) (*Assignment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, teacher_id, subject_id, class_id, day_of_week, schedule_start::text, schedule_end::text
		FROM assignments WHERE id = $1
	`, id)
	var a Assignment
	if err := row.Scan(&a.ID, &a.TeacherID, &a.SubjectID, &a.ClassID, &a.DayOfWeek, &a.ScheduleStart, &a.ScheduleEnd); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// IsEnrolled reports whether the student belongs to the class and takes the subject.
func (r *Repository) IsEnrolled(ctx context.Context, studentID, classID, subjectID string) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM students s
			JOIN student_subjects ss ON ss.student_id = s.student_id AND ss.subject_id = $3
			WHERE s.student_id = $1 AND s.class_id = $2
		)
	`, studentID, classID, subjectID)
	var enrolled bool
	if err := row.Scan(&enrolled); err != nil {
		return false, err
	}
	return enrolled, nil
}

// ListEnrolled returns every student in the class who takes the subject.
func (r *Repository) ListEnrolled(ctx context.Context, classID, subjectID string) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.student_id, s.first_name, s.last_name, s.class_id
		FROM students s
		JOIN student_subjects ss ON ss.student_id = s.student_id AND ss.subject_id = $2
		WHERE s.class_id = $1
		ORDER BY s.last_name, s.first_name
	`, classID, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var students []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.StudentID, &s.FirstName, &s.LastName, &s.ClassID); err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	return students, rows.Err()
}

// GetStudent returns a student by id, or nil when unknown.
func (r *Repository) GetStudent(ctx context.Context, studentID string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT student_id, first_name, last_name, class_id
		FROM students WHERE student_id = $1
	`, studentID)
	var s Student
	if err := row.Scan(&s.StudentID, &s.FirstName, &s.LastName, &s.ClassID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// TodayLectures returns the student's scheduled slots for the given weekday.
// Assignments with no day of week recur daily (legacy rosters leave it unset).
func (r *Repository) TodayLectures(ctx context.Context, studentID, dayOfWeek string) ([]Lecture, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, sub.subject_code, sub.subject_name,
		       t.first_name || ' ' || t.last_name,
		       a.day_of_week, a.schedule_start::text, a.schedule_end::text
		FROM assignments a
		JOIN subjects sub ON sub.subject_id = a.subject_id
		JOIN teachers t ON t.teacher_id = a.teacher_id
		JOIN students st ON st.class_id = a.class_id
		JOIN student_subjects ss ON ss.student_id = st.student_id AND ss.subject_id = a.subject_id
		WHERE st.student_id = $1 AND (a.day_of_week = $2 OR a.day_of_week IS NULL)
		ORDER BY a.schedule_start
	`, studentID, dayOfWeek)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lectures []Lecture
	for rows.Next() {
		var l Lecture
		if err := rows.Scan(&l.AssignmentID, &l.SubjectCode, &l.SubjectName, &l.TeacherName, &l.DayOfWeek, &l.ScheduleStart, &l.ScheduleEnd); err != nil {
			return nil, err
		}
		lectures = append(lectures, l)
	}
	return lectures, rows.Err()
}
