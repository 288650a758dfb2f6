package section

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/campus/core"
)

type Section struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	GradeLevel int       `json:"grade_level"`
	SchoolYear string    `json:"school_year"`
	AdviserID  string    `json:"adviser_id"`
	Room       string    `json:"room"`
	Capacity   int       `json:"capacity"`
	Assigned   int       `json:"assigned"` // active enrollments holding the section
	CreatedAt  time.Time `json:"created_at"` // UTC
	UpdatedAt  time.Time `json:"updated_at"` // UTC
}

// SeatsLeft returns the number of students the section can still take.
func (s Section) SeatsLeft() int {
	if left := s.Capacity - s.Assigned; left > 0 {
		return left
	}
	return 0
}

func (s Section) IsFull() bool { return s.SeatsLeft() == 0 }

// NewSection contains information needed to create a new Section.
type NewSection struct {
	Name       string `json:"name" validate:"required,max=100"`
	GradeLevel *int   `json:"grade_level" validate:"required,gradelevel"`
	SchoolYear string `json:"school_year" validate:"required,schoolyear"`
	AdviserID  string `json:"adviser_id" validate:"omitempty,uuid"`
	Room       string `json:"room" validate:"max=50"`
	Capacity   int    `json:"capacity" validate:"required,min=1,max=100"`
}

func (ns *NewSection) Validate(validate *validator.Validate) error {
	ns.Name = core.CleanString(ns.Name)
	ns.SchoolYear = core.CleanString(ns.SchoolYear)
	ns.AdviserID = core.CleanString(ns.AdviserID)
	ns.Room = core.CleanString(ns.Room)
	return validate.Struct(ns)
}

// UpdateSection defines what information may be provided to modify an existing Section.
// Grade level & school year are fixed once the section exists.
type UpdateSection struct {
	Name      *string `json:"name" validate:"omitempty,notblank,max=100"`
	AdviserID *string `json:"adviser_id" validate:"omitempty,uuid|len=0"`
	Room      *string `json:"room" validate:"omitempty,max=50"`
	Capacity  *int    `json:"capacity" validate:"omitempty,min=1,max=100"`
}

func (us *UpdateSection) Validate(validate *validator.Validate) error {
	for _, s := range []*string{us.Name, us.AdviserID, us.Room} {
		if s != nil {
			*s = core.CleanString(*s)
		}
	}
	return validate.Struct(us)
}

type QueryFilter struct {
	Search     string `query:"search"`
	SchoolYear string `query:"school_year"`
	GradeLevel *int   `query:"grade_level"`
	AdviserID  string `query:"adviser_id"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.SchoolYear = core.CleanString(qf.SchoolYear)
	qf.AdviserID = core.CleanString(qf.AdviserID)
}

// RosterEntry is a student holding a seat in a section.
type RosterEntry struct {
	EnrollmentID string `json:"enrollment_id"`
	StudentID    string `json:"student_id"`
	LRN          string `json:"lrn"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Status       string `json:"status"`
}
