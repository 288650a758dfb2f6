package guidance

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/campus/core"
)

// Kinds
const (
	KindBehavior   = "behavior"
	KindCounseling = "counseling"
)

// Severities
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Statuses
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusResolved   = "resolved"
	StatusClosed     = "closed"
)

var (
	Kinds      = []string{KindBehavior, KindCounseling}
	Severities = []string{SeverityLow, SeverityMedium, SeverityHigh}
	Statuses   = []string{StatusOpen, StatusInProgress, StatusResolved, StatusClosed}

	transitions = map[string][]string{
		StatusOpen:       {StatusInProgress, StatusClosed},
		StatusInProgress: {StatusResolved},
		StatusResolved:   {StatusInProgress, StatusClosed},
	}
)

// CanTransition reports whether a record may go from status `from` to status `to`.
func CanTransition(from, to string) bool {
	return core.StringInSlice(to, transitions[from])
}

// Record is a behavior or counseling record of a student.
type Record struct {
	ID           string    `json:"id"`
	StudentID    string    `json:"student_id"`
	Kind         string    `json:"kind"`
	Category     string    `json:"category"`
	Description  string    `json:"description"`
	Severity     string    `json:"severity"`
	Status       string    `json:"status"`
	ReportedBy   string    `json:"reported_by"`
	AssignedTo   string    `json:"assigned_to"`
	ActionTaken  string    `json:"action_taken"`
	IncidentDate string    `json:"incident_date"` // YYYY-MM-DD
	Notes        []Note    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
}

type Note struct {
	ID        string    `json:"id"`
	RecordID  string    `json:"record_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"` // UTC
}

type NewRecord struct {
	StudentID    string `json:"student_id" validate:"required,uuid"`
	Kind         string `json:"kind" validate:"required,oneof=behavior counseling"`
	Category     string `json:"category" validate:"required,max=100"`
	Description  string `json:"description" validate:"required,max=5000"`
	Severity     string `json:"severity" validate:"omitempty,oneof=low medium high"`
	IncidentDate string `json:"incident_date" validate:"omitempty,datetime=2006-01-02"`
}

func (nr *NewRecord) Validate(validate *validator.Validate) error {
	nr.StudentID = core.CleanString(nr.StudentID)
	nr.Kind = core.CleanString(nr.Kind, true /* lower */)
	nr.Category = core.CleanString(nr.Category)
	nr.Description = core.CleanString(nr.Description)
	nr.Severity = core.CleanString(nr.Severity, true /* lower */)
	nr.IncidentDate = core.CleanString(nr.IncidentDate)
	if nr.Severity == "" {
		nr.Severity = SeverityLow
	}
	return validate.Struct(nr)
}

type UpdateRecord struct {
	Category     *string `json:"category" validate:"omitempty,min=1,max=100"`
	Description  *string `json:"description" validate:"omitempty,min=1,max=5000"`
	Severity     *string `json:"severity" validate:"omitempty,oneof=low medium high"`
	IncidentDate *string `json:"incident_date" validate:"omitempty,datetime=2006-01-02"`
}

func (ur *UpdateRecord) Validate(validate *validator.Validate) error {
	for _, fld := range []*string{ur.Category, ur.Description, ur.Severity, ur.IncidentDate} {
		if fld != nil {
			*fld = core.CleanString(*fld)
		}
	}
	return validate.Struct(ur)
}

func (ur UpdateRecord) Apply(rec *Record) {
	if ur.Category != nil {
		rec.Category = *ur.Category
	}
	if ur.Description != nil {
		rec.Description = *ur.Description
	}
	if ur.Severity != nil {
		rec.Severity = *ur.Severity
	}
	if ur.IncidentDate != nil {
		rec.IncidentDate = *ur.IncidentDate
	}
}

type Assignment struct {
	CounselorID string `json:"counselor_id" validate:"required,uuid"`
}

func (a *Assignment) Validate(validate *validator.Validate) error {
	a.CounselorID = core.CleanString(a.CounselorID)
	return validate.Struct(a)
}

type StatusChange struct {
	Status      string `json:"status" validate:"required,oneof=open in_progress resolved closed"`
	ActionTaken string `json:"action_taken" validate:"max=5000"`
}

func (sc *StatusChange) Validate(validate *validator.Validate) error {
	sc.Status = core.CleanString(sc.Status, true /* lower */)
	sc.ActionTaken = core.CleanString(sc.ActionTaken)
	return validate.Struct(sc)
}

type NewNote struct {
	Body string `json:"body" validate:"required,max=5000"`
}

func (nn *NewNote) Validate(validate *validator.Validate) error {
	nn.Body = core.CleanString(nn.Body)
	return validate.Struct(nn)
}

type QueryFilter struct {
	StudentID  string   `query:"student_id"`
	Kind       string   `query:"kind"`
	Severity   string   `query:"severity"`
	Statuses   []string `query:"status"`
	AssignedTo string   `query:"assigned_to"`
	ReportedBy string   `query:"reported_by"`
	// StudentIDs restricts the results to these students; set by the API.
	StudentIDs []string `query:"-"`
	Restricted bool     `query:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.StudentID = core.CleanString(qf.StudentID)
	qf.Kind = core.CleanString(qf.Kind, true /* lower */)
	qf.Severity = core.CleanString(qf.Severity, true /* lower */)
	qf.AssignedTo = core.CleanString(qf.AssignedTo)
	qf.ReportedBy = core.CleanString(qf.ReportedBy)
}
