package enrollment

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/campus/core"
)

// Statuses
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusEnrolled  = "enrolled"
	StatusRejected  = "rejected"
	StatusWithdrawn = "withdrawn"
)

// Payment statuses
const (
	PaymentUnpaid  = "unpaid"
	PaymentPartial = "partial"
	PaymentPaid    = "paid"
	PaymentWaived  = "waived" // approved with no tuition fee
)

var (
	Statuses        = []string{StatusPending, StatusApproved, StatusEnrolled, StatusRejected, StatusWithdrawn}
	PaymentStatuses = []string{PaymentUnpaid, PaymentPartial, PaymentPaid, PaymentWaived}

	// ActiveStatuses are the statuses holding a student's place for a school year.
	ActiveStatuses = []string{StatusPending, StatusApproved, StatusEnrolled}

	transitions = map[string][]string{
		StatusPending:  {StatusApproved, StatusRejected, StatusWithdrawn},
		StatusApproved: {StatusEnrolled, StatusRejected, StatusWithdrawn},
		StatusEnrolled: {StatusWithdrawn},
	}
)

// CanTransition reports whether an enrollment may go from status `from` to status `to`.
func CanTransition(from, to string) bool {
	return core.StringInSlice(to, transitions[from])
}

// PaymentStatusFor derives the payment status from the tuition fee and the settled amount.
func PaymentStatusFor(status string, fee, paid int64) string {
	switch {
	case paid > 0 && paid >= fee:
		return PaymentPaid
	case paid > 0:
		return PaymentPartial
	case fee == 0 && (status == StatusApproved || status == StatusEnrolled):
		return PaymentWaived
	default:
		return PaymentUnpaid
	}
}

type Enrollment struct {
	ID            string    `json:"id"`
	RefCode       string    `json:"ref_code"`
	StudentID     string    `json:"student_id"`
	SchoolYear    string    `json:"school_year"`
	GradeLevel    int       `json:"grade_level"`
	SectionID     string    `json:"section_id"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	TuitionFee    int64     `json:"tuition_fee"` // minor units
	AmountPaid    int64     `json:"amount_paid"` // minor units
	Remarks       string    `json:"remarks"`
	SubmittedBy   string    `json:"submitted_by"`
	ReviewedBy    string    `json:"reviewed_by"`
	CreatedAt     time.Time `json:"created_at"` // UTC
	UpdatedAt     time.Time `json:"updated_at"` // UTC
}

func (e Enrollment) IsActive() bool {
	return core.StringInSlice(e.Status, ActiveStatuses)
}

// Balance returns the tuition left to pay.
func (e Enrollment) Balance() int64 {
	if b := e.TuitionFee - e.AmountPaid; b > 0 {
		return b
	}
	return 0
}

// AcceptsPayments reports whether payments can be made against the enrollment.
func (e Enrollment) AcceptsPayments() bool {
	return e.Status == StatusApproved || e.Status == StatusEnrolled
}

// NewEnrollment contains information needed to submit an Enrollment.
type NewEnrollment struct {
	StudentID  string `json:"student_id" validate:"required,uuid"`
	SchoolYear string `json:"school_year" validate:"required,schoolyear"`
	GradeLevel *int   `json:"grade_level" validate:"required,gradelevel"`
	Remarks    string `json:"remarks" validate:"max=1000"`
}

func (ne *NewEnrollment) Validate(validate *validator.Validate) error {
	ne.StudentID = core.CleanString(ne.StudentID)
	ne.SchoolYear = core.CleanString(ne.SchoolYear)
	ne.Remarks = core.CleanString(ne.Remarks)
	return validate.Struct(ne)
}

type Approval struct {
	TuitionFee *int64 `json:"tuition_fee" validate:"required,min=0"`
	Remarks    string `json:"remarks" validate:"max=1000"`
}

func (a *Approval) Validate(validate *validator.Validate) error {
	a.Remarks = core.CleanString(a.Remarks)
	return validate.Struct(a)
}

// Decision carries the remarks of a rejection or withdrawal.
type Decision struct {
	Remarks string `json:"remarks" validate:"max=1000"`
}

func (d *Decision) Validate(validate *validator.Validate, required bool) error {
	d.Remarks = core.CleanString(d.Remarks)
	if required {
		if err := validate.Var(d.Remarks, "required"); err != nil {
			return core.NewValidationError(err, core.FieldError{Field: "remarks", Error: "this field is required"})
		}
	}
	return validate.Struct(d)
}

type SectionAssignment struct {
	SectionID string `json:"section_id" validate:"required,uuid"`
}

func (sa *SectionAssignment) Validate(validate *validator.Validate) error {
	sa.SectionID = core.CleanString(sa.SectionID)
	return validate.Struct(sa)
}

type QueryFilter struct {
	Search        string   `query:"search"` // reference code
	SchoolYear    string   `query:"school_year"`
	Statuses      []string `query:"status"`
	PaymentStatus string   `query:"payment_status"`
	GradeLevel    *int     `query:"grade_level"`
	SectionID     string   `query:"section_id"`
	StudentID     string   `query:"student_id"`
	// StudentIDs restricts the results to these students; set by the API, never bound from queries.
	StudentIDs []string `query:"-"`
	// Restricted is true when StudentIDs must be applied even if empty.
	Restricted bool `query:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search, true /* lower */)
	qf.SchoolYear = core.CleanString(qf.SchoolYear)
	qf.PaymentStatus = core.CleanString(qf.PaymentStatus)
	qf.SectionID = core.CleanString(qf.SectionID)
	qf.StudentID = core.CleanString(qf.StudentID)
}

// GetFilter finds a single Enrollment by ID or RefCode (first non-empty field wins).
type GetFilter struct {
	ID      string
	RefCode string
}
