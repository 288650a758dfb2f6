package student

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/campus/core"
)

const (
	SexMale   = "male"
	SexFemale = "female"

	dateLayout = "2006-01-02"
)

type Student struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"` // empty when the student has no account
	LRN         string    `json:"lrn"`
	FirstName   string    `json:"first_name"`
	MiddleName  string    `json:"middle_name"`
	LastName    string    `json:"last_name"`
	BirthDate   string    `json:"birth_date"` // YYYY-MM-DD
	Sex         string    `json:"sex"`
	Address     string    `json:"address"`
	GradeLevel  int       `json:"grade_level"`
	GuardianIDs []string  `json:"guardian_ids"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

func (st Student) FullName() string {
	parts := []string{st.FirstName}
	if st.MiddleName != "" {
		parts = append(parts, st.MiddleName)
	}
	parts = append(parts, st.LastName)
	return strings.Join(parts, " ")
}

func (st Student) HasGuardian(userID string) bool {
	return core.StringInSlice(userID, st.GuardianIDs)
}

// BirthTime returns the parsed BirthDate; the zero time if unset.
func (st Student) BirthTime() time.Time {
	t, _ := time.Parse(dateLayout, st.BirthDate)
	return t
}

// FormatDate formats t the way Student.BirthDate is stored.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

// NewStudent contains information needed to register a new Student.
type NewStudent struct {
	UserID      string   `json:"user_id" validate:"omitempty,uuid"`
	LRN         string   `json:"lrn" validate:"required,len=12,numeric"`
	FirstName   string   `json:"first_name" validate:"required,max=100"`
	MiddleName  string   `json:"middle_name" validate:"max=100"`
	LastName    string   `json:"last_name" validate:"required,max=100"`
	BirthDate   string   `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	Sex         string   `json:"sex" validate:"required,oneof=male female"`
	Address     string   `json:"address"`
	GradeLevel  *int     `json:"grade_level" validate:"required,gradelevel"`
	GuardianIDs []string `json:"guardian_ids" validate:"omitempty,dive,uuid"`
}

func (ns *NewStudent) Clean() {
	ns.UserID = core.CleanString(ns.UserID)
	ns.LRN = core.CleanString(ns.LRN)
	ns.FirstName = core.CleanString(ns.FirstName)
	ns.MiddleName = core.CleanString(ns.MiddleName)
	ns.LastName = core.CleanString(ns.LastName)
	ns.BirthDate = core.CleanString(ns.BirthDate)
	ns.Sex = core.CleanString(ns.Sex, true /* lower */)
	ns.Address = core.CleanString(ns.Address)
}

func (ns *NewStudent) Validate(validate *validator.Validate) error {
	ns.Clean()
	return validate.Struct(ns)
}

// UpdateStudent defines what information may be provided to modify an existing Student.
type UpdateStudent struct {
	UserID     *string `json:"user_id" validate:"omitempty,uuid|len=0"`
	FirstName  *string `json:"first_name" validate:"omitempty,notblank,max=100"`
	MiddleName *string `json:"middle_name" validate:"omitempty,max=100"`
	LastName   *string `json:"last_name" validate:"omitempty,notblank,max=100"`
	BirthDate  *string `json:"birth_date" validate:"omitempty,datetime=2006-01-02|len=0"`
	Sex        *string `json:"sex" validate:"omitempty,oneof=male female"`
	Address    *string `json:"address"`
	GradeLevel *int    `json:"grade_level" validate:"omitempty,gradelevel"`
}

func (us *UpdateStudent) Validate(validate *validator.Validate) error {
	for _, s := range []*string{us.UserID, us.FirstName, us.MiddleName, us.LastName, us.BirthDate, us.Address} {
		if s != nil {
			*s = core.CleanString(*s)
		}
	}
	if us.Sex != nil {
		*us.Sex = core.CleanString(*us.Sex, true /* lower */)
	}
	return validate.Struct(us)
}

// Apply sets the provided fields on st.
func (us UpdateStudent) Apply(st *Student) {
	if us.UserID != nil {
		st.UserID = *us.UserID
	}
	if us.FirstName != nil {
		st.FirstName = *us.FirstName
	}
	if us.MiddleName != nil {
		st.MiddleName = *us.MiddleName
	}
	if us.LastName != nil {
		st.LastName = *us.LastName
	}
	if us.BirthDate != nil {
		st.BirthDate = *us.BirthDate
	}
	if us.Sex != nil {
		st.Sex = *us.Sex
	}
	if us.Address != nil {
		st.Address = *us.Address
	}
	if us.GradeLevel != nil {
		st.GradeLevel = *us.GradeLevel
	}
}

type GuardianLink struct {
	GuardianID string `json:"guardian_id" validate:"required,uuid"`
}

type QueryFilter struct {
	Search     string `query:"search"` // name or LRN
	GradeLevel *int   `query:"grade_level"`
	GuardianID string `query:"guardian_id"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.GuardianID = core.CleanString(qf.GuardianID)
}

// GetFilter finds a single Student by ID, UserID or LRN (first non-empty field wins).
type GetFilter struct {
	ID     string
	UserID string
	LRN    string
}
