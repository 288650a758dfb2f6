package document

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/campus/core"
)

// Kinds
const (
	KindBirthCertificate   = "birth_certificate"
	KindReportCard         = "report_card"
	KindGoodMoral          = "good_moral"
	KindIDPhoto            = "id_photo"
	KindTransferCredential = "transfer_credential"
	KindOther              = "other"
)

// Statuses
const (
	StatusSubmitted = "submitted"
	StatusVerified  = "verified"
	StatusRejected  = "rejected"
)

var (
	Kinds    = []string{KindBirthCertificate, KindReportCard, KindGoodMoral, KindIDPhoto, KindTransferCredential, KindOther}
	Statuses = []string{StatusSubmitted, StatusVerified, StatusRejected}

	// AllowedContentTypes maps the accepted content types to their file extension.
	AllowedContentTypes = map[string]string{
		"application/pdf": ".pdf",
		"image/jpeg":      ".jpg",
		"image/png":       ".png",
	}
)

type Document struct {
	ID           string     `json:"id"`
	StudentID    string     `json:"student_id"`
	EnrollmentID string     `json:"enrollment_id"`
	Kind         string     `json:"kind"`
	Filename     string     `json:"filename"`
	ContentType  string     `json:"content_type"`
	Size         int64      `json:"size"`
	StorageKey   string     `json:"-"`
	Status       string     `json:"status"`
	Remarks      string     `json:"remarks"`
	UploadedBy   string     `json:"uploaded_by"`
	VerifiedBy   string     `json:"verified_by"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"` // UTC
	CreatedAt    time.Time  `json:"created_at"`           // UTC
	UpdatedAt    time.Time  `json:"updated_at"`           // UTC
}

func (d Document) IsDeleted() bool { return d.DeletedAt != nil }

// NewDocument describes an uploaded file; its content is passed to Service.Upload separately.
type NewDocument struct {
	StudentID    string `json:"student_id" form:"student_id" validate:"required,uuid"`
	EnrollmentID string `json:"enrollment_id" form:"enrollment_id" validate:"omitempty,uuid"`
	Kind         string `json:"kind" form:"kind" validate:"required,oneof=birth_certificate report_card good_moral id_photo transfer_credential other"`
	Filename     string `json:"filename" validate:"required,max=255"`
	Size         int64  `json:"size" validate:"min=1"`
}

func (nd *NewDocument) Validate(validate *validator.Validate) error {
	nd.StudentID = core.CleanString(nd.StudentID)
	nd.EnrollmentID = core.CleanString(nd.EnrollmentID)
	nd.Kind = core.CleanString(nd.Kind, true /* lower */)
	nd.Filename = core.CleanString(nd.Filename)
	return validate.Struct(nd)
}

// Review carries the remarks of a verification or rejection.
type Review struct {
	Remarks string `json:"remarks" validate:"max=1000"`
}

func (r *Review) Validate(validate *validator.Validate) error {
	r.Remarks = core.CleanString(r.Remarks)
	return validate.Struct(r)
}

type QueryFilter struct {
	StudentID    string   `query:"student_id"`
	EnrollmentID string   `query:"enrollment_id"`
	Kind         string   `query:"kind"`
	Statuses     []string `query:"status"`
	// StudentIDs restricts the results to these students; set by the API.
	StudentIDs []string `query:"-"`
	Restricted bool     `query:"-"`
	// DeletedBefore selects soft deleted documents, deleted before the time.
	DeletedBefore time.Time `query:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.StudentID = core.CleanString(qf.StudentID)
	qf.EnrollmentID = core.CleanString(qf.EnrollmentID)
	qf.Kind = core.CleanString(qf.Kind, true /* lower */)
}
