package dashboard

import (
	"github.com/trezcool/campus/core/document"
	"github.com/trezcool/campus/core/enrollment"
	"github.com/trezcool/campus/core/guidance"
	"github.com/trezcool/campus/core/payment"
	"github.com/trezcool/campus/core/section"
	"github.com/trezcool/campus/core/student"
)

// Kinds
const (
	KindAdmin       = "admin"
	KindPrincipal   = "principal"
	KindCoordinator = "coordinator"
	KindRegistrar   = "registrar"
	KindAccounting  = "accounting"
	KindGuidance    = "guidance"
	KindTeacher     = "teacher"
	KindStudent     = "student"
	KindParent      = "parent"
)

var Kinds = []string{
	KindAdmin, KindPrincipal, KindCoordinator, KindRegistrar, KindAccounting,
	KindGuidance, KindTeacher, KindStudent, KindParent,
}

type Dashboard struct {
	Kind       string      `json:"kind"`
	SchoolYear string      `json:"school_year"`
	Data       interface{} `json:"data"`
}

// EnrollmentStats aggregates the enrollments of a school year.
type EnrollmentStats struct {
	ByStatus               map[string]int `json:"by_status"`
	ByPaymentStatus        map[string]int `json:"by_payment_status"`
	EnrolledByGrade        map[int]int    `json:"enrolled_by_grade"`
	ApprovedWithoutSection int            `json:"approved_without_section"`
	Sections               int            `json:"sections"`
	Collected              int64          `json:"collected"`   // minor units
	Outstanding            int64          `json:"outstanding"` // minor units
}

// GuidanceStats aggregates the guidance records.
type GuidanceStats struct {
	ByStatus       map[string]int `json:"by_status"`
	OpenBySeverity map[string]int `json:"open_by_severity"`
	Open           int            `json:"open"`
}

type (
	AcademicData struct {
		Enrollments EnrollmentStats `json:"enrollments"`
		Guidance    GuidanceStats   `json:"guidance"`
	}

	AdminData struct {
		AcademicData
		UsersByRole map[string]int `json:"users_by_role"`
	}

	RegistrarData struct {
		Pending                int                     `json:"pending"`
		ApprovedWithoutSection int                     `json:"approved_without_section"`
		LatestPending          []enrollment.Enrollment `json:"latest_pending"`
	}

	AccountingData struct {
		Collected       int64             `json:"collected"`
		Outstanding     int64             `json:"outstanding"`
		ByPaymentStatus map[string]int    `json:"by_payment_status"`
		LatestPayments  []payment.Payment `json:"latest_payments"`
	}

	GuidanceData struct {
		Stats       GuidanceStats     `json:"stats"`
		MyOpenCases []guidance.Record `json:"my_open_cases"`
	}

	AdvisedSection struct {
		section.Section
		Enrolled int `json:"enrolled"`
	}

	TeacherData struct {
		Sections []AdvisedSection `json:"sections"`
	}

	StudentData struct {
		Student    student.Student        `json:"student"`
		Enrollment *enrollment.Enrollment `json:"enrollment"`
		Section    *section.Section       `json:"section"`
		Balance    int64                  `json:"balance"`
		Documents  []document.Document    `json:"documents"`
	}

	ChildData struct {
		Student    student.Student        `json:"student"`
		Enrollment *enrollment.Enrollment `json:"enrollment"`
		Balance    int64                  `json:"balance"`
	}

	ParentData struct {
		Children []ChildData `json:"children"`
	}
)
