package dashboard

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/document"
	"github.com/trezcool/campus/core/enrollment"
	"github.com/trezcool/campus/core/guidance"
	"github.com/trezcool/campus/core/payment"
	"github.com/trezcool/campus/core/section"
	"github.com/trezcool/campus/core/student"
	"github.com/trezcool/campus/core/user"
)

const latestLimit = 10

var (
	// errors
	ErrUnknownKind = errors.New("unknown dashboard")
	ErrNoStudent   = errors.New("no student profile is linked to this account")

	errForbiddenKind = "you may not view this dashboard"

	// roles allowed to view each dashboard; admins view every staff dashboard
	kindRoles = map[string][]string{
		KindPrincipal:   {user.RoleStaffPrincipal},
		KindCoordinator: {user.RoleStaffPrincipal, user.RoleStaffCoordinator},
		KindRegistrar:   {user.RoleStaffPrincipal, user.RoleStaffRegistrar},
		KindAccounting:  {user.RoleStaffPrincipal, user.RoleStaffAccounting},
		KindGuidance:    {user.RoleStaffPrincipal, user.RoleStaffGuidance},
	}

	roleKinds = map[string]string{
		user.RoleStaffPrincipal:   KindPrincipal,
		user.RoleStaffCoordinator: KindCoordinator,
		user.RoleStaffRegistrar:   KindRegistrar,
		user.RoleStaffAccounting:  KindAccounting,
		user.RoleStaffGuidance:    KindGuidance,
		user.RoleTeacher:          KindTeacher,
		user.RoleParent:           KindParent,
		user.RoleStudent:          KindStudent,
	}
)

type (
	// StatsRepository computes the dashboard aggregates.
	StatsRepository interface {
		UsersByRole(ctx context.Context) (map[string]int, error)
		EnrollmentStats(ctx context.Context, schoolYear string) (EnrollmentStats, error)
		// GuidanceStats counts the records assigned to assignedTo, or all of them when empty.
		GuidanceStats(ctx context.Context, assignedTo string) (GuidanceStats, error)
		// SectionEnrolled returns the enrolled count of each section.
		SectionEnrolled(ctx context.Context, sectionIDs []string) (map[string]int, error)
	}

	Enrollments interface {
		Query(ctx context.Context, filter *enrollment.QueryFilter, ordering []core.DBOrdering, page core.Page) ([]enrollment.Enrollment, error)
		Current(ctx context.Context, studentID, schoolYear string) (enrollment.Enrollment, bool, error)
	}

	Payments interface {
		Query(ctx context.Context, filter *payment.QueryFilter, ordering []core.DBOrdering, page core.Page) ([]payment.Payment, error)
	}

	Guidance interface {
		Query(ctx context.Context, filter *guidance.QueryFilter, ordering []core.DBOrdering, page core.Page) ([]guidance.Record, error)
	}

	Sections interface {
		Get(ctx context.Context, id string) (section.Section, error)
		AdvisedBy(ctx context.Context, adviserID, schoolYear string) ([]section.Section, error)
	}

	Students interface {
		GetByUserID(ctx context.Context, userID string) (student.Student, error)
		ChildrenOf(ctx context.Context, guardianID string) ([]student.Student, error)
	}

	Documents interface {
		Query(ctx context.Context, filter *document.QueryFilter, ordering []core.DBOrdering, page core.Page) ([]document.Document, error)
	}

	Service struct {
		stats       StatsRepository
		enrollments Enrollments
		payments    Payments
		guidance    Guidance
		sections    Sections
		students    Students
		documents   Documents
	}
)

func NewService(
	stats StatsRepository,
	enrollments Enrollments,
	payments Payments,
	guidance Guidance,
	sections Sections,
	students Students,
	documents Documents,
) *Service {
	return &Service{
		stats:       stats,
		enrollments: enrollments,
		payments:    payments,
		guidance:    guidance,
		sections:    sections,
		students:    students,
		documents:   documents,
	}
}

// KindFor returns the dashboard kind of the user's highest-priority role.
func KindFor(usr user.User) string {
	if usr.IsAdmin() {
		return KindAdmin
	}
	return roleKinds[usr.PrimaryRole()]
}

// CanView reports whether usr may view the dashboard kind.
func CanView(usr user.User, kind string) bool {
	switch kind {
	case KindAdmin:
		return usr.IsAdmin()
	case KindTeacher:
		return usr.IsTeacher()
	case KindStudent:
		return usr.IsStudent()
	case KindParent:
		return usr.IsParent()
	}
	roles, ok := kindRoles[kind]
	if !ok {
		return false
	}
	return usr.IsAdmin() || usr.HasRole(roles...)
}

// For returns the dashboard of the user's primary role.
func (svc *Service) For(ctx context.Context, usr user.User, schoolYear string) (Dashboard, error) {
	kind := KindFor(usr)
	if kind == "" {
		return Dashboard{}, core.NewPermissionError(errForbiddenKind)
	}
	return svc.Get(ctx, usr, kind, schoolYear)
}

func (svc *Service) Get(ctx context.Context, usr user.User, kind, schoolYear string) (Dashboard, error) {
	if !core.StringInSlice(kind, Kinds) {
		return Dashboard{}, ErrUnknownKind
	}
	if !CanView(usr, kind) {
		return Dashboard{}, core.NewPermissionError(errForbiddenKind)
	}

	var (
		data interface{}
		err  error
	)
	switch kind {
	case KindAdmin:
		data, err = svc.admin(ctx, schoolYear)
	case KindPrincipal, KindCoordinator:
		data, err = svc.academic(ctx, schoolYear)
	case KindRegistrar:
		data, err = svc.registrar(ctx, schoolYear)
	case KindAccounting:
		data, err = svc.accounting(ctx, schoolYear)
	case KindGuidance:
		data, err = svc.guidanceDashboard(ctx, usr)
	case KindTeacher:
		data, err = svc.teacher(ctx, usr, schoolYear)
	case KindStudent:
		data, err = svc.student(ctx, usr, schoolYear)
	case KindParent:
		data, err = svc.parent(ctx, usr, schoolYear)
	}
	if err != nil {
		return Dashboard{}, err
	}
	return Dashboard{Kind: kind, SchoolYear: schoolYear, Data: data}, nil
}

func (svc *Service) academic(ctx context.Context, schoolYear string) (AcademicData, error) {
	es, err := svc.stats.EnrollmentStats(ctx, schoolYear)
	if err != nil {
		return AcademicData{}, errors.Wrap(err, "computing enrollment stats")
	}
	gs, err := svc.stats.GuidanceStats(ctx, "")
	if err != nil {
		return AcademicData{}, errors.Wrap(err, "computing guidance stats")
	}
	return AcademicData{Enrollments: es, Guidance: gs}, nil
}

func (svc *Service) admin(ctx context.Context, schoolYear string) (AdminData, error) {
	ad, err := svc.academic(ctx, schoolYear)
	if err != nil {
		return AdminData{}, err
	}
	byRole, err := svc.stats.UsersByRole(ctx)
	if err != nil {
		return AdminData{}, errors.Wrap(err, "counting users")
	}
	return AdminData{AcademicData: ad, UsersByRole: byRole}, nil
}

func (svc *Service) registrar(ctx context.Context, schoolYear string) (RegistrarData, error) {
	es, err := svc.stats.EnrollmentStats(ctx, schoolYear)
	if err != nil {
		return RegistrarData{}, errors.Wrap(err, "computing enrollment stats")
	}
	pending, err := svc.enrollments.Query(
		ctx,
		&enrollment.QueryFilter{SchoolYear: schoolYear, Statuses: []string{enrollment.StatusPending}},
		[]core.DBOrdering{{Field: "created_at", Ascending: false}},
		core.Page{Limit: latestLimit},
	)
	if err != nil {
		return RegistrarData{}, errors.Wrap(err, "querying pending enrollments")
	}
	return RegistrarData{
		Pending:                es.ByStatus[enrollment.StatusPending],
		ApprovedWithoutSection: es.ApprovedWithoutSection,
		LatestPending:          pending,
	}, nil
}

func (svc *Service) accounting(ctx context.Context, schoolYear string) (AccountingData, error) {
	es, err := svc.stats.EnrollmentStats(ctx, schoolYear)
	if err != nil {
		return AccountingData{}, errors.Wrap(err, "computing enrollment stats")
	}
	latest, err := svc.payments.Query(
		ctx,
		&payment.QueryFilter{Statuses: []string{payment.StatusSettled}},
		[]core.DBOrdering{{Field: "paid_at", Ascending: false}},
		core.Page{Limit: latestLimit},
	)
	if err != nil {
		return AccountingData{}, errors.Wrap(err, "querying payments")
	}
	return AccountingData{
		Collected:       es.Collected,
		Outstanding:     es.Outstanding,
		ByPaymentStatus: es.ByPaymentStatus,
		LatestPayments:  latest,
	}, nil
}

func (svc *Service) guidanceDashboard(ctx context.Context, usr user.User) (GuidanceData, error) {
	gs, err := svc.stats.GuidanceStats(ctx, "")
	if err != nil {
		return GuidanceData{}, errors.Wrap(err, "computing guidance stats")
	}
	mine, err := svc.guidance.Query(
		ctx,
		&guidance.QueryFilter{AssignedTo: usr.ID, Statuses: []string{guidance.StatusOpen, guidance.StatusInProgress}},
		[]core.DBOrdering{{Field: "updated_at", Ascending: false}},
		core.Page{Limit: latestLimit},
	)
	if err != nil {
		return GuidanceData{}, errors.Wrap(err, "querying assigned records")
	}
	return GuidanceData{Stats: gs, MyOpenCases: mine}, nil
}

func (svc *Service) teacher(ctx context.Context, usr user.User, schoolYear string) (TeacherData, error) {
	secs, err := svc.sections.AdvisedBy(ctx, usr.ID, schoolYear)
	if err != nil {
		return TeacherData{}, errors.Wrap(err, "querying advised sections")
	}
	ids := make([]string, 0, len(secs))
	for _, sec := range secs {
		ids = append(ids, sec.ID)
	}
	enrolled, err := svc.stats.SectionEnrolled(ctx, ids)
	if err != nil {
		return TeacherData{}, errors.Wrap(err, "counting enrolled students")
	}

	res := TeacherData{Sections: make([]AdvisedSection, 0, len(secs))}
	for _, sec := range secs {
		res.Sections = append(res.Sections, AdvisedSection{Section: sec, Enrolled: enrolled[sec.ID]})
	}
	return res, nil
}

func (svc *Service) student(ctx context.Context, usr user.User, schoolYear string) (StudentData, error) {
	st, err := svc.students.GetByUserID(ctx, usr.ID)
	if err != nil {
		if errors.Cause(err) == student.ErrNotFound {
			return StudentData{}, core.NewConflictError(ErrNoStudent)
		}
		return StudentData{}, errors.Wrap(err, "finding student")
	}
	res := StudentData{Student: st}

	e, ok, err := svc.enrollments.Current(ctx, st.ID, schoolYear)
	if err != nil {
		return StudentData{}, errors.Wrap(err, "finding current enrollment")
	}
	if ok {
		res.Enrollment = &e
		res.Balance = e.Balance()
		if e.SectionID != "" {
			if sec, err := svc.sections.Get(ctx, e.SectionID); err == nil {
				res.Section = &sec
			}
		}
	}

	res.Documents, err = svc.documents.Query(
		ctx,
		&document.QueryFilter{StudentID: st.ID},
		[]core.DBOrdering{{Field: "created_at", Ascending: false}},
		core.Page{},
	)
	if err != nil {
		return StudentData{}, errors.Wrap(err, "querying documents")
	}
	return res, nil
}

func (svc *Service) parent(ctx context.Context, usr user.User, schoolYear string) (ParentData, error) {
	children, err := svc.students.ChildrenOf(ctx, usr.ID)
	if err != nil {
		return ParentData{}, errors.Wrap(err, "finding children")
	}
	res := ParentData{Children: make([]ChildData, 0, len(children))}
	for _, st := range children {
		child := ChildData{Student: st}
		e, ok, err := svc.enrollments.Current(ctx, st.ID, schoolYear)
		if err != nil {
			return ParentData{}, errors.Wrap(err, "finding current enrollment")
		}
		if ok {
			child.Enrollment = &e
			child.Balance = e.Balance()
		}
		res.Children = append(res.Children, child)
	}
	return res, nil
}
