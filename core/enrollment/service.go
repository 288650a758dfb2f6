package enrollment

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/section"
	"github.com/trezcool/campus/core/student"
	"github.com/trezcool/campus/core/user"
)

var (
	// errors
	ErrNotFound          = errors.New("enrollment not found")
	ErrAlreadyEnrolled   = errors.New("student already has an active enrollment for this school year")
	ErrInvalidTransition = errors.New("enrollment status does not allow this action")
	ErrSectionFull       = errors.New("section is full")
	ErrSectionMismatch   = errors.New("section grade level or school year does not match the enrollment")
	ErrNoSection         = errors.New("a section must be assigned before enrolling")
	ErrPaymentRequired   = errors.New("a payment must be made before enrolling")

	errCannotSubmit = "you may only submit enrollments for yourself or your children"
)

type (
	Repository interface {
		// NextRefSeq returns the next value of the reference code sequence.
		NextRefSeq(ctx context.Context, exec ...core.DBExecutor) (int64, error)
		HasActiveEnrollment(ctx context.Context, studentID, schoolYear string, exec ...core.DBExecutor) (bool, error)
		CreateEnrollment(ctx context.Context, e Enrollment, exec ...core.DBExecutor) (Enrollment, error)
		UpdateEnrollment(ctx context.Context, e Enrollment, exec ...core.DBExecutor) (Enrollment, error)
		GetEnrollment(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (Enrollment, error)
		QueryEnrollments(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page, exec ...core.DBExecutor) ([]Enrollment, error)
		CountActiveInSection(ctx context.Context, sectionID string, exec ...core.DBExecutor) (int, error)
	}

	StudentGetter interface {
		Get(ctx context.Context, id string) (student.Student, error)
	}

	SectionLocker interface {
		LockSection(ctx context.Context, id string, exec ...core.DBExecutor) (section.Section, error)
	}

	UserGetter interface {
		GetByIDs(ctx context.Context, ids ...string) ([]user.User, error)
	}

	Service struct {
		db       core.DB
		repo     Repository
		students StudentGetter
		sections SectionLocker
		users    UserGetter
		refCoder *RefCoder
		mailSvc  core.EmailService
		logger   core.Logger
	}
)

func NewService(
	db core.DB,
	repo Repository,
	students StudentGetter,
	sections SectionLocker,
	users UserGetter,
	refCoder *RefCoder,
	mailSvc core.EmailService,
	logger core.Logger,
) *Service {
	return &Service{
		db:       db,
		repo:     repo,
		students: students,
		sections: sections,
		users:    users,
		refCoder: refCoder,
		mailSvc:  mailSvc,
		logger:   logger,
	}
}

// Submit files a pending enrollment. Employees may submit for any student;
// students only for themselves and parents only for their children.
func (svc *Service) Submit(ctx context.Context, actor user.User, ne NewEnrollment) (Enrollment, error) {
	st, err := svc.students.Get(ctx, ne.StudentID)
	if err != nil {
		if errors.Cause(err) == student.ErrNotFound {
			return Enrollment{}, core.NewValidationError(err, core.FieldError{Field: "student_id", Error: err.Error()})
		}
		return Enrollment{}, errors.Wrap(err, "finding student")
	}
	if !actor.IsEmployee() && !student.CanView(actor, st) {
		return Enrollment{}, core.NewPermissionError(errCannotSubmit)
	}

	exists, err := svc.repo.HasActiveEnrollment(ctx, st.ID, ne.SchoolYear)
	if err != nil {
		return Enrollment{}, errors.Wrap(err, "checking active enrollment")
	}
	if exists {
		return Enrollment{}, core.NewConflictError(ErrAlreadyEnrolled)
	}

	seq, err := svc.repo.NextRefSeq(ctx)
	if err != nil {
		return Enrollment{}, errors.Wrap(err, "getting reference sequence")
	}
	syStart, _ := core.ParseSchoolYear(ne.SchoolYear)
	refCode, err := svc.refCoder.Encode(syStart, *ne.GradeLevel, seq)
	if err != nil {
		return Enrollment{}, err
	}

	now := time.Now().UTC()
	e, err := svc.repo.CreateEnrollment(ctx, Enrollment{
		RefCode:       refCode,
		StudentID:     st.ID,
		SchoolYear:    ne.SchoolYear,
		GradeLevel:    *ne.GradeLevel,
		Status:        StatusPending,
		PaymentStatus: PaymentUnpaid,
		Remarks:       ne.Remarks,
		SubmittedBy:   actor.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return Enrollment{}, errors.Wrap(err, "creating enrollment")
	}
	svc.notify(ctx, e, st)
	return e, nil
}

func transition(e *Enrollment, actor user.User, to string) error {
	if !CanTransition(e.Status, to) {
		return core.NewConflictError(ErrInvalidTransition)
	}
	e.Status = to
	e.ReviewedBy = actor.ID
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (svc *Service) Approve(ctx context.Context, actor user.User, e Enrollment, data Approval) (Enrollment, error) {
	if err := transition(&e, actor, StatusApproved); err != nil {
		return Enrollment{}, err
	}
	e.TuitionFee = *data.TuitionFee
	if data.Remarks != "" {
		e.Remarks = data.Remarks
	}
	e.PaymentStatus = PaymentStatusFor(e.Status, e.TuitionFee, e.AmountPaid)
	return svc.save(ctx, e)
}

func (svc *Service) Reject(ctx context.Context, actor user.User, e Enrollment, data Decision) (Enrollment, error) {
	if err := transition(&e, actor, StatusRejected); err != nil {
		return Enrollment{}, err
	}
	e.Remarks = data.Remarks
	e.SectionID = ""
	return svc.save(ctx, e)
}

func (svc *Service) Withdraw(ctx context.Context, actor user.User, e Enrollment, data Decision) (Enrollment, error) {
	if !actor.IsEmployee() && actor.ID != e.SubmittedBy {
		return Enrollment{}, core.NewPermissionError("")
	}
	if err := transition(&e, actor, StatusWithdrawn); err != nil {
		return Enrollment{}, err
	}
	if data.Remarks != "" {
		e.Remarks = data.Remarks
	}
	e.SectionID = ""
	return svc.save(ctx, e)
}

// AssignSection gives the enrollment a seat in a section, within the section's capacity.
func (svc *Service) AssignSection(ctx context.Context, actor user.User, e Enrollment, sectionID string) (Enrollment, error) {
	if e.Status != StatusApproved && e.Status != StatusEnrolled {
		return Enrollment{}, core.NewConflictError(ErrInvalidTransition)
	}
	if e.SectionID == sectionID {
		return e, nil
	}

	err := core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		sec, err := svc.sections.LockSection(ctx, sectionID, exec)
		if err != nil {
			if errors.Cause(err) == section.ErrNotFound {
				return core.NewValidationError(err, core.FieldError{Field: "section_id", Error: err.Error()})
			}
			return errors.Wrap(err, "locking section")
		}
		if sec.GradeLevel != e.GradeLevel || sec.SchoolYear != e.SchoolYear {
			return core.NewValidationError(ErrSectionMismatch, core.FieldError{Field: "section_id", Error: ErrSectionMismatch.Error()})
		}

		assigned, err := svc.repo.CountActiveInSection(ctx, sec.ID, exec)
		if err != nil {
			return errors.Wrap(err, "counting section seats")
		}
		if assigned >= sec.Capacity {
			return core.NewConflictError(ErrSectionFull)
		}

		e.SectionID = sec.ID
		e.ReviewedBy = actor.ID
		e.UpdatedAt = time.Now().UTC()
		e, err = svc.repo.UpdateEnrollment(ctx, e, exec)
		return errors.Wrap(err, "updating enrollment")
	})
	if err != nil {
		return Enrollment{}, err
	}
	return e, nil
}

// Finalize enrolls an approved enrollment once it holds a section and a first payment (or a waived fee).
func (svc *Service) Finalize(ctx context.Context, actor user.User, e Enrollment) (Enrollment, error) {
	if e.Status != StatusApproved {
		return Enrollment{}, core.NewConflictError(ErrInvalidTransition)
	}
	if e.SectionID == "" {
		return Enrollment{}, core.NewConflictError(ErrNoSection)
	}
	if e.PaymentStatus == PaymentUnpaid {
		return Enrollment{}, core.NewConflictError(ErrPaymentRequired)
	}
	if err := transition(&e, actor, StatusEnrolled); err != nil {
		return Enrollment{}, err
	}
	return svc.save(ctx, e)
}

// ApplyPayment records the settled amount of the enrollment and updates its payment status.
func (svc *Service) ApplyPayment(ctx context.Context, id string, amountPaid int64, exec ...core.DBExecutor) (Enrollment, error) {
	e, err := svc.repo.GetEnrollment(ctx, GetFilter{ID: id}, exec...)
	if err != nil {
		return Enrollment{}, errors.Wrap(err, "finding enrollment")
	}
	e.AmountPaid = amountPaid
	e.PaymentStatus = PaymentStatusFor(e.Status, e.TuitionFee, e.AmountPaid)
	e.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateEnrollment(ctx, e, exec...)
}

func (svc *Service) save(ctx context.Context, e Enrollment) (Enrollment, error) {
	e, err := svc.repo.UpdateEnrollment(ctx, e)
	if err != nil {
		return Enrollment{}, errors.Wrap(err, "updating enrollment")
	}
	if st, err := svc.students.Get(ctx, e.StudentID); err == nil {
		svc.notify(ctx, e, st)
	}
	return e, nil
}

func (svc *Service) Get(ctx context.Context, id string) (Enrollment, error) {
	return svc.repo.GetEnrollment(ctx, GetFilter{ID: id})
}

// StudentOf returns the ID of the student of the enrollment.
func (svc *Service) StudentOf(ctx context.Context, id string) (string, error) {
	e, err := svc.repo.GetEnrollment(ctx, GetFilter{ID: id})
	if err != nil {
		return "", err
	}
	return e.StudentID, nil
}

func (svc *Service) GetByRefCode(ctx context.Context, code string) (Enrollment, error) {
	if _, _, _, err := svc.refCoder.Decode(code); err != nil {
		return Enrollment{}, ErrNotFound
	}
	return svc.repo.GetEnrollment(ctx, GetFilter{RefCode: strings.ToUpper(core.CleanString(code))})
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Enrollment, error) {
	ordering = core.AllowedOrderings(ordering, "ref_code", "school_year", "grade_level", "status", "payment_status", "created_at", "updated_at")
	page.Clean()
	return svc.repo.QueryEnrollments(ctx, filter, ordering, page)
}

// Current returns the active enrollment of a student for the school year, if any.
func (svc *Service) Current(ctx context.Context, studentID, schoolYear string) (Enrollment, bool, error) {
	res, err := svc.repo.QueryEnrollments(
		ctx,
		&QueryFilter{StudentID: studentID, SchoolYear: schoolYear, Statuses: ActiveStatuses},
		[]core.DBOrdering{{Field: "created_at", Ascending: false}},
		core.Page{Limit: 1},
	)
	if err != nil {
		return Enrollment{}, false, err
	}
	if len(res) == 0 {
		return Enrollment{}, false, nil
	}
	return res[0], true, nil
}

// notify emails the submitter about the enrollment status.
func (svc *Service) notify(ctx context.Context, e Enrollment, st student.Student) {
	if svc.mailSvc == nil || e.SubmittedBy == "" {
		return
	}
	users, err := svc.users.GetByIDs(ctx, e.SubmittedBy)
	if err != nil {
		if svc.logger != nil {
			svc.logger.Error(fmt.Sprintf("finding enrollment submitter: %v", err), err)
		}
		return
	}
	if len(users) == 0 || users[0].Email == "" {
		return
	}
	usr := users[0]

	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.DisplayName(), Address: usr.Email}},
		Subject:      fmt.Sprintf("Enrollment %s: %s", e.RefCode, e.Status),
		TemplateName: "enrollment_status",
		TemplateData: StatusMailData{
			Name:        usr.DisplayName(),
			StudentName: st.FullName(),
			SchoolYear:  e.SchoolYear,
			RefCode:     e.RefCode,
			Status:      e.Status,
			Remarks:     e.Remarks,
		},
	})
}

// StatusMailData is rendered by the enrollment_status email template.
type StatusMailData struct {
	Name        string
	StudentName string
	SchoolYear  string
	RefCode     string
	Status      string
	Remarks     string
}
