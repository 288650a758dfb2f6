package guidance

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/student"
	"github.com/trezcool/campus/core/user"
)

var (
	// errors
	ErrNotFound          = errors.New("record not found")
	ErrInvalidTransition = errors.New("record status does not allow this change")
	ErrClosed            = errors.New("record is closed")

	errNotCounselor = "counselor must have the guidance role"
)

type (
	Repository interface {
		CreateRecord(ctx context.Context, rec Record, exec ...core.DBExecutor) (Record, error)
		UpdateRecord(ctx context.Context, rec Record, exec ...core.DBExecutor) (Record, error)
		GetRecord(ctx context.Context, id string, exec ...core.DBExecutor) (Record, error)
		QueryRecords(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page, exec ...core.DBExecutor) ([]Record, error)
		CreateNote(ctx context.Context, note Note, exec ...core.DBExecutor) (Note, error)
		// Notes returns the notes of a record, oldest first.
		Notes(ctx context.Context, recordID string, exec ...core.DBExecutor) ([]Note, error)
	}

	StudentGetter interface {
		Get(ctx context.Context, id string) (student.Student, error)
	}

	UserGetter interface {
		GetByIDs(ctx context.Context, ids ...string) ([]user.User, error)
	}

	Service struct {
		repo     Repository
		students StudentGetter
		users    UserGetter
	}
)

func NewService(repo Repository, students StudentGetter, users UserGetter) *Service {
	return &Service{repo: repo, students: students, users: users}
}

// Create reports a new record. Counseling records reported by guidance staff are assigned to them.
func (svc *Service) Create(ctx context.Context, actor user.User, nr NewRecord) (Record, error) {
	if _, err := svc.students.Get(ctx, nr.StudentID); err != nil {
		if errors.Cause(err) == student.ErrNotFound {
			return Record{}, core.NewValidationError(err, core.FieldError{Field: "student_id", Error: err.Error()})
		}
		return Record{}, errors.Wrap(err, "finding student")
	}

	now := time.Now().UTC()
	rec := Record{
		StudentID:    nr.StudentID,
		Kind:         nr.Kind,
		Category:     nr.Category,
		Description:  nr.Description,
		Severity:     nr.Severity,
		Status:       StatusOpen,
		ReportedBy:   actor.ID,
		IncidentDate: nr.IncidentDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if rec.IncidentDate == "" {
		rec.IncidentDate = student.FormatDate(now)
	}
	if rec.Kind == KindCounseling && actor.HasRole(user.RoleStaffGuidance) {
		rec.AssignedTo = actor.ID
	}
	return svc.repo.CreateRecord(ctx, rec)
}

func (svc *Service) Update(ctx context.Context, rec Record, ur UpdateRecord) (Record, error) {
	if rec.Status == StatusClosed {
		return Record{}, core.NewConflictError(ErrClosed)
	}
	ur.Apply(&rec)
	rec.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateRecord(ctx, rec)
}

func (svc *Service) Assign(ctx context.Context, rec Record, counselorID string) (Record, error) {
	if rec.Status == StatusClosed {
		return Record{}, core.NewConflictError(ErrClosed)
	}
	users, err := svc.users.GetByIDs(ctx, counselorID)
	if err != nil {
		return Record{}, errors.Wrap(err, "finding counselor")
	}
	if len(users) != 1 || !users[0].HasRole(user.RoleStaffGuidance) || !users[0].IsActive {
		return Record{}, core.NewValidationError(nil, core.FieldError{Field: "counselor_id", Error: errNotCounselor})
	}
	rec.AssignedTo = counselorID
	rec.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateRecord(ctx, rec)
}

func (svc *Service) Transition(ctx context.Context, rec Record, sc StatusChange) (Record, error) {
	if !CanTransition(rec.Status, sc.Status) {
		return Record{}, core.NewConflictError(ErrInvalidTransition)
	}
	rec.Status = sc.Status
	if sc.ActionTaken != "" {
		rec.ActionTaken = sc.ActionTaken
	}
	rec.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateRecord(ctx, rec)
}

func (svc *Service) AddNote(ctx context.Context, actor user.User, rec Record, nn NewNote) (Note, error) {
	if rec.Status == StatusClosed {
		return Note{}, core.NewConflictError(ErrClosed)
	}
	return svc.repo.CreateNote(ctx, Note{
		RecordID:  rec.ID,
		AuthorID:  actor.ID,
		Body:      nn.Body,
		CreatedAt: time.Now().UTC(),
	})
}

func (svc *Service) Notes(ctx context.Context, rec Record) ([]Note, error) {
	return svc.repo.Notes(ctx, rec.ID)
}

func (svc *Service) Get(ctx context.Context, id string) (Record, error) {
	return svc.repo.GetRecord(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Record, error) {
	ordering = core.AllowedOrderings(ordering, "incident_date", "severity", "status", "created_at", "updated_at")
	page.Clean()
	return svc.repo.QueryRecords(ctx, filter, ordering, page)
}

// HasFullAccess reports whether usr may see every record: admins, guidance counselors and school leaders.
func HasFullAccess(usr user.User) bool {
	return usr.IsAdmin() || usr.HasRole(user.RoleStaffGuidance, user.RoleStaffPrincipal, user.RoleStaffCoordinator)
}

// CanView reports whether usr may see rec about student st.
// Counseling records are confidential; students and guardians only see behavior records.
func CanView(usr user.User, rec Record, st student.Student, advisees ...string) bool {
	switch {
	case HasFullAccess(usr):
		return true
	case rec.ReportedBy == usr.ID || rec.AssignedTo == usr.ID:
		return true
	case rec.Kind == KindCounseling:
		return false
	case usr.IsStaff() && !usr.IsTeacher():
		return false
	default:
		return student.CanView(usr, st, advisees...)
	}
}

// CanManage reports whether usr may update a record, change its status or add notes.
func CanManage(usr user.User, rec Record) bool {
	return HasFullAccess(usr) || (rec.AssignedTo != "" && rec.AssignedTo == usr.ID)
}
