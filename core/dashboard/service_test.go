package dashboard_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/dashboard"
	"github.com/trezcool/campus/core/document"
	"github.com/trezcool/campus/core/enrollment"
	"github.com/trezcool/campus/core/guidance"
	"github.com/trezcool/campus/core/payment"
	"github.com/trezcool/campus/core/section"
	"github.com/trezcool/campus/core/student"
	"github.com/trezcool/campus/core/user"
	inmemdb "github.com/trezcool/campus/storage/database/inmem"
)

const schoolYear = "2025-2026"

func roles(rs ...string) user.User { return user.User{ID: "u", Roles: rs} }

func TestKindFor(t *testing.T) {
	tests := []struct {
		usr  user.User
		want string
	}{
		{roles(user.RoleAdminOwner), dashboard.KindAdmin},
		{roles(user.RoleTeacher, user.RoleAdmin), dashboard.KindAdmin},
		{roles(user.RoleTeacher, user.RoleStaffGuidance), dashboard.KindGuidance},
		{roles(user.RoleStaffRegistrar, user.RoleStaffPrincipal), dashboard.KindPrincipal},
		{roles(user.RoleStaffAccounting), dashboard.KindAccounting},
		{roles(user.RoleTeacher, user.RoleParent), dashboard.KindTeacher},
		{roles(user.RoleParent), dashboard.KindParent},
		{roles(user.RoleStudent), dashboard.KindStudent},
		{roles(), ""},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, dashboard.KindFor(tt.usr))
		})
	}
}

func TestCanView(t *testing.T) {
	tests := []struct {
		name string
		usr  user.User
		kind string
		want bool
	}{
		{"admin sees staff dashboards", roles(user.RoleAdmin), dashboard.KindAccounting, true},
		{"admin is not a teacher", roles(user.RoleAdmin), dashboard.KindTeacher, false},
		{"principal oversees registrar", roles(user.RoleStaffPrincipal), dashboard.KindRegistrar, true},
		{"principal oversees guidance", roles(user.RoleStaffPrincipal), dashboard.KindGuidance, true},
		{"coordinator", roles(user.RoleStaffCoordinator), dashboard.KindCoordinator, true},
		{"coordinator is not principal", roles(user.RoleStaffCoordinator), dashboard.KindPrincipal, false},
		{"registrar is not accounting", roles(user.RoleStaffRegistrar), dashboard.KindAccounting, false},
		{"teacher parent", roles(user.RoleTeacher, user.RoleParent), dashboard.KindParent, true},
		{"parent is not admin", roles(user.RoleParent), dashboard.KindAdmin, false},
		{"unknown kind", roles(user.RoleAdmin), "janitor", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dashboard.CanView(tt.usr, tt.kind))
		})
	}
}

type env struct {
	svc         *dashboard.Service
	users       map[string]user.User
	students    *student.Service
	enrollments *enrollment.Service
	payments    *payment.Service
	guidance    *guidance.Service
}

func setup(t *testing.T) *env {
	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	usrSvc := user.NewServiceMock(usrRepo, nil, core.NewTestConfig())
	refCoder, err := enrollment.NewRefCoder("test-secret")
	require.NoError(t, err)

	e := &env{users: make(map[string]user.User)}
	secRepo := inmemdb.NewSectionRepository(db)
	sections := section.NewService(secRepo, usrSvc)
	e.students = student.NewService(nil, inmemdb.NewStudentRepository(db), usrSvc)
	e.enrollments = enrollment.NewService(nil, inmemdb.NewEnrollmentRepository(db), e.students, secRepo, usrSvc, refCoder, nil, nil)
	e.payments = payment.NewService(nil, inmemdb.NewPaymentRepository(db), e.enrollments, usrSvc, nil, nil, nil)
	e.guidance = guidance.NewService(inmemdb.NewGuidanceRepository(db), e.students, usrSvc)
	documents := document.NewService(inmemdb.NewDocumentRepository(db), nil, nil, e.students, e.enrollments, core.StorageConfig{}, nil)
	e.svc = dashboard.NewService(
		inmemdb.NewStatsRepository(db), e.enrollments, e.payments, e.guidance, sections, e.students, documents,
	)

	for uname, role := range map[string]string{
		"admin":      user.RoleAdmin,
		"accounting": user.RoleStaffAccounting,
		"counselor":  user.RoleStaffGuidance,
		"teacher":    user.RoleTeacher,
		"parent":     user.RoleParent,
	} {
		usr, err := usrRepo.CreateUser(context.Background(), user.User{
			Name: uname, Username: uname, Email: uname + "@test.ph", Roles: []string{role}, IsActive: true,
		})
		require.NoError(t, err)
		e.users[uname] = usr
	}
	return e
}

func TestService_Get(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	accounting, counselor := e.users["accounting"], e.users["counselor"]

	grade := 7
	st, err := e.students.Create(ctx, student.NewStudent{
		LRN: "100000000001", FirstName: "Ana", LastName: "Santos", Sex: "female", GradeLevel: &grade,
		GuardianIDs: []string{e.users["parent"].ID},
	})
	require.NoError(t, err)
	en, err := e.enrollments.Submit(ctx, e.users["parent"], enrollment.NewEnrollment{StudentID: st.ID, SchoolYear: schoolYear, GradeLevel: &grade})
	require.NoError(t, err)
	fee := int64(500000)
	en, err = e.enrollments.Approve(ctx, accounting, en, enrollment.Approval{TuitionFee: &fee})
	require.NoError(t, err)
	p, err := e.payments.Record(ctx, accounting, payment.NewPayment{EnrollmentID: en.ID, Amount: 200000, Method: payment.MethodCash})
	require.NoError(t, err)

	_, err = e.guidance.Create(ctx, counselor, guidance.NewRecord{
		StudentID: st.ID, Kind: guidance.KindCounseling, Category: "Family", Description: "Requested a session",
		Severity: guidance.SeverityMedium,
	})
	require.NoError(t, err)

	t.Run("accounting", func(t *testing.T) {
		dash, err := e.svc.For(ctx, accounting, schoolYear)
		require.NoError(t, err)
		assert.Equal(t, dashboard.KindAccounting, dash.Kind)
		data, ok := dash.Data.(dashboard.AccountingData)
		require.True(t, ok)
		assert.Equal(t, int64(200000), data.Collected)
		assert.Equal(t, int64(300000), data.Outstanding)
		assert.Equal(t, 1, data.ByPaymentStatus[enrollment.PaymentPartial])
		require.Len(t, data.LatestPayments, 1)
		assert.Equal(t, p.ID, data.LatestPayments[0].ID)
	})

	t.Run("guidance", func(t *testing.T) {
		dash, err := e.svc.For(ctx, counselor, schoolYear)
		require.NoError(t, err)
		data, ok := dash.Data.(dashboard.GuidanceData)
		require.True(t, ok)
		assert.Equal(t, 1, data.Stats.Open)
		assert.Equal(t, 1, data.Stats.OpenBySeverity[guidance.SeverityMedium])
		require.Len(t, data.MyOpenCases, 1)
		assert.Equal(t, st.ID, data.MyOpenCases[0].StudentID)
	})

	t.Run("admin", func(t *testing.T) {
		dash, err := e.svc.For(ctx, e.users["admin"], schoolYear)
		require.NoError(t, err)
		data, ok := dash.Data.(dashboard.AdminData)
		require.True(t, ok)
		assert.Equal(t, 1, data.UsersByRole[user.RoleParent])
		assert.Equal(t, 1, data.Enrollments.ByStatus[enrollment.StatusApproved])
		assert.Equal(t, 1, data.Guidance.Open)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := e.svc.Get(ctx, accounting, "janitor", schoolYear)
		assert.Equal(t, dashboard.ErrUnknownKind, err)

		_, err = e.svc.Get(ctx, e.users["teacher"], dashboard.KindAccounting, schoolYear)
		assert.True(t, core.IsPermissionError(err))

		_, err = e.svc.For(ctx, user.User{ID: "nobody"}, schoolYear)
		assert.True(t, core.IsPermissionError(err))

		_, err = e.svc.Get(ctx, user.User{ID: "orphan", Roles: []string{user.RoleStudent}}, dashboard.KindStudent, schoolYear)
		cErr, ok := errors.Cause(err).(*core.ConflictError)
		require.True(t, ok)
		assert.Equal(t, dashboard.ErrNoStudent, cErr.Err)
	})
}
