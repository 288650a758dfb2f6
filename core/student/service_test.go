package student_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/student"
	"github.com/trezcool/campus/core/user"
	inmemdb "github.com/trezcool/campus/storage/database/inmem"
)

func setup(t *testing.T) (*student.Service, map[string]user.User) {
	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	svc := student.NewService(nil, inmemdb.NewStudentRepository(db), user.NewServiceMock(usrRepo, nil, core.NewTestConfig()))

	users := make(map[string]user.User)
	for uname, role := range map[string]string{
		"parent":  user.RoleParent,
		"parent2": user.RoleParent,
		"student": user.RoleStudent,
		"teacher": user.RoleTeacher,
	} {
		usr, err := usrRepo.CreateUser(context.Background(), user.User{
			Name: uname, Username: uname, Email: uname + "@test.ph", Roles: []string{role}, IsActive: true,
		})
		require.NoError(t, err)
		users[uname] = usr
	}
	return svc, users
}

func newStudent(lrn string, guardianIDs ...string) student.NewStudent {
	grade := 7
	return student.NewStudent{
		LRN:         lrn,
		FirstName:   "Ana",
		LastName:    "Santos",
		Sex:         "female",
		GradeLevel:  &grade,
		GuardianIDs: guardianIDs,
	}
}

func fieldError(t *testing.T, err error) core.FieldError {
	var vErr *core.ValidationError
	require.True(t, errors.As(err, &vErr), "want a validation error, got %v", err)
	require.Len(t, vErr.Fields, 1)
	return vErr.Fields[0]
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	svc, users := setup(t)

	st, err := svc.Create(ctx, newStudent("100000000001", users["parent"].ID, users["parent"].ID))
	require.NoError(t, err)
	assert.NotEmpty(t, st.ID)
	assert.Equal(t, []string{users["parent"].ID}, st.GuardianIDs)

	tests := []struct {
		name      string
		ns        student.NewStudent
		wantField string
	}{
		{name: "duplicate LRN", ns: newStudent("100000000001"), wantField: "lrn"},
		{name: "guardian is not a parent", ns: newStudent("100000000002", users["teacher"].ID), wantField: "guardian_ids"},
		{name: "unknown guardian", ns: newStudent("100000000002", "00000000-0000-0000-0000-000000000000"), wantField: "guardian_ids"},
		{
			name: "account is not a student",
			ns: func() student.NewStudent {
				ns := newStudent("100000000002")
				ns.UserID = users["parent"].ID
				return ns
			}(),
			wantField: "user_id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.ns)
			assert.Equal(t, tt.wantField, fieldError(t, err).Field)
		})
	}

	t.Run("account linked once", func(t *testing.T) {
		ns := newStudent("100000000003")
		ns.UserID = users["student"].ID
		_, err := svc.Create(ctx, ns)
		require.NoError(t, err)

		ns = newStudent("100000000004")
		ns.UserID = users["student"].ID
		_, err = svc.Create(ctx, ns)
		assert.Equal(t, "user_id", fieldError(t, err).Field)
	})
}

func TestService_guardians(t *testing.T) {
	ctx := context.Background()
	svc, users := setup(t)
	parent, parent2 := users["parent"], users["parent2"]

	st, err := svc.Create(ctx, newStudent("100000000001", parent.ID))
	require.NoError(t, err)

	_, err = svc.LinkGuardian(ctx, st, users["teacher"].ID)
	assert.Equal(t, "guardian_ids", fieldError(t, err).Field)

	st, err = svc.LinkGuardian(ctx, st, parent2.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{parent.ID, parent2.ID}, st.GuardianIDs)

	children, err := svc.ChildrenOf(ctx, parent2.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, st.ID, children[0].ID)

	st, err = svc.UnlinkGuardian(ctx, st, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{parent2.ID}, st.GuardianIDs)

	children, err = svc.ChildrenOf(ctx, parent.ID)
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()
	svc, users := setup(t)

	st, err := svc.Create(ctx, newStudent("100000000001"))
	require.NoError(t, err)

	grade := 8
	uid := users["student"].ID
	st, err = svc.Update(ctx, st, student.UpdateStudent{GradeLevel: &grade, UserID: &uid})
	require.NoError(t, err)
	assert.Equal(t, 8, st.GradeLevel)

	got, err := svc.GetByUserID(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, st.ID, got.ID)

	require.NoError(t, svc.Delete(ctx, st.ID))
	_, err = svc.Get(ctx, st.ID)
	assert.Equal(t, student.ErrNotFound, errors.Cause(err))
}

func TestCanView(t *testing.T) {
	_, users := setup(t)
	st := student.Student{ID: "st-1", UserID: users["student"].ID, GuardianIDs: []string{users["parent"].ID}}

	tests := []struct {
		name     string
		usr      user.User
		advisees []string
		want     bool
	}{
		{name: "adviser", usr: users["teacher"], advisees: []string{"st-0", st.ID}, want: true},
		{name: "teacher of other sections", usr: users["teacher"], advisees: []string{"st-0"}, want: false},
		{name: "teacher without advisory", usr: users["teacher"], want: false},
		{name: "self", usr: users["student"], want: true},
		{name: "guardian", usr: users["parent"], want: true},
		{name: "other parent", usr: users["parent2"], want: false},
		{name: "other parent with advisees", usr: users["parent2"], advisees: []string{st.ID}, want: false},
		{name: "staff", usr: user.User{ID: "x", Roles: []string{user.RoleStaffRegistrar}}, want: true},
		{name: "admin", usr: user.User{ID: "x", Roles: []string{user.RoleAdmin}}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, student.CanView(tt.usr, st, tt.advisees...))
		})
	}
}
