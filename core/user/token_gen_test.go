package user

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenGenerator(t *testing.T) {
	timeout := 72 * time.Hour
	gen := NewTokenGenerator(PurposePasswordReset, "secret", timeout)

	now := time.Now()
	usr := User{
		ID:        uuid.New().String(),
		Name:      "T",
		Username:  "t",
		Email:     "t@test.test",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
		LastLogin: now,
	}
	require.NoError(t, usr.SetPassword("pwd"))

	validToken := gen.Make(usr)

	// generate an expired token
	late := gen
	late.now = func() time.Time { return time.Now().Add(-timeout - time.Hour) }
	expiredToken := late.Make(usr)

	// tokens die with the state they were signed over
	changedPwd := usr
	require.NoError(t, changedPwd.SetPassword("new-pwd"))
	changedEmail := usr
	changedEmail.Email = "new@test.test"
	deactivated := usr
	deactivated.IsActive = false
	loggedIn := usr
	loggedIn.LastLogin = now.Add(time.Minute)
	upperEmail := usr
	upperEmail.Email = "T@TEST.TEST"

	tests := []struct {
		name    string
		gen     TokenGenerator
		usr     User
		token   string
		wantErr error
	}{
		{name: "no token", usr: usr, wantErr: errInvalidToken},
		{name: "invalid parts len", usr: usr, token: "lmaooolol", wantErr: errInvalidToken},
		{name: "invalid base32", usr: usr, token: "hahaha-sigsig-sig", wantErr: errInvalidToken},
		{name: "invalid timestamp", usr: usr, token: "NRXWY-sigsig-sig", wantErr: errInvalidToken},
		{name: "invalid token", usr: usr, token: "HE4TS-sigsig-sig", wantErr: errInvalidToken},
		{name: "expired token", usr: usr, token: expiredToken, wantErr: errTokenExpired},
		{name: "wrong secret", gen: NewTokenGenerator(PurposePasswordReset, "other", timeout), usr: usr, token: validToken, wantErr: errInvalidToken},
		{name: "other purpose", gen: NewTokenGenerator("account_setup", "secret", timeout), usr: usr, token: validToken, wantErr: errInvalidToken},
		{name: "password changed", usr: changedPwd, token: validToken, wantErr: errInvalidToken},
		{name: "email changed", usr: changedEmail, token: validToken, wantErr: errInvalidToken},
		{name: "account deactivated", usr: deactivated, token: validToken, wantErr: errInvalidToken},
		{name: "logged in since", usr: loggedIn, token: validToken, wantErr: errInvalidToken},
		{name: "email case ignored", usr: upperEmail, token: validToken},
		{name: "valid token", usr: usr, token: validToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := gen
			if tt.gen.key != nil {
				g = tt.gen
			}
			assert.Equal(t, tt.wantErr, g.Check(tt.usr, tt.token))
		})
	}

	t.Run("hour granularity", func(t *testing.T) {
		short := NewTokenGenerator(PurposePasswordReset, "secret", 2*time.Hour)
		short.now = func() time.Time { return now.Add(-3 * time.Hour) }
		token := short.Make(usr)
		short.now = func() time.Time { return now }
		assert.Equal(t, errTokenExpired, short.Check(usr, token))

		short.now = func() time.Time { return now.Add(-time.Hour) }
		token = short.Make(usr)
		short.now = func() time.Time { return now }
		assert.NoError(t, short.Check(usr, token))
	})
}

func TestEncodeDecodeUID(t *testing.T) {
	usr := User{ID: uuid.New().String()}
	id, err := decodeUID(EncodeUID(usr))
	require.NoError(t, err)
	assert.Equal(t, usr.ID, id)

	_, err = decodeUID("%%%")
	assert.Error(t, err)
}

func TestUser_PrimaryRole(t *testing.T) {
	tests := []struct {
		roles []string
		want  string
	}{
		{roles: nil, want: ""},
		{roles: []string{RoleStudent}, want: RoleStudent},
		{roles: []string{RoleTeacher, RoleStaffGuidance}, want: RoleStaffGuidance},
		{roles: []string{RoleParent, RoleTeacher, RoleAdmin}, want: RoleAdmin},
		{roles: []string{RoleAdminOwner, RoleAdmin}, want: RoleAdminOwner},
	}
	for _, tt := range tests {
		usr := User{Roles: tt.roles}
		assert.Equal(t, tt.want, usr.PrimaryRole(), "roles %v", tt.roles)
	}
}

func TestMaxRolePriority(t *testing.T) {
	assert.Equal(t, 0, MaxRolePriority(nil))
	assert.Equal(t, 0, MaxRolePriority([]string{"lol"}))
	assert.Equal(t, RolePriority(RoleStaffPrincipal), MaxRolePriority([]string{RoleTeacher, RoleStaffPrincipal}))
	assert.Greater(t, MaxRolePriority([]string{RoleAdmin}), MaxRolePriority(StaffRoles))
}
