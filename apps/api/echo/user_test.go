package echoapi

import (
	"context"
	"net/http"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/user"
	emailsvc "github.com/trezcool/campus/services/email"
)

const pwd = "LolC@t123"

func Test_userApi_login(t *testing.T) {
	fx := setup(t)
	fx.createUser(t, "Registrar", "registrar", pwd, []string{user.RoleStaffRegistrar}, true)
	fx.createUser(t, "N Dog", "ndog", pwd, []string{user.RoleStudent}, false)

	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, LoginRequest{Username: "this field is required", Password: "this field is required"}),
		},
		{
			name: "unknown user", wantCode: http.StatusBadRequest,
			body:     marshalObj(t, LoginRequest{Username: "lol", Password: pwd}),
			wantData: marshalObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", wantCode: http.StatusBadRequest,
			body:     marshalObj(t, LoginRequest{Username: "registrar", Password: "lol"}),
			wantData: marshalObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "inactive user", wantCode: http.StatusForbidden,
			body:     marshalObj(t, LoginRequest{Username: "ndog", Password: pwd}),
			wantData: marshalObj(t, httpErr{Error: "account deactivated"}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/v1/users/login"
	}
	runHTTPTests(t, fx.app, tests)

	t.Run("by username or email", func(t *testing.T) {
		for _, uname := range []string{" REGISTRAR ", "registrar@test.ph"} {
			rec := fx.do(http.MethodPost, "/v1/users/login", "", LoginRequest{Username: uname, Password: pwd})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var resp LoginResponse
			decode(t, rec, &resp)
			claims := new(Claims)
			_, err := jwt.ParseWithClaims(resp.Token, claims, func(*jwt.Token) (interface{}, error) {
				return []byte(fx.conf.SecretKey), nil
			})
			require.NoError(t, err)
			assert.Equal(t, "registrar", claims.Username)
			assert.Equal(t, "registrar", claims.Dashboard)
			assert.Equal(t, []string{user.RoleStaffRegistrar}, claims.Roles)
		}
	})
}

func Test_userApi_loginRateLimit(t *testing.T) {
	fx := setup(t, func(conf *core.Config) {
		conf.Server.LoginRate = 1
		conf.Server.LoginBurst = 2
	})

	body := marshalObj(t, LoginRequest{Username: "nobody", Password: pwd})
	for i := 0; i < 2; i++ {
		req, rec := newRequest(http.MethodPost, "/v1/users/login", body)
		fx.app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}

	req, rec := newRequest(http.MethodPost, "/v1/users/login", body)
	fx.app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// other clients are not limited
	req, rec = newRequest(http.MethodPost, "/v1/users/login", body)
	req.RemoteAddr = "198.51.100.7:4321"
	fx.app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_userApi_userQuery(t *testing.T) {
	fx := setup(t)

	path := func(search string, roles ...string) string {
		v := make(url.Values)
		if search != "" {
			v.Add("search", search)
		}
		for _, r := range roles {
			v.Add("role", r)
		}
		return "/v1/users?" + v.Encode()
	}

	now := time.Now()
	admin := fx.createUser(t, "Admin", "admin", "", []string{user.RoleAdmin}, true, now.Add(1*time.Hour))
	principal := fx.createUser(t, "Principal", "principal", "", []string{user.RoleStaffPrincipal}, true, now.Add(2*time.Hour))
	teacher := fx.createUser(t, "Teacher", "teacher", "", []string{user.RoleTeacher}, true, now.Add(3*time.Hour))
	parent := fx.createUser(t, "Parent", "parent", "", []string{user.RoleParent}, true, now.Add(4*time.Hour))
	stud := fx.createUser(t, "Hero", "hero", "", []string{user.RoleStudent}, true, now.Add(5*time.Hour))

	adminToken := fx.token(t, admin)
	tests := []httpTest{
		{name: "auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{
			name: "admin required", path: "/v1/users", token: fx.token(t, principal), wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "get all", path: "/v1/users", token: adminToken, wantData: marshalList(t, stud, parent, teacher, principal, admin)},
		{name: "search (unknown)", path: path("lol"), token: adminToken, wantData: marshalList(t)},
		{name: "search", path: path("HER"), token: adminToken, wantData: marshalList(t, stud, teacher)},
		{name: "role=staff:", path: path("", user.RoleStaff), token: adminToken, wantData: marshalList(t, principal)},
		{name: "role=parent:,student:", path: path("", user.RoleParent, user.RoleStudent), token: adminToken, wantData: marshalList(t, stud, parent)},
		{name: "ordering", path: "/v1/users?ordering=created_at", token: adminToken, wantData: marshalList(t, admin, principal, teacher, parent, stud)},
	}
	runHTTPTests(t, fx.app, tests)
}

func Test_userApi_userRetrieveUpdate(t *testing.T) {
	fx := setup(t)
	admin := fx.createUser(t, "Admin", "admin", "", []string{user.RoleAdmin}, true)
	teacher := fx.createUser(t, "Teacher", "teacher", "", []string{user.RoleTeacher}, true)
	other := fx.createUser(t, "Other", "other", "", []string{user.RoleTeacher}, true)

	tests := []httpTest{
		{name: "self", path: "/v1/users/" + teacher.ID, token: fx.token(t, teacher), wantData: marshalObj(t, teacher)},
		{
			name: "someone else", path: "/v1/users/" + other.ID, token: fx.token(t, teacher), wantCode: http.StatusNotFound,
			wantData: marshalObj(t, httpErr{Error: "not found"}),
		},
		{name: "admin", path: "/v1/users/" + other.ID, token: fx.token(t, admin), wantData: marshalObj(t, other)},
		{
			name: "roles changed by non admin", method: http.MethodPut, path: "/v1/users/" + teacher.ID, token: fx.token(t, teacher),
			body: []byte(`{"roles":["admin:"]}`), wantCode: http.StatusForbidden,
		},
	}
	runHTTPTests(t, fx.app, tests)

	t.Run("update own name", func(t *testing.T) {
		rec := fx.do(http.MethodPut, "/v1/users/"+teacher.ID, fx.token(t, teacher), map[string]string{"name": "Ms. Teacher"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var usr user.User
		decode(t, rec, &usr)
		assert.Equal(t, "Ms. Teacher", usr.Name)
	})
}

func Test_userApi_userDelete(t *testing.T) {
	fx := setup(t)
	owner := fx.createUser(t, "Owner", "owner", "", []string{user.RoleAdminOwner}, true)
	admin := fx.createUser(t, "Admin", "admin", "", []string{user.RoleAdmin}, true)
	teacher := fx.createUser(t, "Teacher", "teacher", "", []string{user.RoleTeacher}, true)
	adminToken := fx.token(t, admin)

	tests := []httpTest{
		{name: "not admin", method: http.MethodDelete, path: "/v1/users/" + teacher.ID, token: fx.token(t, teacher), wantCode: http.StatusForbidden},
		{name: "self", method: http.MethodDelete, path: "/v1/users/" + admin.ID, token: adminToken, wantCode: http.StatusForbidden},
		{name: "higher role", method: http.MethodDelete, path: "/v1/users/" + owner.ID, token: adminToken, wantCode: http.StatusForbidden},
		{name: "bulk with higher role", method: http.MethodDelete, path: "/v1/users?id=" + owner.ID + "&id=" + teacher.ID, token: adminToken, wantCode: http.StatusForbidden},
		{name: "deleted", method: http.MethodDelete, path: "/v1/users/" + teacher.ID, token: adminToken, wantCode: http.StatusNoContent},
	}
	runHTTPTests(t, fx.app, tests)

	_, err := fx.usrRepo.GetUser(context.Background(), user.GetFilter{ID: teacher.ID})
	assert.Equal(t, user.ErrNotFound, err)
}

func Test_userApi_userRefreshToken(t *testing.T) {
	fx := setup(t)
	naughty := fx.createUser(t, "N Dog", "ndog", "", []string{user.RoleStudent}, false)
	stud := fx.createUser(t, "Hero", "hero", "", []string{user.RoleStudent}, true)

	origIat := time.Now().Add(-2 * fx.conf.Server.JWTRefreshExpirationDelta).Unix() // older than threshold
	unrefreshableToken, err := GenerateToken(fx.conf, GetUserClaims(fx.conf, stud, origIat))
	require.NoError(t, err)

	tests := []httpTest{
		{name: "auth required", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{name: "inactive user not allowed", token: fx.token(t, naughty), wantCode: http.StatusForbidden, wantData: marshalObj(t, httpErr{Error: "account deactivated"})},
		{name: "refresh period expired", token: unrefreshableToken, wantCode: http.StatusForbidden, wantData: marshalObj(t, httpErr{Error: "refresh has expired"})},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/v1/users/token-refresh"
	}
	runHTTPTests(t, fx.app, tests)

	t.Run("token refreshed", func(t *testing.T) {
		rec := fx.do(http.MethodPost, "/v1/users/token-refresh", fx.token(t, stud), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		// cannot guess the new token.. just check that it's not empty
		var resp LoginResponse
		decode(t, rec, &resp)
		assert.NotEmpty(t, resp.Token)
	})
}

func Test_userApi_userResetPassword(t *testing.T) {
	fx := setup(t)
	stud := fx.createUser(t, "Hero", "hero", "", []string{user.RoleStudent}, true)
	successData := marshalObj(t, SuccessResponse{Success: "If the email address supplied is associated with an active account on this system, " +
		"an email will arrive in your inbox shortly with instructions to reset your password."})
	pathRegex := regexp.MustCompile("/password-reset/.+/.+")

	tests := []struct {
		httpTest
		emailSent bool
	}{
		{httpTest: httpTest{name: "required fields", wantCode: http.StatusBadRequest, wantData: marshalObj(t, PasswordResetRequest{Email: "this field is required"})}},
		{httpTest: httpTest{
			name: "invalid email", wantCode: http.StatusBadRequest, body: marshalObj(t, PasswordResetRequest{Email: "lol"}),
			wantData: marshalObj(t, PasswordResetRequest{Email: "email must be a valid email address"}),
		}},
		{httpTest: httpTest{
			name: "unknown email", wantCode: http.StatusOK, body: marshalObj(t, PasswordResetRequest{Email: "lol@test.com"}),
			wantData: successData,
		}},
		{
			httpTest: httpTest{
				name: "known email", wantCode: http.StatusOK, body: marshalObj(t, PasswordResetRequest{Email: stud.Email}),
				wantData: successData,
			},
			emailSent: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emailsvc.ResetSentMessages()

			req, rec := newRequest(http.MethodPost, "/v1/users/password-reset", tt.body)
			fx.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt.httpTest, rec)

			sent := emailsvc.LastSentMessages()
			if !tt.emailSent {
				assert.Empty(t, sent)
				return
			}
			require.Len(t, sent, 1)
			assert.Equal(t, mail.Address{Name: stud.Name, Address: stud.Email}, sent[0].To[0])
			assert.True(t, strings.Contains(sent[0].TextContent, stud.Name))
			assert.Regexp(t, pathRegex, sent[0].TextContent)
			assert.Regexp(t, pathRegex, sent[0].HTMLContent)
		})
	}
}

func Test_userApi_userConfirmPasswordReset(t *testing.T) {
	fx := setup(t)
	stud := fx.createUser(t, "Hero", "hero", "lol", []string{user.RoleStudent}, true)
	validUID := user.EncodeUID(stud)
	validToken := user.NewTokenGenerator(user.PurposePasswordReset, fx.conf.SecretKey, fx.conf.PasswordResetTimeoutDelta).Make(stud)

	reqMsg := "this field is required"
	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, user.ResetUserPassword{Token: reqMsg, UID: reqMsg, Password: "password must contain at least 8 characters", PasswordConfirm: reqMsg}),
		},
		{
			name: "invalid pwd: too common", wantCode: http.StatusBadRequest,
			body:     marshalObj(t, user.ResetUserPassword{Token: "lol", UID: "lol", Password: "P@$$w0rd", PasswordConfirm: "P@$$w0rd"}),
			wantData: marshalObj(t, user.ResetUserPassword{Password: "password is too common"}),
		},
		{
			name: "invalid token", wantCode: http.StatusBadRequest,
			body:     marshalObj(t, user.ResetUserPassword{Token: "HE4TS-sigsig-sig", UID: validUID, Password: pwd, PasswordConfirm: pwd}),
			wantData: marshalObj(t, user.ResetUserPassword{Token: "invalid value"}),
		},
		{
			name: "valid token", wantCode: http.StatusOK,
			body:     marshalObj(t, user.ResetUserPassword{Token: validToken, UID: validUID, Password: pwd, PasswordConfirm: pwd}),
			wantData: marshalObj(t, SuccessResponse{Success: "Password has been reset with the new password."}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/v1/users/password-reset-confirm"
	}
	runHTTPTests(t, fx.app, tests)

	refreshed, err := fx.usrRepo.GetUser(context.Background(), user.GetFilter{ID: stud.ID})
	require.NoError(t, err)
	assert.NoError(t, refreshed.CheckPassword(pwd))
}
