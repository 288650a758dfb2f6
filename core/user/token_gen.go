package user

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// PurposePasswordReset scopes the tokens mailed by Service.RequestPasswordReset.
const PurposePasswordReset = "password_reset"

var (
	tokenEpoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	tokenB32   = base32.StdEncoding.WithPadding(base32.NoPadding)

	// errors
	errInvalidToken = errors.New("invalid token")
	errTokenExpired = errors.New("token expired")
)

// EncodeUID base64 encodes given User ID
func EncodeUID(usr User) string {
	return base64.RawURLEncoding.EncodeToString([]byte(usr.ID))
}

// decodeUID base64 decodes given UID
func decodeUID(uid string) (string, error) {
	idBytes, err := base64.RawURLEncoding.DecodeString(uid)
	if err != nil {
		return "", err
	}
	return string(idBytes), nil
}

// TokenGenerator makes and checks signed one-time links for a user account.
//
// A token is "<hours since 2020 in base32>-<signature>". The signature covers the
// purpose, the account's ID, e-mail, active flag, password hash and last login, so a
// token dies once the password is changed, the user logs in, the e-mail is changed
// (a guardian handing the account over) or the account is deactivated.
type TokenGenerator struct {
	purpose string
	key     []byte
	timeout time.Duration
	now     func() time.Time
}

func NewTokenGenerator(purpose, secretKey string, timeout time.Duration) TokenGenerator {
	key := sha256.Sum256([]byte("campus.user." + purpose + "." + secretKey))
	return TokenGenerator{purpose: purpose, key: key[:], timeout: timeout, now: time.Now}
}

// Make generates a token for usr.
func (g TokenGenerator) Make(usr User) string {
	return g.makeWithTimestamp(usr, hoursSinceEpoch(g.now()))
}

// Check verifies that token was made for usr with this purpose and has not expired.
func (g TokenGenerator) Check(usr User, token string) error {
	tsB32, _, ok := strings.Cut(token, "-")
	if !ok {
		return errInvalidToken
	}
	data, err := tokenB32.DecodeString(tsB32)
	if err != nil {
		return errInvalidToken
	}
	ts, err := strconv.Atoi(string(data))
	if err != nil {
		return errInvalidToken
	}

	// check that token has not been tampered with
	if subtle.ConstantTimeCompare([]byte(g.makeWithTimestamp(usr, ts)), []byte(token)) == 0 {
		return errInvalidToken
	}

	// check that the timestamp is within limit
	if hoursSinceEpoch(g.now())-ts > int(g.timeout/time.Hour) {
		return errTokenExpired
	}
	return nil
}

func (g TokenGenerator) makeWithTimestamp(usr User, ts int) string {
	h := hmac.New(sha256.New, g.key)
	h.Write(g.hashValue(usr, ts))
	return tokenB32.EncodeToString([]byte(strconv.Itoa(ts))) + "-" + base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func (g TokenGenerator) hashValue(usr User, ts int) []byte {
	var val bytes.Buffer
	val.WriteString(g.purpose)
	val.WriteString(usr.ID)
	val.WriteString(strings.ToLower(usr.Email))
	val.WriteString(strconv.FormatBool(usr.IsActive))
	val.Write(usr.PasswordHash)
	if !usr.LastLogin.IsZero() {
		val.WriteString(usr.LastLogin.UTC().Format(time.RFC3339Nano))
	}
	val.WriteString(strconv.Itoa(ts))
	return val.Bytes()
}

func hoursSinceEpoch(t time.Time) int {
	return int(t.Sub(tokenEpoch) / time.Hour)
}
