package user

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/campus/core"
)

// Roles
const (
	// Admin
	RoleAdmin      = "admin:"
	RoleAdminOwner = "admin:owner"

	// Staff
	RoleStaff            = "staff:"
	RoleStaffPrincipal   = "staff:principal"
	RoleStaffCoordinator = "staff:coordinator"
	RoleStaffRegistrar   = "staff:registrar"
	RoleStaffAccounting  = "staff:accounting"
	RoleStaffGuidance    = "staff:guidance"

	// Teacher
	RoleTeacher = "teacher:"

	// Parent
	RoleParent = "parent:"

	// Student
	RoleStudent = "student:"
)

var (
	AdminRoles   = []string{RoleAdmin, RoleAdminOwner}
	StaffRoles   = []string{RoleStaffPrincipal, RoleStaffCoordinator, RoleStaffRegistrar, RoleStaffAccounting, RoleStaffGuidance}
	TeacherRoles = []string{RoleTeacher}
	ParentRoles  = []string{RoleParent}
	StudentRoles = []string{RoleStudent}
	AllRoles     = getAllRoles()

	rolePriorities = map[string]int{
		// Admins: 30 - 21
		RoleAdminOwner: 30,
		RoleAdmin:      21,

		// Staff: 20 - 12
		RoleStaffPrincipal:   19,
		RoleStaffCoordinator: 18,
		RoleStaffRegistrar:   16,
		RoleStaffAccounting:  15,
		RoleStaffGuidance:    14,

		// Teachers: 11
		RoleTeacher: 11,

		// Parents: 10 - 2
		RoleParent: 5,

		// Students: 1
		RoleStudent: 1,
	}

	Roles = []Role{
		{Name: "Student", Value: RoleStudent},
		{Name: "Parent", Value: RoleParent},
		{Name: "Teacher", Value: RoleTeacher},
		{Name: "Guidance Counselor", Value: RoleStaffGuidance},
		{Name: "Accounting", Value: RoleStaffAccounting},
		{Name: "Registrar", Value: RoleStaffRegistrar},
		{Name: "Academic Coordinator", Value: RoleStaffCoordinator},
		{Name: "Principal", Value: RoleStaffPrincipal},
		{Name: "Admin", Value: RoleAdmin},
		{Name: "Admin Owner", Value: RoleAdminOwner},
	}
)

func getAllRoles() []string {
	all := make([]string, 0, len(rolePriorities))
	all = append(all, AdminRoles...)
	all = append(all, StaffRoles...)
	all = append(all, TeacherRoles...)
	all = append(all, ParentRoles...)
	all = append(all, StudentRoles...)
	return all
}

func RolePriority(role string) int {
	return rolePriorities[role]
}

func MaxRolePriority(roles []string) int {
	var max int
	for _, role := range roles {
		if RolePriority(role) > max {
			max = RolePriority(role)
		}
	}
	return max
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	IsActive     bool      `json:"is_active"`
	Roles        []string  `json:"roles"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
	LastLogin    time.Time `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u User) RoleStartsWith(prefix string) bool {
	for _, role := range u.Roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

func (u User) HasRole(roles ...string) bool {
	for _, role := range roles {
		if core.StringInSlice(role, u.Roles) {
			return true
		}
	}
	return false
}

func (u User) IsAdmin() bool   { return u.RoleStartsWith(RoleAdmin) }
func (u User) IsStaff() bool   { return u.RoleStartsWith(RoleStaff) }
func (u User) IsTeacher() bool { return u.RoleStartsWith(RoleTeacher) }
func (u User) IsParent() bool  { return u.RoleStartsWith(RoleParent) }
func (u User) IsStudent() bool { return u.RoleStartsWith(RoleStudent) }

// IsEmployee reports whether the user works for the school (admin, staff or teacher).
func (u User) IsEmployee() bool { return u.IsAdmin() || u.IsStaff() || u.IsTeacher() }

// PrimaryRole returns the user's role with the highest priority.
func (u User) PrimaryRole() string {
	var primary string
	for _, role := range u.Roles {
		if primary == "" || RolePriority(role) > RolePriority(primary) {
			primary = role
		}
	}
	return primary
}

// DisplayName returns the best available name for the user.
func (u User) DisplayName() string {
	switch {
	case u.Name != "":
		return u.Name
	case u.Username != "":
		return u.Username
	default:
		return u.Email
	}
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string   `json:"name" validate:"required"`
	Username        string   `json:"username" validate:"omitempty,min=6,alphanum_"`
	Email           string   `json:"email" validate:"omitempty,email"`
	Phone           string   `json:"phone" validate:"omitempty,e164"`
	Password        string   `json:"password" validate:"required"`
	PasswordConfirm string   `json:"password_confirm" validate:"required,eqfield=Password"`
	Roles           []string `json:"roles" validate:"omitempty,allroles"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc Service) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Phone = core.CleanString(nu.Phone)

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nu.Username, nu.Email)
}

// UpdateUser defines what information may be provided to modify an existing User.
type UpdateUser struct {
	Name            string   `json:"name"`
	Username        string   `json:"username" validate:"omitempty,min=6,alphanum_"`
	Email           string   `json:"email" validate:"omitempty,email"`
	Phone           *string  `json:"phone" validate:"omitempty,e164"`
	IsActive        *bool    `json:"is_active"`
	Roles           []string `json:"roles" validate:"omitempty,allroles"`
	Password        string   `json:"password" validate:"omitempty"`
	PasswordConfirm string   `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (uu *UpdateUser) Validate(ctx context.Context, origUsr User, validate *validator.Validate, svc Service) error {
	name := core.CleanString(uu.Name)
	if name != "" {
		uu.Name = name
	} else {
		uu.Name = origUsr.Name
	}

	uname := core.CleanString(uu.Username, true /* lower */)
	if uname != "" {
		uu.Username = uname
	} else {
		uu.Username = origUsr.Username
	}

	email := core.CleanString(uu.Email, true /* lower */)
	if email != "" {
		uu.Email = email
	} else {
		uu.Email = origUsr.Email
	}

	if uu.Phone != nil {
		phone := core.CleanString(*uu.Phone)
		uu.Phone = &phone
	}

	if err := validate.Struct(uu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, uu.Username, uu.Email, origUsr)
}

type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp ResetUserPassword) Validate(validate *validator.Validate) error { return validate.Struct(rp) }

type QueryFilter struct {
	Search      string    `query:"search"`
	Roles       []string  `query:"role"`
	IsActive    *bool     `query:"is_active"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Roles == nil && qf.IsActive == nil && qf.CreatedFrom.IsZero() && qf.CreatedTo.IsZero()
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

// GetFilter finds a single User by ID, Username, Email or UsernameOrEmail (first non-empty field wins).
type GetFilter struct {
	ID              string
	Username        string
	Email           string
	UsernameOrEmail string
}
