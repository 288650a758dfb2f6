package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/user"
)

const userColumns = `id, name, username, email, phone, is_active, roles, password_hash, created_at, updated_at, last_login`

type userRow struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Username     null.String    `db:"username"`
	Email        null.String    `db:"email"`
	Phone        string         `db:"phone"`
	IsActive     bool           `db:"is_active"`
	Roles        pq.StringArray `db:"roles"`
	PasswordHash []byte         `db:"password_hash"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	LastLogin    null.Time      `db:"last_login"`
}

func (row userRow) unpack() user.User {
	roles := []string(row.Roles)
	if roles == nil {
		roles = []string{}
	}
	return user.User{
		ID:           row.ID,
		Name:         row.Name,
		Username:     row.Username.String,
		Email:        row.Email.String,
		Phone:        row.Phone,
		IsActive:     row.IsActive,
		Roles:        roles,
		PasswordHash: row.PasswordHash,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
		LastLogin:    row.LastLogin.Time.UTC(),
	}
}

func userArgs(usr user.User) []interface{} {
	roles := usr.Roles
	if roles == nil {
		roles = []string{}
	}
	return []interface{}{
		usr.ID,
		usr.Name,
		null.NewString(usr.Username, usr.Username != ""),
		null.NewString(usr.Email, usr.Email != ""),
		usr.Phone,
		usr.IsActive,
		pq.Array(roles),
		usr.PasswordHash,
		usr.CreatedAt.UTC(),
		usr.UpdatedAt.UTC(),
		null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

type userRepository struct {
	baseRepository
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) *userRepository {
	return &userRepository{baseRepository{db: db}}
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers []user.User, exec ...core.DBExecutor) error {
	ids := make([]string, 0, len(excludedUsers))
	for _, u := range excludedUsers {
		ids = append(ids, u.ID)
	}

	var rows []userRow
	q := `SELECT ` + userColumns + ` FROM "user" WHERE (username = $1 OR email = $2) AND NOT (id::text = ANY($3)) LIMIT 2`
	err := sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q,
		null.NewString(username, username != ""), null.NewString(email, email != ""), pq.Array(ids))
	if err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	for _, row := range rows {
		if username != "" && row.Username.String == username {
			return user.ErrUsernameExists
		}
		if email != "" && row.Email.String == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	usr.ID = uuid.New().String()
	q := `INSERT INTO "user" (` + userColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	if _, err := repo.getExec(exec).ExecContext(ctx, q, userArgs(usr)...); err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrUsernameExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]user.User, error) {
	where := new(whereClause)
	if filter != nil {
		// users with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			val := likePattern(filter.Search)
			where.add("name ILIKE ? OR username ILIKE ? OR email ILIKE ?", val, val, val)
		}
		// users with any role that starts with any of the provided roles
		if len(filter.Roles) > 0 {
			patterns := make([]string, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				patterns = append(patterns, role+"%")
			}
			where.add("EXISTS (SELECT 1 FROM UNNEST(roles) user_role WHERE user_role LIKE ANY(?))", pq.Array(patterns))
		}
		if filter.IsActive != nil {
			where.add("is_active = ?", *filter.IsActive)
		}
		if !filter.CreatedFrom.IsZero() {
			where.add("created_at >= ?", filter.CreatedFrom.UTC())
		}
		if !filter.CreatedTo.IsZero() {
			where.add("created_at <= ?", filter.CreatedTo.UTC())
		}
	}

	q := `SELECT ` + userColumns + ` FROM "user"` + where.String() + where.suffix(ordering, "created_at ASC", nil)
	var rows []userRow
	if err := sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, where.args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.unpack())
	}
	return users, nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	var (
		cond string
		arg  interface{}
	)
	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return user.User{}, user.ErrNotFound
		}
		cond, arg = "id = $1", filter.ID
	case filter.Username != "":
		cond, arg = "username = $1", filter.Username
	case filter.Email != "":
		cond, arg = "email = $1", filter.Email
	case filter.UsernameOrEmail != "":
		cond, arg = "username = $1 OR email = $1", filter.UsernameOrEmail
	default:
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	q := `SELECT ` + userColumns + ` FROM "user" WHERE ` + cond + ` LIMIT 1`
	if err := sqlx.GetContext(ctx, repo.getExec(exec), &row, q, arg); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "finding user")
	}
	return row.unpack(), nil
}

func (repo userRepository) GetUsersByID(ctx context.Context, ids []string, exec ...core.DBExecutor) ([]user.User, error) {
	var rows []userRow
	q := `SELECT ` + userColumns + ` FROM "user" WHERE id::text = ANY($1) ORDER BY created_at`
	if err := sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, pq.Array(ids)); err != nil {
		return nil, errors.Wrap(err, "finding users by ID")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.unpack())
	}
	return users, nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	q := `UPDATE "user" SET name = $2, username = $3, email = $4, phone = $5, is_active = $6, roles = $7,
		password_hash = $8, created_at = $9, updated_at = $10, last_login = $11 WHERE id = $1`
	res, err := repo.getExec(exec).ExecContext(ctx, q, userArgs(usr)...)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if usr.ID == "" {
		return repo.CreateUser(ctx, usr, exec...)
	}
	return repo.UpdateUser(ctx, usr, exec...)
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	res, err := repo.getExec(exec).ExecContext(ctx, `DELETE FROM "user" WHERE id::text = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	cnt, err := res.RowsAffected()
	return int(cnt), errors.Wrap(err, "counting deleted users")
}
