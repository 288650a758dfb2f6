package inmemdb

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/user"
)

var userComparators = comparators[user.User]{
	"name":       func(a, b user.User) int { return strings.Compare(a.Name, b.Name) },
	"username":   func(a, b user.User) int { return strings.Compare(a.Username, b.Username) },
	"email":      func(a, b user.User) int { return strings.Compare(a.Email, b.Email) },
	"created_at": func(a, b user.User) int { return a.CreatedAt.Compare(b.CreatedAt) },
	"updated_at": func(a, b user.User) int { return a.UpdatedAt.Compare(b.UpdatedAt) },
	"last_login": func(a, b user.User) int { return a.LastLogin.Compare(b.LastLogin) },
	"is_active": func(a, b user.User) int {
		if a.IsActive == b.IsActive {
			return 0
		}
		if a.IsActive {
			return 1
		}
		return -1
	},
}

type userRepository struct {
	db *userTable
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) *userRepository {
	return &userRepository{db: db.user}
}

func (repo *userRepository) query() []user.User {
	users := make([]user.User, 0, len(repo.db.table))
	for _, u := range repo.db.table {
		usr := *u
		usr.Roles = copyStrings(u.Roles)
		users = append(users, usr)
	}
	orderRows(users, nil, userComparators)
	return users
}

func (repo *userRepository) CheckUsernameUniqueness(_ context.Context, username, email string, excludedUsers []user.User, _ ...core.DBExecutor) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	excluded := make(map[string]struct{}, len(excludedUsers))
	for _, u := range excludedUsers {
		excluded[u.ID] = struct{}{}
	}

	for _, usr := range repo.db.table {
		if _, ok := excluded[usr.ID]; ok {
			continue
		}
		if username != "" && usr.Username == username {
			return user.ErrUsernameExists
		}
		if email != "" && usr.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User, _ ...core.DBExecutor) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	usr.ID = uuid.New().String()
	u := usr
	u.Roles = copyStrings(usr.Roles)
	repo.db.table[usr.ID] = &u
	return usr, nil
}

func (repo *userRepository) QueryUsers(_ context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	users := repo.query()
	if filter != nil {
		filtered := make([]user.User, 0, len(users))
		for _, u := range users {
			if filter.Search != "" &&
				!containsFold(u.Name, filter.Search) &&
				!containsFold(u.Username, filter.Search) &&
				!containsFold(u.Email, filter.Search) {
				continue
			}
			if len(filter.Roles) > 0 {
				var match bool
				for _, role := range filter.Roles {
					if u.RoleStartsWith(role) {
						match = true
						break
					}
				}
				if !match {
					continue
				}
			}
			if filter.IsActive != nil && u.IsActive != *filter.IsActive {
				continue
			}
			if !filter.CreatedFrom.IsZero() && u.CreatedAt.Before(filter.CreatedFrom) {
				continue
			}
			if !filter.CreatedTo.IsZero() && u.CreatedAt.After(filter.CreatedTo) {
				continue
			}
			filtered = append(filtered, u)
		}
		users = filtered
	}
	orderRows(users, ordering, userComparators)
	return users, nil
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter, _ ...core.DBExecutor) (user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter.ID != "" {
		if usr, ok := repo.db.table[filter.ID]; ok {
			u := *usr
			u.Roles = copyStrings(usr.Roles)
			return u, nil
		}
		return user.User{}, user.ErrNotFound
	}

	for _, usr := range repo.query() {
		switch {
		case filter.Username != "":
			if usr.Username == filter.Username {
				return usr, nil
			}
		case filter.Email != "":
			if usr.Email == filter.Email {
				return usr, nil
			}
		case filter.UsernameOrEmail != "":
			if usr.Username == filter.UsernameOrEmail || usr.Email == filter.UsernameOrEmail {
				return usr, nil
			}
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) GetUsersByID(_ context.Context, ids []string, _ ...core.DBExecutor) ([]user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	users := make([]user.User, 0, len(ids))
	for _, usr := range repo.query() {
		if core.StringInSlice(usr.ID, ids) {
			users = append(users, usr)
		}
	}
	return users, nil
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User, _ ...core.DBExecutor) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[usr.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	u := usr
	u.Roles = copyStrings(usr.Roles)
	repo.db.table[usr.ID] = &u
	return usr, nil
}

func (repo *userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if usr.ID == "" {
		return repo.CreateUser(ctx, usr, exec...)
	}
	return repo.UpdateUser(ctx, usr, exec...)
}

func (repo *userRepository) DeleteUsersByID(_ context.Context, ids []string, _ ...core.DBExecutor) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var cnt int
	for _, id := range ids {
		if _, ok := repo.db.table[id]; ok {
			delete(repo.db.table, id)
			cnt++
		}
	}
	return cnt, nil
}
