package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/user"
)

// addUser updates or creates an active user.User
func (cli *commandLine) addUser(uname, email, pwd string, isAdmin bool) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Username: uname})
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return err
		}
		usr = user.User{
			Name:     uname,
			Username: uname,
			Email:    email,
		}
	}
	if isAdmin {
		usr.Roles = []string{user.RoleAdminOwner}
	}
	usr.IsActive = true
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	_, err = cli.usrRepo.UpdateOrCreateUser(ctx, usr)
	return err
}
