package main

import "fmt"

func (cli *commandLine) migrate(command string) error {
	fn, ok := migrateFuncs[command]
	if !ok {
		return fmt.Errorf("%q: no such command", command)
	}
	return fn(cli.db)
}
