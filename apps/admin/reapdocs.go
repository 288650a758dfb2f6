package main

import (
	"context"
	"fmt"
)

func (cli *commandLine) reapDocuments() error {
	n, err := cli.reaper.RunOnce(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("purged %d trashed documents\n", n)
	return nil
}
