package main

import (
	"context"
	"fmt"

	"github.com/Abeyoo/Final-ID8-sub001/core/personality"
)

// addUser updates or creates a personality.User
func (cli *commandLine) addUser(ctx context.Context, id, name, email string) error {
	usr, err := cli.svc.RegisterUser(ctx, personality.NewUser{ID: id, Name: name, Email: email})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "saved user %q\n", usr.ID)
	return nil
}
