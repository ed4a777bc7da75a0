package users

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/andrebq/doorman/auth"
	"github.com/andrebq/doorman/credstore"
	"github.com/andrebq/doorman/internal/cmdflags"
	"github.com/urfave/cli/v2"
)

func Cmd() *cli.Command {
	var store *credstore.Store
	var database string
	return &cli.Command{
		Name:  "users",
		Usage: "Manage registered users directly in the database",
		Flags: []cli.Flag{
			cmdflags.Database(&database),
		},
		Before: func(ctx *cli.Context) error {
			var err error
			store, err = credstore.Open(ctx.Context, database)
			return err
		},
		After: func(ctx *cli.Context) error {
			if store == nil {
				return nil
			}
			return store.Close()
		},
		Subcommands: []*cli.Command{
			registerCmd(&store),
			showCmd(&store),
		},
	}
}

func registerCmd(store **credstore.Store) *cli.Command {
	var username string
	var scheme string
	var pepperEnvVar string
	return &cli.Command{
		Name:  "register",
		Usage: "Register a new user (password is read from stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "username",
				Aliases:     []string{"u", "user"},
				Usage:       "Name of the user to register",
				Destination: &username,
				Required:    true,
			},
			cmdflags.HashScheme(&scheme),
			cmdflags.PepperEnvVar(&pepperEnvVar),
		},
		Action: func(ctx *cli.Context) error {
			keyfn, err := auth.KeyFNFromEnv(pepperEnvVar, os.Getenv, os.Setenv)
			if err != nil {
				return err
			}
			hasher, err := auth.HasherFor(scheme)
			if err != nil {
				return err
			}
			sc := bufio.NewScanner(ctx.App.Reader)
			if !sc.Scan() {
				if sc.Err() != nil {
					return sc.Err()
				}
				return errors.New("missing password from stdin")
			}
			password := auth.PlainText(strings.TrimRight(sc.Text(), "\r\n"))
			defer password.Zero()
			authn := auth.New(*store, auth.WithHasher(hasher), auth.WithPepper(keyfn))
			err = authn.Register(ctx.Context, username, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(ctx.App.Writer, "user %v registered\n", username)
			return nil
		},
	}
}

func showCmd(store **credstore.Store) *cli.Command {
	var username string
	return &cli.Command{
		Name:  "show",
		Usage: "Show a registered user (never prints the password hash)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "username",
				Aliases:     []string{"u", "user"},
				Usage:       "Name of the user to show",
				Destination: &username,
				Required:    true,
			},
		},
		Action: func(ctx *cli.Context) error {
			user, found, err := (*store).FindByIdentifier(ctx.Context, username)
			if err != nil {
				return err
			} else if !found {
				return fmt.Errorf("user %q not found", username)
			}
			fmt.Fprintf(ctx.App.Writer, "id: %v\nidentifier: %v\ncreated_at: %v\n",
				user.ID, user.Identifier, user.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}
}
