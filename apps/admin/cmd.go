package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Abeyoo/Final-ID8-sub001/core/personality"
	"github.com/Abeyoo/Final-ID8-sub001/storage/database"
)

var (
	runMigrationsFunc = database.RunMigrations // mockable
	isTerminalFunc    = term.IsTerminal        // mockable

	errHelp = errors.New("help provided")
)

type sweeper interface {
	Sweep(ctx context.Context) (personality.SweepReport, error)
}

type commandLine struct {
	db      *sql.DB
	svc     personality.ServiceInterface
	sweeper sweeper
	out     io.Writer
	outFd   int
}

func (cli *commandLine) printUsage() {
	_, _ = fmt.Fprintln(cli.out, "Usage:")
	_, _ = fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS...]                     - run a goose migration command (up, down, status, ...)")
	_, _ = fmt.Fprintln(cli.out, "  adduser --id ID [--name NAME] [--email EMAIL] - create or update a user")
	_, _ = fmt.Fprintln(cli.out, "  analyze --user ID                             - analyze the unprocessed signals of a user")
	_, _ = fmt.Fprintln(cli.out, "  sweep                                         - analyze every user holding unprocessed signals")
	_, _ = fmt.Fprintln(cli.out, "  profile --user ID [--json]                    - print the profile and percentiles of a user")
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(cli.out)
	root.SetErr(cli.out)

	migrateCmd := &cobra.Command{
		Use:                "migrate COMMAND [ARGS...]",
		Short:              "Run a goose migration command",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_ = cmd.Usage()
				return errHelp
			}
			return cli.migrate(cmd.Context(), args)
		},
	}

	var addUserID, addUserName, addUserEmail string
	addUserCmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create or update a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addUserID == "" {
				_ = cmd.Usage()
				return errHelp
			}
			return cli.addUser(cmd.Context(), addUserID, addUserName, addUserEmail)
		},
	}
	addUserCmd.Flags().StringVar(&addUserID, "id", "", "The user's ID")
	addUserCmd.Flags().StringVar(&addUserName, "name", "", "The user's name")
	addUserCmd.Flags().StringVar(&addUserEmail, "email", "", "The user's email, used for notifications")

	var analyzeUser string
	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze the unprocessed signals of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if analyzeUser == "" {
				_ = cmd.Usage()
				return errHelp
			}
			return cli.analyze(cmd.Context(), analyzeUser)
		},
	}
	analyzeCmd.Flags().StringVar(&analyzeUser, "user", "", "The user's ID")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Analyze every user holding unprocessed signals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.sweep(cmd.Context())
		},
	}

	var profileUser string
	var profileJSON bool
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Print the profile and percentiles of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if profileUser == "" {
				_ = cmd.Usage()
				return errHelp
			}
			return cli.profile(cmd.Context(), profileUser, profileJSON || !isTerminalFunc(cli.outFd))
		},
	}
	profileCmd.Flags().StringVar(&profileUser, "user", "", "The user's ID")
	profileCmd.Flags().BoolVar(&profileJSON, "json", false, "Print JSON even on a terminal")

	root.AddCommand(migrateCmd, addUserCmd, analyzeCmd, sweepCmd, profileCmd)
	return root
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	root := cli.rootCmd()
	if cmd, _, err := root.Find(args[1:]); err != nil || cmd == root {
		cli.printUsage()
		return errHelp
	}
	root.SetArgs(args[1:])
	return root.ExecuteContext(context.Background())
}
