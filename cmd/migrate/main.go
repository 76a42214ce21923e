package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/forwhat-rbx/clannr-sub000/internal/storage"
)

func main() {
	cliApp := &cli.App{
		Name:  "migrate",
		Usage: "manage the bot's SQLite schema",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				Usage:   "path to the SQLite database",
				Value:   "./data/bot.db",
				EnvVars: []string{"DATABASE_PATH"},
			},
		},
		Commands: []*cli.Command{
			gooseCommand("up", "apply all pending migrations"),
			gooseCommand("down", "roll back the most recent migration"),
			gooseCommand("status", "print migration status"),
			gooseCommand("version", "print the current schema version"),
			{
				Name:      "up-to",
				Usage:     "migrate up to a specific version",
				ArgsUsage: "VERSION",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("up-to needs exactly one VERSION argument")
					}
					return run(c, "up-to", c.Args().First())
				},
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		slog.Error("Migration failed", "error", err)
		os.Exit(1)
	}
}

func gooseCommand(name, usage string) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(c *cli.Context) error {
			return run(c, name)
		},
	}
}

func run(c *cli.Context, command string, args ...string) error {
	db, err := storage.Open(c.String("db"))
	if err != nil {
		return err
	}
	defer db.Close()

	return storage.Migrate(db, command, args...)
}
