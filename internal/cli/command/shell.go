package command

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/vmstate-go/internal/cli/repl"
)

// ShellCommand returns the interactive shell command.
func ShellCommand() *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "Start an interactive shell over an in-process engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "history",
				Usage: "History file (empty disables persistence)",
				Value: repl.DefaultHistoryFile(),
			},
		},
		Action: shellAction,
	}
}

func shellAction(c *cli.Context) error {
	eng, err := newEngine(c, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	log := GetLogger(c)
	history := repl.NewHistory(c.String("history"))
	if err := history.Load(); err != nil {
		log.Warn("history not loaded", "error", err)
	}

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	r := repl.New(eng, repl.WithIO(c.App.Reader, outWriter(c)), repl.WithHistory(history))
	runErr := r.Run(ctx)

	if err := history.Save(); err != nil {
		log.Warn("history not saved", "error", err)
	}
	return runErr
}
