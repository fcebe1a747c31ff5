package commands

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"findb/internal/shell"
)

type readWriter struct {
	io.Reader
	io.Writer
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive console",
		Long:  "Start an interactive console. When stdin is not a terminal, commands are read one per line and executed as a script.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sh := shell.New(db)

			in, ok := cmd.InOrStdin().(*os.File)
			if !ok || !term.IsTerminal(int(in.Fd())) {
				return sh.RunScript(cmd.InOrStdin(), cmd.OutOrStdout())
			}

			state, err := term.MakeRaw(int(in.Fd()))
			if err != nil {
				return err
			}
			defer func() { _ = term.Restore(int(in.Fd()), state) }()
			return sh.Run(readWriter{in, cmd.OutOrStdout()})
		},
	}
}
