package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tis24dev/flowsave/internal/version"
)

func newVersionCmd(streams IO) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprint(streams.Out, version.Full())
		},
	}
}
