package cmd

import (
	"fmt"
	"os"

	"github.com/cocofetch/cocofetch/internal/integrity"
	"github.com/cocofetch/cocofetch/internal/output"
	"github.com/spf13/cobra"
)

func newDigestCmd() *cobra.Command {
	var digestWorkers int

	cmd := &cobra.Command{
		Use:   "digest [FILE]",
		Short: "Compute a file's tree digest",
		Long: `Compute the tree digest of a local file: the file is split into
equal ranges, each range is hashed, and the concatenated range hashes are
hashed again. The digest depends on the worker count, so compare values
computed with the same --workers.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			digest, err := integrity.TreeMD5(args[0], digestWorkers)
			if err != nil {
				output.PrintError(fmt.Sprintf("Error computing digest: %v", err))
				os.Exit(1)
			}
			fmt.Println(digest)
		},
	}

	cmd.Flags().IntVarP(&digestWorkers, "workers", "w", integrity.DigestWorkers, "Number of ranges to split the file into")
	return cmd
}
