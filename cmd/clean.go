package cmd

import (
	"os"

	"github.com/cocofetch/cocofetch/internal/dataset"
	"github.com/cocofetch/cocofetch/internal/output"
	"github.com/cocofetch/cocofetch/internal/utils"
	"github.com/spf13/cobra"
)

func newCleanCmd() *cobra.Command {
	var datasetDir string
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "clean [OUTPUT_PATH]",
		Short: "Clean up partial files and workspace directories",
		Long: `Without arguments, removes the workspace directory in the current
directory. With an output path, removes that download's partial files and
plan. With --dataset-dir, removes a dataset's archives, extracted files, and
workspace.`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var err error
			switch {
			case datasetDir != "":
				manifest, merr := loadManifestArg(manifestPath, nil)
				if merr != nil {
					output.PrintError(merr.Error())
					os.Exit(1)
				}
				err = dataset.NewFlow(datasetDir, workers, globalHTTPConfig).Clean(manifest)
			case len(args) == 1:
				err = utils.CleanWorkspace(args[0])
			default:
				err = utils.CleanLocal()
			}
			if err != nil {
				output.PrintError("Error cleaning up temporary files")
				os.Exit(1)
			}
			output.PrintSuccess("Temporary files cleaned up")
		},
	}

	cmd.Flags().StringVar(&datasetDir, "dataset-dir", "", "Dataset directory to reset (archives, extracted files, workspace)")
	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "YAML manifest describing the dataset (defaults to the COCO 2017 catalog)")
	return cmd
}
