package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/cocofetch/cocofetch/internal/dataset"
	"github.com/cocofetch/cocofetch/internal/output"
	"github.com/cocofetch/cocofetch/internal/transfer"
	"github.com/spf13/cobra"
)

func newDatasetCmd() *cobra.Command {
	var baseDir string
	var manifestPath string
	var only []string
	var profile string

	cmd := &cobra.Command{
		Use:   "dataset [--dir DIR] [--manifest FILE]",
		Short: "Acquire a dataset's archives: download, verify, and extract",
		Long: `Acquire every resource in a dataset manifest. Already-extracted
resources are skipped, present archives are verified before reuse, and
interrupted downloads resume. Without --manifest the built-in COCO 2017
catalog is used.

Examples:
  cocofetch dataset --dir ./coco
  cocofetch dataset --dir ./coco --only annotations
  cocofetch dataset --manifest resources.yaml --dir ./data`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			manifest, err := loadManifestArg(manifestPath, only)
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}

			flow := dataset.NewFlow(baseDir, workers, globalHTTPConfig)
			flow.S3Profile = profile
			flow.Limiter, err = parseRateLimit(rateLimit)
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}

			manager := output.NewManager()
			ids := make(map[string]int, len(manifest.Resources))
			for _, res := range manifest.Resources {
				ids[res.Name] = manager.Register(res.Name)
			}
			flow.States = func(name string, state dataset.State) {
				id := ids[name]
				switch state {
				case dataset.StateExtracted:
					manager.Complete(id, fmt.Sprintf("Extracted %s", name))
				case dataset.StateFailed:
					// terminal status is set by ReportError below
				default:
					manager.SetMessage(id, string(state))
				}
			}
			flow.Events = func(name string, event transfer.ProgressEvent) {
				if event.Segment == transfer.Aggregate {
					manager.SetProgress(ids[name], event.Downloaded, event.Total)
				}
			}

			manager.StartDisplay()
			states, err := flow.Run(context.Background(), manifest)
			for name, state := range states {
				if state == dataset.StateFailed {
					manager.ReportError(ids[name], fmt.Errorf("acquisition failed, rerun to resume"))
				}
			}
			manager.StopDisplay()
			if err != nil {
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVarP(&baseDir, "dir", "d", ".", "Directory to place archives and extracted files in")
	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "YAML manifest of resources (defaults to the COCO 2017 catalog)")
	cmd.Flags().StringArrayVar(&only, "only", nil, "Acquire only the named resources; can be specified multiple times")
	cmd.Flags().StringVar(&profile, "profile", "default", "AWS profile for s3:// URLs")
	return cmd
}

func loadManifestArg(path string, only []string) (*dataset.Manifest, error) {
	manifest := dataset.DefaultManifest()
	if path != "" {
		loaded, err := dataset.LoadManifest(path)
		if err != nil {
			return nil, err
		}
		manifest = loaded
	}
	if len(only) > 0 {
		return manifest.Filter(only)
	}
	return manifest, nil
}
