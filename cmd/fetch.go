package cmd

import (
	"context"
	"fmt"
	u "net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cocofetch/cocofetch/internal/output"
	"github.com/cocofetch/cocofetch/internal/remote"
	"github.com/cocofetch/cocofetch/internal/transfer"
	"github.com/cocofetch/cocofetch/internal/utils"
	"github.com/spf13/cobra"
)

func newFetchCmd() *cobra.Command {
	var outputPath string
	var expectSize int64
	var expectMD5 string
	var profile string

	cmd := &cobra.Command{
		Use:   "fetch [URL] [--output OUTPUT_PATH]",
		Short: "Download a single file in resumable segments",
		Long: `Download a file over HTTP/HTTPS or from S3 in parallel byte-range
segments. Interrupted downloads resume from the partial files on the next run.

Examples:
  cocofetch fetch https://example.com/large.zip
  cocofetch fetch s3://mybucket/path/file.zip --profile myprofile
  cocofetch fetch https://example.com/data.zip --expect-md5 113a836d90195ee1f884e704da6304df`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			link := args[0]
			src, err := buildSource(link, profile)
			if err != nil {
				output.PrintError(fmt.Sprintf("Invalid URL: %v", err))
				os.Exit(1)
			}
			if outputPath == "" {
				outputPath = inferOutputPath(link)
			}
			if _, err := os.Stat(outputPath); err == nil {
				outputPath = utils.RenewOutputPath(outputPath)
			}

			manager := output.NewManager()
			id := manager.Register(filepath.Base(outputPath))
			manager.StartDisplay()
			coord := &transfer.Coordinator{
				Workers: workers,
				Stages: func(stage transfer.Stage) {
					manager.SetStatus(id, "pending")
					manager.SetMessage(id, strings.ToUpper(string(stage[:1]))+string(stage[1:]))
				},
				Events: func(event transfer.ProgressEvent) {
					if event.Segment == transfer.Aggregate {
						manager.SetProgress(id, event.Downloaded, event.Total)
					}
				},
			}
			coord.Limiter, err = parseRateLimit(rateLimit)
			if err != nil {
				manager.StopDisplay()
				output.PrintError(err.Error())
				os.Exit(1)
			}

			path, err := coord.Fetch(context.Background(), transfer.Resource{
				Source:       src,
				OutputPath:   outputPath,
				ExpectedSize: expectSize,
				ExpectedMD5:  expectMD5,
			})
			if err != nil {
				manager.ReportError(id, err)
				manager.StopDisplay()
				os.Exit(1)
			}
			manager.Complete(id, fmt.Sprintf("Saved %s", path))
			manager.StopDisplay()
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (inferred from the URL if not provided)")
	cmd.Flags().Int64Var(&expectSize, "expect-size", 0, "Expected file size in bytes, checked after merge")
	cmd.Flags().StringVar(&expectMD5, "expect-md5", "", "Expected tree digest, checked after merge")
	cmd.Flags().StringVar(&profile, "profile", "default", "AWS profile for s3:// URLs")
	return cmd
}

func buildSource(link, profile string) (remote.Source, error) {
	if strings.HasPrefix(link, "s3://") {
		return remote.NewS3Source(link, profile)
	}
	return remote.NewHTTPSource(link, utils.NewHTTPClient(globalHTTPConfig))
}

func inferOutputPath(link string) string {
	parsed, err := u.Parse(link)
	if err == nil {
		if name := filepath.Base(parsed.Path); name != "." && name != "/" && name != "" {
			return name
		}
	}
	return "download"
}
