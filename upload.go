package main

import (
	"fmt"
	"log/slog"

	"github.com/husmancristian/ta-collector/pkg/config"
	"github.com/husmancristian/ta-collector/pkg/storage/objectstore"
	"github.com/spf13/cobra"
)

func newUploadArchivesCmd(a *app) *cobra.Command {
	var ensureBucket bool

	cmd := &cobra.Command{
		Use:   "upload-archives DIR",
		Short: "Upload run archives in DIR that the bucket does not already hold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s3 := a.cfg.S3
			if s3.Bucket == "" || s3.Endpoint == "" {
				return fmt.Errorf("%w: TA_S3_BUCKET and TA_S3_ENDPOINT are required", config.ErrConfiguration)
			}
			store, err := objectstore.NewMinIOStore(objectstore.MinIOConfig{
				Endpoint:  s3.Endpoint,
				Bucket:    s3.Bucket,
				AccessKey: s3.AccessKey,
				SecretKey: s3.SecretKey,
				Profile:   s3.Profile,
				UseSSL:    s3.UseSSL,
			}, a.logger)
			if err != nil {
				return err
			}
			if ensureBucket {
				if err := store.EnsureBucket(cmd.Context()); err != nil {
					return err
				}
			}

			uploader := objectstore.NewUploader(store, a.logger)
			locators, err := uploader.UploadArchives(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, loc := range locators {
				fmt.Fprintln(cmd.OutOrStdout(), loc)
			}

			report := uploader.LastReport()
			a.logger.Info("Archive upload finished",
				slog.Int("uploaded", len(report.Uploaded)),
				slog.Int("skipped", len(report.Skipped)),
				slog.Int("failed", len(report.Failed)),
			)
			if len(report.Failed) > 0 {
				return fmt.Errorf("%d archive(s) failed to upload", len(report.Failed))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&ensureBucket, "create-bucket", false, "Create the bucket if it does not exist")
	return cmd
}
