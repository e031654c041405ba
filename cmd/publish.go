package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ncku-metabolomics/classyfire-cli/internal/publish"
)

var publishCmd = &cobra.Command{
	Use:   "publish [file]",
	Short: "Upload the aggregated MetaboAnalyst table to S3",
	Long:  "Uploads the given file, or the newest CSV in the MetaboAnalyst folder, to the configured bucket.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("publish"); err != nil {
			return err
		}

		var path string
		if len(args) == 1 {
			path = args[0]
		} else {
			latest, _, err := publish.Latest(cfg.Folders.MetaboAnalyst)
			if err != nil {
				return err
			}
			path = latest
		}

		res, err := publishFile(ctx, path)
		if err != nil {
			return err
		}
		fmt.Printf("Published s3://%s/%s (%s)\n", res.Bucket, res.Key, humanize.Bytes(uint64(res.Size)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)
}

// publishFile uploads path with a publisher built from the config.
func publishFile(ctx context.Context, path string, opts ...publish.Option) (*publish.Result, error) {
	pub, err := publish.New(ctx, cfg.Publish, opts...)
	if err != nil {
		return nil, err
	}
	res, err := pub.Publish(ctx, path)
	if err != nil {
		return nil, err
	}
	zap.L().Info("result published",
		zap.String("bucket", res.Bucket),
		zap.String("key", res.Key),
		zap.Int64("size", res.Size),
	)
	return res, nil
}
