package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/nicolagi/imgdrop/sweep"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newSweepCommand(load configLoader) *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Find (and optionally remove) records without files and files without records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("repair") {
				c.Sweep.Repair = repair
			}
			return sweepOnce(cmd, c)
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "remove the inconsistencies found")
	return cmd
}

func sweepOnce(cmd *cobra.Command, c *config) error {
	meta, err := openMetadata(c)
	if err != nil {
		return err
	}
	defer func() {
		if err := meta.Close(); err != nil {
			log.WithField("err", err).Warn("Could not close metadata store")
		}
	}()
	blobs, err := openBlobs(c)
	if err != nil {
		return err
	}
	grace, err := c.sweepGrace()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	report, err := sweep.Run(ctx, meta, blobs,
		sweep.WithRepair(c.Sweep.Repair),
		sweep.WithRate(c.Sweep.Rate),
		sweep.WithGracePeriod(grace),
	)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, r := range report.OrphanedRecords {
		_, _ = fmt.Fprintf(out, "record without file\t%s\t%s\n", r.LookupKey, r.BlobName())
	}
	for _, name := range report.OrphanedBlobs {
		_, _ = fmt.Fprintf(out, "file without record\t%s\n", name)
	}
	_, _ = fmt.Fprintf(out, "%d records, %d files, %d faults, %d repaired\n",
		report.Records, report.Blobs, report.Faults(), report.Repaired)
	return nil
}
