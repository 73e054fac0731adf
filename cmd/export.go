package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/carrier-scraper/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export <job-id>",
	Short: "Export a job's policy records to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		formatName, _ := cmd.Flags().GetString("format")
		format, err := export.ParseFormat(formatName)
		if err != nil {
			return err
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return err
		}
		records, err := st.ListPolicies(ctx, job.ID)
		if err != nil {
			return err
		}

		outPath, _ := cmd.Flags().GetString("out")
		if outPath == "" {
			outPath = export.FileName(job.ID, format)
		}
		f, err := os.Create(outPath)
		if err != nil {
			return eris.Wrapf(err, "export: create %s", outPath)
		}
		if err := export.Write(f, format, records); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrapf(err, "export: close %s", outPath)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d records for job %s to %s\n", len(records), job.ID, outPath)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("format", "csv", "output format: csv, json or xlsx")
	exportCmd.Flags().String("out", "", "output path (default policies_<job-id>.<format>)")
	rootCmd.AddCommand(exportCmd)
}
