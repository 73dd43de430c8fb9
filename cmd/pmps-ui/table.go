package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pcdshub/pmps-ui/internal/beamclass"
	"github.com/pcdshub/pmps-ui/internal/report"
)

func newTableCmd() *cobra.Command {
	var (
		variant string
		file    string
		pdfPath string
	)
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Print the beam-class table",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				table *beamclass.Table
				err   error
			)
			if file != "" {
				table, err = beamclass.LoadFile(file)
			} else {
				table, err = beamclass.Load(variant)
			}
			if err != nil {
				return err
			}
			if pdfPath == "" {
				fmt.Fprintln(cmd.OutOrStdout(), table.Render())
				return nil
			}
			f, err := os.Create(pdfPath)
			if err != nil {
				return err
			}
			if err := report.BeamClassPDF(table, f); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVar(&variant, "variant", beamclass.DefaultVariant, "Beam-class table revision")
	cmd.Flags().StringVar(&file, "file", "", "Load the table from a TSV file instead")
	cmd.Flags().StringVar(&pdfPath, "pdf", "", "Write a printable PDF to this path instead of printing text")
	return cmd
}
