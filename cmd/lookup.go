// File: cmd/lookup.go
package cmd

import (
	"fmt"
	"io"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/zacharyisnthere/who-owns-you/internal/observability"
	"github.com/zacharyisnthere/who-owns-you/internal/ownership"
	"github.com/zacharyisnthere/who-owns-you/internal/service"
)

func newLookupCmd(a *app) *cobra.Command {
	var asJSON bool
	lookupCmd := &cobra.Command{
		Use:   "lookup <channel id, name or @handle>",
		Short: "Look a channel up in the ownership dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := service.InitializeDataset(a.cfg.Agent, observability.GetLogger())
			if err != nil {
				return err
			}
			rec, ok := ds.Lookup(cmd.Context(), args[0])
			if !ok {
				return fmt.Errorf("lookup of %q interrupted: %w", args[0], cmd.Context().Err())
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			}
			if rec == nil {
				fmt.Fprintln(out, "No ownership record found for this channel.")
				return nil
			}
			printRecord(out, rec)
			return nil
		},
	}
	lookupCmd.Flags().BoolVar(&asJSON, "json", false, "print the matching record as JSON")
	return lookupCmd
}

func printRecord(w io.Writer, rec *ownership.Record) {
	fmt.Fprintf(w, "Channel:  %s\n", rec.ChannelName)
	fmt.Fprintf(w, "Owner:    %s\n", rec.OwnerName())
	fmt.Fprintf(w, "Type:     %s\n", rec.TypeLabel())
	fmt.Fprintf(w, "Acquired: %s\n", ownership.FormatAcquisitionDate(rec.AcquisitionDate))
	notes := strings.TrimSpace(rec.Notes)
	if notes == "" {
		notes = "No notes available."
	}
	fmt.Fprintf(w, "Notes:    %s\n", notes)
	if len(rec.SourceURLs) == 0 {
		fmt.Fprintln(w, "Sources:  No public source listed.")
		return
	}
	for i, u := range rec.SourceURLs {
		fmt.Fprintf(w, "Source %d: %s\n", i+1, u)
	}
}
