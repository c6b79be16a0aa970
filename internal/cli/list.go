package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/yairfalse/dumptruck/pkg/domain"
	"github.com/yairfalse/dumptruck/pkg/metadata"
)

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored crash documents, newest first",
		Example: `  # List crashes
  dumptruck list

  # Full documents as YAML
  dumptruck list --output yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validFormat(opts.output); err != nil {
				return err
			}
			dir, err := opts.documentDir()
			if err != nil {
				return err
			}
			entries, err := metadata.List(opts.fs, dir)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					entries = nil
				} else {
					return err
				}
			}
			return printEntries(cmd.OutOrStdout(), opts.output, entries)
		},
	}
}

func printEntries(w io.Writer, format string, entries []metadata.Entry) error {
	if format != "human" {
		if entries == nil {
			entries = []metadata.Entry{}
		}
		return encode(w, format, entries)
	}

	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No crashes recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODIFIED\tEXECUTABLE\tSIGNAL\tHANDLED\tDOCUMENT")
	for _, e := range entries {
		exe, signal, handled := "?", "?", "?"
		if e.Document != nil {
			exe = valueOr(e.Document.CrashHandler[metadata.KeyExe], e.Document.Journal[domain.KeyExe])
			exe = valueOr(exe, "?")
			signal = valueOr(e.Document.CrashHandler[metadata.KeySignal], e.Document.Journal[domain.KeySignal])
			signal = valueOr(signal, "?")
			handled = "no"
			if e.Document.PickedUp() {
				handled = "yes"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Modified.Format(time.RFC3339), exe, signal, handled, e.Name)
	}
	return tw.Flush()
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
