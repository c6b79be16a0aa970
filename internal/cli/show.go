package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/yairfalse/dumptruck/pkg/metadata"
)

func newShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <document>",
		Short: "Print one crash document",
		Long: `Show prints a stored crash document. The argument is either a name as
printed by "dumptruck list" or a path to a document file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validFormat(opts.output); err != nil {
				return err
			}
			path := args[0]
			if !strings.ContainsRune(path, filepath.Separator) {
				dir, err := opts.documentDir()
				if err != nil {
					return err
				}
				path = filepath.Join(dir, path)
			}

			data, err := afero.ReadFile(opts.fs, path)
			if err != nil {
				return fmt.Errorf("failed to read document: %w", err)
			}
			doc, err := metadata.UnmarshalDocument(data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			format := opts.output
			if format == "human" {
				format = "yaml"
			}
			return encode(cmd.OutOrStdout(), format, doc)
		},
	}
}
