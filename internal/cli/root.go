// Package cli implements the dumptruck operator command.
package cli

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yairfalse/dumptruck/pkg/config"
)

type options struct {
	cfgFile string
	output  string
	fs      afero.Fs
	v       *viper.Viper
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand(afero.NewOsFs()).Execute()
}

// NewRootCommand builds the command tree reading documents through fs
func NewRootCommand(fs afero.Fs) *cobra.Command {
	opts := &options{fs: fs, v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "dumptruck",
		Short: "Inspect crash metadata collected by the dumptruck pipeline",
		Long: `dumptruck shows the metadata documents the launcher stores for every
crash it handled. Documents live below the user cache directory in
dumptruck/crashes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/dumptruck/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "human", "Output format: human, json, yaml")
	rootCmd.PersistentFlags().String("cache-dir", "", "cache directory holding dumptruck/crashes")
	_ = opts.v.BindPFlag("cache_dir", rootCmd.PersistentFlags().Lookup("cache-dir"))

	rootCmd.AddCommand(newListCmd(opts))
	rootCmd.AddCommand(newShowCmd(opts))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func (o *options) load() (*config.Config, error) {
	return config.Load(o.v, o.cfgFile)
}

// documentDir resolves where documents are stored from the loaded config
func (o *options) documentDir() (string, error) {
	cfg, err := o.load()
	if err != nil {
		return "", err
	}
	paths, err := cfg.Paths()
	if err != nil {
		return "", err
	}
	return paths.DocumentDir(), nil
}
