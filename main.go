package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ossyrian/wadextract/internal/config"
	"github.com/ossyrian/wadextract/internal/extract"
	"github.com/ossyrian/wadextract/internal/logging"
	"github.com/ossyrian/wadextract/internal/parser"
	"github.com/ossyrian/wadextract/internal/progress"
	"github.com/ossyrian/wadextract/internal/wad"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:           "wadextract [wad-file] [extract-location]",
	Short:         "Extract the contents of AGAR WAD archives",
	Args:          cobra.MaximumNArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          extractWad,
}

var listCmd = &cobra.Command{
	Use:   "list [wad-file]",
	Short: "Print the file index and folder table of a WAD archive",
	Args:  cobra.MaximumNArgs(1),
	RunE:  listWad,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")

	// i/o
	rootCmd.PersistentFlags().StringP("input", "i", "", "path to .wad file to extract")
	rootCmd.Flags().StringP("output", "o", "", "directory to extract to (default: current directory)")
	rootCmd.Flags().Bool("archive-dir", true, "extract into a subdirectory named after the archive")

	// extraction
	rootCmd.Flags().Int("workers", 1, "number of files to copy concurrently")
	rootCmd.Flags().StringSlice("include", nil, "only extract paths matching these patterns")
	rootCmd.Flags().StringSlice("exclude", nil, "skip paths matching these patterns")
	rootCmd.Flags().Bool("keep-going", false, "skip files that cannot be written instead of aborting")
	rootCmd.Flags().Bool("dry-run", false, "parse and reconcile without writing output (validation)")

	// other opts
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-output-dir", "", "directory to write log files (if set, logs are written to both stderr and file)")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored console output")

	viper.BindPFlag("input", rootCmd.PersistentFlags().Lookup("input"))
	viper.BindPFlag("output", rootCmd.Flags().Lookup("output"))
	viper.BindPFlag("archive_dir", rootCmd.Flags().Lookup("archive-dir"))
	viper.BindPFlag("workers", rootCmd.Flags().Lookup("workers"))
	viper.BindPFlag("include", rootCmd.Flags().Lookup("include"))
	viper.BindPFlag("exclude", rootCmd.Flags().Lookup("exclude"))
	viper.BindPFlag("keep_going", rootCmd.Flags().Lookup("keep-going"))
	viper.BindPFlag("dry_run", rootCmd.Flags().Lookup("dry-run"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_output_dir", rootCmd.PersistentFlags().Lookup("log-output-dir"))
	viper.BindPFlag("no_color", rootCmd.PersistentFlags().Lookup("no-color"))

	rootCmd.AddCommand(listCmd)
}

// initConfig reads in config file and environment variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "wadextract"))
		}
		viper.AddConfigPath("/etc/wadextract")
		viper.SetConfigName("config")
		viper.SetConfigType("toml")
	}

	viper.SetEnvPrefix("WADEXTRACT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// loadConfig unmarshals viper settings, lets positional arguments override
// the input and output flags, and sets up logging.
func loadConfig(args []string) (func() error, error) {
	cfg = &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if len(args) > 0 {
		cfg.InputFile = args[0]
	}
	if len(args) > 1 {
		cfg.OutputDir = args[1]
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	closeLog, err := logging.Setup(cfg.LogLevel, cfg.LogOutputDir, cfg.NoColor)
	if err != nil {
		return nil, fmt.Errorf("could not set up logging: %w", err)
	}
	return closeLog, nil
}

// extractWad runs the main wadextract command in order to extract
// the specified WAD file
func extractWad(cmd *cobra.Command, args []string) error {
	closeLog, err := loadConfig(args)
	if err != nil {
		return err
	}
	defer closeLog()

	dest, err := cfg.DestinationRoot()
	if err != nil {
		return err
	}

	slog.Info("extracting file", "input", cfg.InputFile, "dest", dest)

	x, err := extract.New(afero.NewOsFs(), extract.Options{
		Workers:   cfg.Workers,
		DryRun:    cfg.DryRun,
		KeepGoing: cfg.KeepGoing,
		Include:   cfg.Include,
		Exclude:   cfg.Exclude,
		Reporter:  progress.NewLogReporter(slog.Default()),
	})
	if err != nil {
		return err
	}

	summary, err := x.ExtractFile(cmd.Context(), cfg.InputFile, dest)
	if err != nil {
		return describe(cfg.InputFile, err)
	}

	if len(summary.Skipped) > 0 {
		slog.Warn("some files were not extracted", "count", len(summary.Skipped))
	}
	return nil
}

// listWad prints the flat index and the folder table
func listWad(cmd *cobra.Command, args []string) error {
	closeLog, err := loadConfig(args)
	if err != nil {
		return err
	}
	defer closeLog()

	f, err := os.Open(cfg.InputFile)
	if err != nil {
		return fmt.Errorf("failed to open WAD file: %w", err)
	}
	defer f.Close()

	archive, _, err := parser.Parse(cmd.Context(), f, cfg.InputFile)
	if err != nil {
		return describe(cfg.InputFile, err)
	}

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tSIZE\tOFFSET")
	for _, e := range archive.Entries {
		fmt.Fprintf(w, "%s\t%s\t%#x\n", e.Path, humanize.IBytes(uint64(e.Length)), archive.BaseOffset+int64(e.Offset))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	idx := wad.NewIndex(archive.Entries)
	fmt.Fprintf(out, "\nGot %d files (%s) in %d folders\n",
		len(archive.Entries), humanize.IBytes(uint64(idx.TotalBytes())), len(archive.Folders))
	return nil
}

// describe turns format errors into a message for the user
func describe(input string, err error) error {
	switch {
	case errors.Is(err, wad.ErrUnsupportedFormat):
		return fmt.Errorf("%s is not a supported file (cannot find magic bytes): %w", input, err)
	case errors.Is(err, wad.ErrMalformedArchive):
		return fmt.Errorf("%s is damaged and cannot be extracted: %w", input, err)
	case errors.Is(err, wad.ErrFilesystem):
		return fmt.Errorf("%w (check permissions on the destination and try again)", err)
	default:
		return err
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
