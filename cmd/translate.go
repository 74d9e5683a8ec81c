package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/subrelay/internal/config"
	"github.com/MimeLyc/subrelay/internal/pipeline"
	"github.com/MimeLyc/subrelay/internal/translator"
	"github.com/MimeLyc/subrelay/pkg/file"
)

type translateOptions struct {
	input     string
	userID    int64
	outputDir string
	language  string
}

func newTranslateCommand(flags *rootFlags) *cobra.Command {
	opts := translateOptions{}

	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Translate one local SRT file through the full session lifecycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(
				config.WithWorkDirs("", opts.outputDir),
				config.WithTargetLanguage(opts.language),
			)
			if err != nil {
				return err
			}
			closeLog, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			backend, err := newLLMBackend(cfg)
			if err != nil {
				return err
			}
			return runTranslate(cmd.Context(), cfg, backend, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.input, "in", "", "SRT file to translate")
	cmd.Flags().Int64Var(&opts.userID, "user", 1, "User id the session is registered under")
	cmd.Flags().StringVar(&opts.outputDir, "out", "", "Output directory (default from config)")
	cmd.Flags().StringVar(&opts.language, "lang", "", "Target language (default from config)")
	_ = cmd.MarkFlagRequired("in")

	return cmd
}

// runTranslate registers the file as an upload, copies it into the work directory and
// processes it. The registry is never started, so a running server's sweep lock is untouched.
func runTranslate(ctx context.Context, cfg *config.Config, backend translator.Backend, opts translateOptions, out io.Writer) error {
	info, err := os.Stat(opts.input)
	if err != nil {
		return fmt.Errorf("inspect input: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", opts.input)
	}

	c, err := newCore(cfg, backend)
	if err != nil {
		return err
	}
	defer c.Close()

	s, err := c.registry.PrepareUpload(opts.userID, filepath.Base(opts.input), info.Size())
	if err != nil {
		return err
	}
	if _, err := c.registry.StartDownload(opts.userID); err != nil {
		return err
	}
	if err := copyFile(opts.input, s.Path); err != nil {
		c.registry.Cleanup(opts.userID, true)
		return fmt.Errorf("copy input: %w", err)
	}
	if _, err := c.registry.CompleteDownload(opts.userID); err != nil {
		c.registry.Cleanup(opts.userID, true)
		return err
	}

	result, err := c.orchestrator.Process(ctx, opts.userID, s.Path)
	if err != nil {
		return err
	}
	// the output stays; only the working copy goes
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove working copy: %w", err)
	}
	if _, err := file.RemoveIfEmpty(filepath.Dir(s.Path)); err != nil {
		return fmt.Errorf("remove work directory: %w", err)
	}

	printResult(out, c.orchestrator.TargetLanguage(), result)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	w, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, in); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func printResult(w io.Writer, target string, r *pipeline.Result) {
	fmt.Fprintf(w, "Output:      %s\n", r.OutputPath)
	fmt.Fprintf(w, "Entries:     %d\n", r.EntryCount)
	if r.SourceLanguage != "" {
		fmt.Fprintf(w, "Languages:   %s -> %s\n", r.SourceLanguage, target)
	} else {
		fmt.Fprintf(w, "Language:    %s\n", target)
	}
	fmt.Fprintf(w, "Duration:    %s\n", (time.Duration(r.Stats.TotalDurationMs) * time.Millisecond).String())
	fmt.Fprintf(w, "Average:     %.0fms per entry, %.0fms gap\n", r.Stats.AvgDurationMs, r.Stats.AvgGapMs)
	fmt.Fprintf(w, "Took:        %s\n", r.Duration.Round(time.Millisecond))
	if len(r.Diagnostics) > 0 {
		fmt.Fprintf(w, "Timing issues (%d):\n", len(r.Diagnostics))
		for _, d := range r.Diagnostics {
			fmt.Fprintf(w, "  - %s\n", d)
		}
	}
}
