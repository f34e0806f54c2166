package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
)

var flagExportOutput string

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Gzip-compress a tree file for archival",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return export(args[0])
	},
}

func init() {
	exportCmd.Flags().StringVarP(&flagExportOutput, "output", "o", "", "output path (default: ~/.histtree/<name>.gz)")
}

func export(path string) error {
	out := flagExportOutput
	if out == "" {
		home, err := homedir.Dir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}
		dir := filepath.Join(home, ".histtree")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		out = filepath.Join(dir, filepath.Base(path)+".gz")
	}

	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer in.Close()

	f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", out, err)
	}
	defer f.Close()

	gz, err := gzip.NewWriterLevel(f, gzip.BestSpeed)
	if err != nil {
		return err
	}
	gz.Name = filepath.Base(path)

	progress := log.NewProgress("exporting", "bytes", 0)
	defer func() { progress.Finish(true) }()

	if _, err := io.Copy(gz, io.TeeReader(in, progress)); err != nil {
		_ = gz.Close()
		return fmt.Errorf("compressing %s: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("closing gzip writer: %w", err)
	}

	log.Printf("exported %s to %s\n", path, out)
	return nil
}
