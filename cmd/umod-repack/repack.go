package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
	"umod-repack/internal/archive"
	"umod-repack/internal/models"
	"umod-repack/internal/repack"
	"umod-repack/internal/worker"

	"github.com/gosuri/uitable"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var outDir string

var repackCmd = &cobra.Command{
	Use:   "repack <file>...",
	Short: "Repack local files without running the server",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return repackFiles(cmd.OutOrStdout(), args, outDir)
	},
}

func init() {
	repackCmd.Flags().StringVarP(&outDir, "out", "o", ".", "Directory receiving the zip files")
	rootCmd.AddCommand(repackCmd)
}

// repackFiles runs one submission in-process. The pipeline deletes its
// inputs, so it works on copies.
func repackFiles(w io.Writer, files []string, out string) error {
	out, err := homedir.Expand(out)
	if err != nil {
		return errors.Wrapf(err, "error expanding path %s", out)
	}
	if err := os.MkdirAll(out, 0755); err != nil {
		return errors.Wrapf(err, "error creating output directory %s", out)
	}

	staging, err := os.MkdirTemp("", "ua-repack-in")
	if err != nil {
		return errors.Wrap(err, "error creating staging directory")
	}
	defer os.RemoveAll(staging)

	job := models.NewJob()
	copies := make([]string, len(files))
	for i, f := range files {
		dest := filepath.Join(staging, fmt.Sprintf("%d-%s", i, repack.SafeFileName(filepath.Base(f))))
		if err := copyFile(f, dest); err != nil {
			return err
		}
		copies[i] = dest
	}

	sub := &models.Submission{
		Job:        job,
		SubmitTime: time.Now().UnixMilli(),
		Name:       filepath.Base(files[0]),
		Files:      copies,
	}
	pipeline := repack.New(archive.New(), repack.UmodDecoder{}, "")
	worker.New(nil, pipeline, nil, nil).ProcessSubmission(sub)

	snapshot := job.Snapshot()
	for _, entry := range snapshot.Log {
		fmt.Fprintln(w, entry.String())
	}

	artifacts := job.TakeArtifacts()
	names := make([]string, 0, len(artifacts))
	for name := range artifacts {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) > 0 {
		table := uitable.New()
		table.AddRow("FILE", "SIZE", "LOCATION")
		for _, name := range names {
			src := artifacts[name]
			dest := filepath.Join(out, name)
			if err := moveFile(src, dest); err != nil {
				return err
			}
			os.Remove(filepath.Dir(src))
			var size int64
			if info, err := os.Stat(dest); err == nil {
				size = info.Size()
			}
			table.AddRow(name, size, dest)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, table)
	}

	if snapshot.State == models.StateFailed {
		return errors.Errorf("job %s failed", job.ID())
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "error opening %s", src)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return errors.Wrapf(err, "error creating %s", dest)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "error copying %s", src)
	}
	return errors.Wrapf(out.Close(), "error closing %s", dest)
}

// moveFile renames src to dest, copying when they are on different devices
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	if err := copyFile(src, dest); err != nil {
		return err
	}
	return errors.Wrapf(os.Remove(src), "error removing %s", src)
}
