package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create or inspect storage-directory backups",
	}

	var outDir string
	create := &cobra.Command{
		Use:   "create",
		Short: "Archive the configured storage directory to a gzip tarball",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if outDir == "" {
				outDir = "."
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			name := fmt.Sprintf("eventengine-backup-%s.tar.gz", time.Now().UTC().Format("20060102T150405Z"))
			path := filepath.Join(outDir, name)
			if err := createBackup(cfg.StorageDir, path); err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
	create.Flags().StringVar(&outDir, "out", "", "directory to write the backup archive into (default: current directory)")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "list <archive>",
		Short: "Print the entries contained in a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return listBackup(args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore <archive> <dest-dir>",
		Short: "Restore a backup archive (not implemented)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("backup restore: not implemented by the core engine; restoring into a live cluster requires coordinating with the tenant-aware admin surface, which owns that workflow")
		},
	})

	return cmd
}

func createBackup(storageDir, destPath string) error {
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("backup: create %s: %w", destPath, err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	var files []string
	err = filepath.Walk(storageDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("backup: storage dir %s does not exist yet", storageDir)
		}
		return fmt.Errorf("backup: walk %s: %w", storageDir, err)
	}
	sort.Strings(files)

	for _, path := range files {
		rel, err := filepath.Rel(storageDir, path)
		if err != nil {
			return err
		}
		if err := addFileToTar(tw, path, rel); err != nil {
			return fmt.Errorf("backup: add %s: %w", rel, err)
		}
	}
	return nil
}

func addFileToTar(tw *tar.Writer, path, rel string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Name:    filepath.ToSlash(rel),
		Size:    info.Size(),
		Mode:    int64(info.Mode().Perm()),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

func listBackup(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("backup: open %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("backup: not a gzip archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("backup: read archive: %w", err)
		}
		fmt.Printf("%10d  %s\n", hdr.Size, hdr.Name)
	}
}
