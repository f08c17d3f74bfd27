package main

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"standin/internal/config"

	"github.com/spf13/cobra"
)

const manifestName = "MANIFEST.json"

// manifest records which role each archived file plays so restore does not
// depend on the names used at backup time.
type manifest struct {
	CreatedAt time.Time         `json:"createdAt"`
	Roles     map[string]string `json:"roles"` // archive name -> db|config|rules
}

// bundleFile is one file going into a backup archive.
type bundleFile struct {
	role string
	path string
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the record store, config and rules pack",
		Long: `Writes a .tar.gz with a consistent snapshot of the SQLite record store
(digests, quota state, persona memory), the config file and the rules pack.
Safe to run while the daemon is up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if outputPath == "" {
				dir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create %s: %w", dir, err)
				}
				outputPath = filepath.Join(dir, time.Now().Format("standin-20060102-150405.tar.gz"))
			}

			staging, err := os.MkdirTemp("", "standin-backup-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(staging)

			var files []bundleFile
			if _, err := os.Stat(cfg.Store.DBPath); err == nil {
				store, err := openStore(cfg)
				if err != nil {
					return err
				}
				snap := filepath.Join(staging, filepath.Base(cfg.Store.DBPath))
				err = store.Snapshot(cmd.Context(), snap)
				store.Close()
				if err != nil {
					return err
				}
				files = append(files, bundleFile{role: "db", path: snap})
			}
			for _, f := range []bundleFile{{"config", cfgPath}, {"rules", cfg.Rules.Path}} {
				if f.path == "" {
					continue
				}
				if _, err := os.Stat(f.path); err == nil {
					files = append(files, f)
				}
			}
			if len(files) == 0 {
				return fmt.Errorf("nothing to back up (db: %s, config: %s)", cfg.Store.DBPath, cfgPath)
			}

			if err := writeBundle(outputPath, files, time.Now()); err != nil {
				return fmt.Errorf("backup: %w", err)
			}

			fmt.Printf("Wrote %s\n", outputPath)
			for _, f := range files {
				var size int64
				if info, err := os.Stat(f.path); err == nil {
					size = info.Size()
				}
				fmt.Printf("  %-7s %s (%s)\n", f.role, filepath.Base(f.path), formatSize(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "archive path (default: ~/.standin/backups/standin-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <archive.tar.gz>",
		Short: "Put a backup's record store, config and rules pack back in place",
		Long: `Restores into the locations named by the current config, or the defaults
when no config can be loaded. Stop the daemon first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			dest := map[string]string{"config": cfgPath}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				cfg = config.Defaults()
				cfg.Store.DBPath = config.ExpandPath(cfg.Store.DBPath)
				cfg.Rules.Path = config.ExpandPath(cfg.Rules.Path)
			}
			dest["db"] = cfg.Store.DBPath
			dest["rules"] = cfg.Rules.Path

			if !force {
				for _, role := range []string{"db", "config"} {
					if _, err := os.Stat(dest[role]); err == nil {
						return fmt.Errorf("%s exists; rerun with --force to overwrite", dest[role])
					}
				}
			}

			restored, err := readBundle(args[0], dest)
			if err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			// A stale WAL from the old database would be replayed over the
			// restored one.
			for _, suffix := range []string{"-wal", "-shm"} {
				os.Remove(dest["db"] + suffix)
			}

			fmt.Printf("Restored from %s:\n", args[0])
			for _, p := range restored {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

func writeBundle(out string, files []bundleFile, now time.Time) (err error) {
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	m := manifest{CreatedAt: now.UTC(), Roles: make(map[string]string, len(files))}
	for _, bf := range files {
		m.Roles[filepath.Base(bf.path)] = bf.role
	}
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	hdr := &tar.Header{Name: manifestName, Mode: 0o600, Size: int64(len(body)), ModTime: now}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := tw.Write(body); err != nil {
		return err
	}

	for _, bf := range files {
		if err := appendFile(tw, bf.path); err != nil {
			return fmt.Errorf("%s: %w", bf.path, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func appendFile(tw *tar.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(path)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, src)
	return err
}

// readBundle extracts archive entries to dest[role]. The manifest is always
// the first entry; files without a role are skipped.
func readBundle(archive string, dest map[string]string) ([]string, error) {
	f, err := os.Open(archive)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s is not gzip: %w", archive, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var m manifest
	var restored []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return restored, err
		}
		if hdr.Name == manifestName {
			if err := json.NewDecoder(tr).Decode(&m); err != nil {
				return nil, fmt.Errorf("manifest: %w", err)
			}
			continue
		}
		if m.Roles == nil {
			return nil, errors.New("archive has no manifest")
		}
		target := dest[m.Roles[hdr.Name]]
		if target == "" {
			logger.Warn("skipping file with no restore target", "name", hdr.Name)
			continue
		}
		if err := extractTo(target, tr); err != nil {
			return restored, err
		}
		restored = append(restored, target)
	}
	return restored, nil
}

func extractTo(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", path, err)
	}
	return out.Close()
}

func formatSize(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	v := float64(n)
	unit := "B"
	for _, u := range []string{"KB", "MB", "GB"} {
		if v < 1024 {
			break
		}
		v /= 1024
		unit = u
	}
	return fmt.Sprintf("%.1f %s", v, unit)
}
