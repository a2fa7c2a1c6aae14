// Package backup snapshots the hub database (anomaly history, baselines and
// schema metadata) together with its config file into a tar.gz archive, and
// restores such archives.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Backup writes dbPath, and configPath when non-empty, to a gzip-compressed
// tar archive at archivePath. The database is copied with VACUUM INTO, so a
// running hub with a WAL journal yields a consistent snapshot.
func Backup(ctx context.Context, dbPath, configPath, archivePath string) error {
	if _, err := os.Stat(dbPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("database file not found: %s", dbPath)
		}
		return fmt.Errorf("stat database: %w", err)
	}

	snapDir, err := os.MkdirTemp("", "twinhub-backup-")
	if err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}
	defer os.RemoveAll(snapDir)

	snapshot := filepath.Join(snapDir, filepath.Base(dbPath))
	if err := snapshotDB(ctx, dbPath, snapshot); err != nil {
		return err
	}

	if dir := filepath.Dir(archivePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating archive dir: %w", err)
		}
	}
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}

	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	err = addFile(tw, snapshot, filepath.Base(dbPath))
	if err == nil && configPath != "" {
		err = addFile(tw, configPath, filepath.Base(configPath))
	}
	for _, c := range []io.Closer{tw, gw, out} {
		if cerr := c.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}
	if err != nil {
		os.Remove(archivePath)
		return fmt.Errorf("writing archive: %w", err)
	}
	return nil
}

// snapshotDB copies a live SQLite database into dest.
func snapshotDB(ctx context.Context, src, dest string) error {
	db, err := sql.Open("sqlite", src)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("snapshotting database: %w", err)
	}
	return nil
}

func addFile(tw *tar.Writer, path, name string) error {
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
		Name:    name,
		Size:    info.Size(),
		Mode:    0o600,
		ModTime: info.ModTime().UTC().Truncate(time.Second),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
