package backup_test

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/HerbHall/twinhub/internal/backup"
	_ "modernc.org/sqlite"
)

// createTestDB creates a hub-like database in WAL mode and returns its path.
func createTestDB(t *testing.T, dir string) string {
	t.Helper()

	dbPath := filepath.Join(dir, "twinhub.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	_, err = db.Exec(`
		PRAGMA journal_mode=WAL;
		CREATE TABLE detect_anomalies (id TEXT PRIMARY KEY, device_id TEXT, type TEXT);
		INSERT INTO detect_anomalies VALUES ('a-1', 'phone-1', 'excessive_vibration'),
		                                    ('a-2', 'phone-1', 'cpu_spike');
	`)
	if err != nil {
		t.Fatal(err)
	}
	return dbPath
}

func createTestConfig(t *testing.T, dir string) string {
	t.Helper()
	cfgPath := filepath.Join(dir, "twinhub.yaml")
	if err := os.WriteFile(cfgPath, []byte("server:\n  port: 8080\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}

func verifyDBContents(t *testing.T, dbPath string) {
	t.Helper()

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM detect_anomalies").Scan(&count); err != nil {
		t.Fatalf("querying restored DB: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 anomalies, got %d", count)
	}
}

func writeArchive(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.tar.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	for name, body := range entries {
		hdr := &tar.Header{Name: name, Size: int64(len(body)), Mode: 0o644, Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	tw.Close()
	gw.Close()
	f.Close()
	return path
}

func TestBackupRestore(t *testing.T) {
	tests := []struct {
		name       string
		withConfig bool
		missingDB  bool
		preexist   bool
		force      bool
		backupErr  string
		restoreErr string
	}{
		{name: "round trip with config", withConfig: true},
		{name: "round trip without config"},
		{name: "missing database", missingDB: true, backupErr: "database file not found"},
		{name: "no force existing DB", preexist: true, restoreErr: "file already exists"},
		{name: "force existing DB", preexist: true, force: true},
	}

	ctx := context.Background()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srcDir, restoreDir := t.TempDir(), t.TempDir()
			archivePath := filepath.Join(t.TempDir(), "nested", "backup.tar.gz")

			dbPath := filepath.Join(srcDir, "missing.db")
			if !tc.missingDB {
				dbPath = createTestDB(t, srcDir)
			}
			cfgPath := ""
			if tc.withConfig {
				cfgPath = createTestConfig(t, srcDir)
			}
			if tc.preexist {
				createTestDB(t, restoreDir)
				if err := os.WriteFile(filepath.Join(restoreDir, "twinhub.db-wal"), []byte("stale"), 0o600); err != nil {
					t.Fatal(err)
				}
			}

			err := backup.Backup(ctx, dbPath, cfgPath, archivePath)
			if tc.backupErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.backupErr) {
					t.Fatalf("Backup() error = %v, want containing %q", err, tc.backupErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Backup() error = %v", err)
			}

			err = backup.Restore(ctx, archivePath, restoreDir, tc.force)
			if tc.restoreErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.restoreErr) {
					t.Fatalf("Restore() error = %v, want containing %q", err, tc.restoreErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Restore() error = %v", err)
			}

			verifyDBContents(t, filepath.Join(restoreDir, "twinhub.db"))
			if tc.preexist {
				if _, err := os.Stat(filepath.Join(restoreDir, "twinhub.db-wal")); err == nil {
					t.Error("stale WAL file survived a forced restore")
				}
			}
			if tc.withConfig {
				data, err := os.ReadFile(filepath.Join(restoreDir, "twinhub.yaml"))
				if err != nil || len(data) == 0 {
					t.Fatalf("config not restored: %v", err)
				}
			}
		})
	}
}

func TestRestore_CorruptArchive(t *testing.T) {
	corrupt := filepath.Join(t.TempDir(), "corrupt.tar.gz")
	if err := os.WriteFile(corrupt, []byte("not a valid gzip"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := backup.Restore(context.Background(), corrupt, t.TempDir(), false); err == nil {
		t.Fatal("expected error for corrupt archive, got nil")
	}
}

func TestRestore_RejectsBadArchives(t *testing.T) {
	tests := []struct {
		name    string
		entries map[string]string
		wantErr string
	}{
		{"path traversal", map[string]string{"../../../etc/evil.db": "evil"}, "path traversal"},
		{"absolute path", map[string]string{"/tmp/evil.db": "evil"}, "path traversal"},
		{"no database", map[string]string{"twinhub.yaml": "hello"}, "does not contain a .db file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archive := writeArchive(t, tt.entries)
			err := backup.Restore(context.Background(), archive, t.TempDir(), false)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Restore() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRestore_CanceledContext(t *testing.T) {
	archive := writeArchive(t, map[string]string{"twinhub.db": "x"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := backup.Restore(ctx, archive, t.TempDir(), false); err == nil {
		t.Fatal("expected context error, got nil")
	}
}
