// Package db opens the per-workspace SQLite store. The database file
// lives in a hidden .fieldline directory under the workspace root so a
// dispatch workspace stays self-contained.
package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const (
	workspaceDirName = ".fieldline"
	dbFileName       = "fieldline.db"
)

// pragmas every connection opens with. foreign_keys keeps the
// area/customer/technician references honest; busy_timeout keeps
// concurrent writers from surfacing SQLITE_BUSY immediately.
var pragmas = []string{
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

type Config struct {
	Workspace string
}

func workspaceDir(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDirName)
}

func dsn(workspace string) string {
	var b strings.Builder
	b.WriteString("file:")
	b.WriteString(filepath.Join(workspaceDir(workspace), dbFileName))
	b.WriteString("?cache=shared")
	for _, p := range pragmas {
		b.WriteString("&_pragma=")
		b.WriteString(p)
	}
	return b.String()
}

// EnsureWorkspace creates the hidden workspace directory if missing
// and returns its path.
func EnsureWorkspace(workspace string) (string, error) {
	dir := workspaceDir(workspace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Open opens the workspace database, creating the workspace directory
// on first use.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	return sql.Open("sqlite", dsn(cfg.Workspace))
}

// Path returns the database file path for a workspace.
func Path(workspace string) string {
	return filepath.Join(workspaceDir(workspace), dbFileName)
}
