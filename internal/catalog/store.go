package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Store is the SQLite-backed Gateway. Reads run concurrently; writes are
// serialized by mu.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New wraps an already migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

// DB exposes the handle so the session store can share the database file.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) QueryFolders(ctx context.Context) ([]Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, display_name, password FROM folders ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query folders: %w", err)
	}
	defer rows.Close()

	var out []Folder
	for rows.Next() {
		var f Folder
		var pw sql.NullString
		if err := rows.Scan(&f.ID, &f.DisplayName, &pw); err != nil {
			return nil, err
		}
		f.Password = pw.String
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) Folder(ctx context.Context, id int64) (Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var f Folder
	var pw sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, password FROM folders WHERE id=?`, id).
		Scan(&f.ID, &f.DisplayName, &pw)
	if errors.Is(err, sql.ErrNoRows) {
		return Folder{}, fmt.Errorf("folder %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Folder{}, fmt.Errorf("get folder: %w", err)
	}
	f.Password = pw.String
	return f, nil
}

func (s *Store) QueryFiles(ctx context.Context, folderID int64) ([]File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, folder_id, display_name, data_ref FROM files WHERE folder_id=? ORDER BY id`, folderID)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.FolderID, &f.DisplayName, &f.DataRef.Path); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) File(ctx context.Context, id int64) (File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var f File
	err := s.db.QueryRowContext(ctx,
		`SELECT id, folder_id, display_name, data_ref FROM files WHERE id=?`, id).
		Scan(&f.ID, &f.FolderID, &f.DisplayName, &f.DataRef.Path)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, fmt.Errorf("file %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return File{}, fmt.Errorf("get file: %w", err)
	}
	return f, nil
}

func (s *Store) InsertFolder(ctx context.Context, displayName string) (int64, error) {
	if strings.TrimSpace(displayName) == "" {
		return 0, fmt.Errorf("%w: folder name required", ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `INSERT INTO folders (display_name) VALUES (?)`, displayName)
	if err != nil {
		return 0, fmt.Errorf("insert folder: %w", err)
	}
	return res.LastInsertId()
}

// InsertFile registers a file in folderID. The folder must exist.
func (s *Store) InsertFile(ctx context.Context, folderID int64, displayName string, dataRef RawContentRef) (int64, error) {
	if displayName == "" {
		return 0, fmt.Errorf("%w: file name required", ErrInvalid)
	}
	if dataRef.Path == "" {
		return 0, fmt.Errorf("%w: data reference required", ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM folders WHERE id=?`, folderID).Scan(&n); err != nil {
			return fmt.Errorf("check folder: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("folder %d: %w", folderID, ErrNotFound)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO files (folder_id, display_name, data_ref) VALUES (?, ?, ?)`,
			folderID, displayName, dataRef.Path)
		if err != nil {
			return fmt.Errorf("insert file: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// DeleteFolder removes every file row of the folder, then the folder row,
// in one transaction. The public folder is refused.
func (s *Store) DeleteFolder(ctx context.Context, folderID int64) error {
	if folderID == PublicFolderID {
		return ErrReservedFolder
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE folder_id=?`, folderID); err != nil {
			return fmt.Errorf("delete files: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM folders WHERE id=?`, folderID)
		if err != nil {
			return fmt.Errorf("delete folder: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("folder %d: %w", folderID, ErrNotFound)
		}
		return nil
	})
}

func (s *Store) DeleteFile(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("file %d: %w", id, ErrNotFound)
	}
	return nil
}

// Resolve turns a reference into an open byte stream and its length.
// Folders have no byte content.
func (s *Store) Resolve(ctx context.Context, ref Ref) (*Content, error) {
	switch r := ref.(type) {
	case RawContentRef:
		return openRaw(r)
	case FileRef:
		f, err := s.File(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		return openRaw(f.DataRef)
	case FolderRef:
		return nil, fmt.Errorf("folder %d: %w", r.ID, ErrNotContent)
	default:
		return nil, fmt.Errorf("%w: unknown reference %T", ErrInvalid, ref)
	}
}

func openRaw(r RawContentRef) (*Content, error) {
	if r.Path == "" {
		return nil, fmt.Errorf("%w: empty data reference", ErrInvalid)
	}
	f, err := os.Open(r.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", r.Path, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", r.Path, ErrNotContent)
	}
	return &Content{ReadCloser: f, Size: st.Size()}, nil
}

// withTx commits when fn succeeds and rolls back otherwise. Panics are rethrown.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}
