// Package catalog is the folder/file metadata store behind the file server,
// plus the one function that turns a reference into bytes.
package catalog

import (
	"context"
	"errors"
	"io"
)

// PublicFolderID is the default folder seeded by the first migration. It is never deleted.
const PublicFolderID int64 = 0

var (
	ErrNotFound       = errors.New("catalog: not found")
	ErrInvalid        = errors.New("catalog: invalid argument")
	ErrReservedFolder = errors.New("catalog: folder is reserved")
	ErrNotContent     = errors.New("catalog: reference has no byte content")
)

type Folder struct {
	ID          int64
	DisplayName string
	// Password is stored but not consulted by any route.
	Password string
}

type File struct {
	ID          int64
	FolderID    int64
	DisplayName string
	DataRef     RawContentRef
}

// Ref addresses something in the catalog. Exactly one of FolderRef, FileRef
// or RawContentRef.
type Ref interface {
	isRef()
}

type FolderRef struct{ ID int64 }

type FileRef struct{ ID int64 }

// RawContentRef points at bytes on local storage.
type RawContentRef struct{ Path string }

func (FolderRef) isRef()     {}
func (FileRef) isRef()       {}
func (RawContentRef) isRef() {}

// Content is an open byte stream with a known length.
type Content struct {
	io.ReadCloser
	Size int64
}

// Gateway is the narrow catalog contract the HTTP core consumes.
type Gateway interface {
	QueryFolders(ctx context.Context) ([]Folder, error)
	QueryFiles(ctx context.Context, folderID int64) ([]File, error)
	Folder(ctx context.Context, id int64) (Folder, error)
	File(ctx context.Context, id int64) (File, error)
	InsertFile(ctx context.Context, folderID int64, displayName string, dataRef RawContentRef) (int64, error)
	DeleteFolder(ctx context.Context, folderID int64) error
	Resolve(ctx context.Context, ref Ref) (*Content, error)
}
