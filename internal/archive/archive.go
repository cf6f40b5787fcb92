// Package archive streams a folder as a ZIP file without holding the whole
// archive in memory.
package archive

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"fileshare/internal/catalog"
	"fileshare/internal/fsutil"
)

// pipeChunks bounds how far the producer may run ahead of the HTTP writer.
const pipeChunks = 16

const copyBufferSize = 32 << 10

// Source is what the producer reads: the folder's rows and their bytes.
type Source interface {
	QueryFiles(ctx context.Context, folderID int64) ([]catalog.File, error)
	Resolve(ctx context.Context, ref catalog.Ref) (*catalog.Content, error)
}

// Stream starts a producer writing the archive of folderID and returns the
// consumer end. The reader yields an error instead of io.EOF if the producer
// failed; the bytes before it are an unfinished archive. Close the reader to
// stop the producer early.
func Stream(ctx context.Context, src Source, folderID int64, logger *zap.Logger) io.ReadCloser {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := newPipe(pipeChunks)
	go func() {
		err := Write(ctx, p, src, folderID)
		if err != nil {
			logger.Warn("archive aborted", zap.Int64("folder", folderID), zap.Error(err))
		}
		p.CloseWithError(err)
	}()
	return p
}

// Write writes one entry per file of folderID, in catalog order, then the
// central directory. On error it returns without writing the directory.
func Write(ctx context.Context, w io.Writer, src Source, folderID int64) error {
	files, err := src.QueryFiles(ctx, folderID)
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}
	zw := zip.NewWriter(w)
	buf := make([]byte, copyBufferSize)
	for _, f := range files {
		if err := addEntry(ctx, zw, src, f, buf); err != nil {
			return err
		}
	}
	return zw.Close()
}

func addEntry(ctx context.Context, zw *zip.Writer, src Source, f catalog.File, buf []byte) error {
	c, err := src.Resolve(ctx, f.DataRef)
	if err != nil {
		return fmt.Errorf("open %q: %w", f.DisplayName, err)
	}
	defer c.Close()

	name := fsutil.SanitizeZipPath(f.DisplayName)
	if name == "" {
		name = fmt.Sprintf("file-%d", f.ID)
	}
	wr, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return err
	}
	if _, err := io.CopyBuffer(wr, c, buf); err != nil {
		return fmt.Errorf("copy %q: %w", f.DisplayName, err)
	}
	return nil
}
