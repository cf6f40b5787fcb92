package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fileshare/internal/catalog"
	"fileshare/internal/fsutil"
)

// Single-part multipart ingestion:
// - the boundary comes from the request Content-Type
// - only the first part is read; it must carry a filename
// - the part body is streamed to <dir>/.upload-<uuid>.part, then placed
//   under the sanitized filename without clobbering anything already there
// - the catalog row carries the decoded filename and the absolute blob path
// - the catalog row is added only after the bytes are on disk

const transferBufferSize = 1 << 20

var (
	ErrMissingBoundary = errors.New("upload: missing boundary")
	ErrMissingFilename = errors.New("upload: missing filename")
	ErrMalformed       = errors.New("upload: malformed multipart body")
	ErrWrite           = errors.New("upload: write failure")
)

// Registrar records a finished upload in the catalog.
type Registrar interface {
	InsertFile(ctx context.Context, folderID int64, displayName string, dataRef catalog.RawContentRef) (int64, error)
}

type Processor struct {
	dir    string
	files  Registrar
	logger *zap.Logger
}

type Result struct {
	FileID   int64
	Filename string
	Path     string
	Size     int64
}

// New returns a Processor writing into dir. dir is created on first use.
func New(dir string, files Registrar, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{dir: dir, files: files, logger: logger}
}

// Process reads one file part from body and registers it in folderID.
// On any error no catalog row exists for the upload.
func (p *Processor) Process(ctx context.Context, contentType string, body io.Reader, folderID int64) (Result, error) {
	boundary, err := Boundary(contentType)
	if err != nil {
		return Result{}, err
	}
	mr := multipart.NewReader(body, boundary)
	part, err := mr.NextRawPart()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer part.Close()

	name, err := Filename(part.Header)
	if err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	tmp := filepath.Join(p.dir, ".upload-"+uuid.NewString()+".part")
	size, err := writeTmp(tmp, part)
	if err != nil {
		_ = os.Remove(tmp)
		return Result{}, fmt.Errorf("%w: %v", ErrWrite, err)
	}

	// The catalog keeps the name as sent; only the on-disk name is reduced.
	dst, err := fsutil.PlaceNoClobber(tmp, p.dir, fsutil.SafeName(name))
	if err != nil {
		_ = os.Remove(tmp)
		return Result{}, fmt.Errorf("%w: %v", ErrWrite, err)
	}

	id, err := p.files.InsertFile(ctx, folderID, name, catalog.RawContentRef{Path: dst})
	if err != nil {
		_ = os.Remove(dst)
		return Result{}, fmt.Errorf("register upload: %w", err)
	}
	p.logger.Info("upload stored",
		zap.Int64("folder", folderID),
		zap.Int64("file", id),
		zap.String("name", name),
		zap.Int64("size", size))
	return Result{FileID: id, Filename: name, Path: dst, Size: size}, nil
}

// writeTmp copies src into a new file at path using a buffer owned by this call.
func writeTmp(path string, src io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, transferBufferSize)
	// Hide ReadFrom so the copy goes through buf.
	n, err := io.CopyBuffer(struct{ io.Writer }{f}, src, buf)
	if err != nil {
		_ = f.Close()
		return n, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return n, err
	}
	return n, f.Close()
}

// Boundary returns everything after "boundary=" in a Content-Type value,
// without surrounding quotes or trailing parameters.
func Boundary(contentType string) (string, error) {
	const marker = "boundary="
	i := strings.Index(contentType, marker)
	if i < 0 {
		return "", ErrMissingBoundary
	}
	b := contentType[i+len(marker):]
	if j := strings.IndexByte(b, ';'); j >= 0 {
		b = b[:j]
	}
	b = strings.Trim(strings.TrimSpace(b), `"`)
	if b == "" {
		return "", ErrMissingBoundary
	}
	return b, nil
}

// Filename extracts the percent-decoded filename parameter from part headers.
func Filename(h textproto.MIMEHeader) (string, error) {
	cd := h.Get("Content-Disposition")
	if cd == "" {
		return "", ErrMissingFilename
	}
	var raw string
	if _, params, err := mime.ParseMediaType(cd); err == nil {
		raw = params["filename"]
	} else {
		raw = scanFilename(cd)
	}
	if raw == "" {
		return "", ErrMissingFilename
	}
	if dec, err := url.PathUnescape(raw); err == nil {
		raw = dec
	}
	if raw == "" {
		return "", ErrMissingFilename
	}
	return raw, nil
}

// scanFilename is the fallback for dispositions mime cannot parse,
// e.g. unquoted names with spaces.
func scanFilename(cd string) string {
	for _, tok := range strings.Split(cd, ";") {
		tok = strings.TrimSpace(tok)
		if v, ok := strings.CutPrefix(tok, "filename="); ok {
			return strings.Trim(v, `"`)
		}
	}
	return ""
}
