package httpserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"fileshare/internal/archive"
	"fileshare/internal/auth"
	"fileshare/internal/catalog"
	"fileshare/internal/fsutil"
	"fileshare/internal/session"
)

const (
	loginPath    = "/login"
	folderPrefix = "/folder/"
	filePrefix   = "/file/"
	archPrefix   = "/archive/"
	thumbPrefix  = "/thumb/"

	maxLoginBody = 8 << 10
)

// serveRequest gates req through the auth guard and dispatches it. A non-nil
// error means the connection is closed without a response.
func (s *Server) serveRequest(ctx context.Context, req *Request, log *zap.Logger) (*Response, error) {
	state, err := s.guard.Check(ctx, req.Header.Get("Cookie"))
	if err != nil {
		log.Warn("session lookup failed", zap.Error(err))
	}
	if req.Path == loginPath {
		return s.handleLogin(ctx, req, state, log), nil
	}
	if state != auth.Authenticated {
		return htmlResponse(http.StatusOK, renderLogin(false)), nil
	}
	return s.dispatch(ctx, req, log)
}

// dispatch is evaluated in a fixed order; the first match wins.
func (s *Server) dispatch(ctx context.Context, req *Request, log *zap.Logger) (*Response, error) {
	switch {
	case req.Path == "/":
		return s.handleFolders(ctx, log), nil
	case req.Method == http.MethodGet && strings.HasPrefix(req.Path, folderPrefix):
		return s.handleFolder(ctx, req, log), nil
	case strings.HasPrefix(req.Path, filePrefix):
		return s.handleFile(ctx, req, log), nil
	case req.Method == http.MethodGet && strings.HasPrefix(req.Path, archPrefix):
		return s.handleArchive(ctx, req, log), nil
	case req.Method == http.MethodGet && strings.HasPrefix(req.Path, thumbPrefix):
		return s.handleThumb(ctx, req, log), nil
	case req.Method == http.MethodPost && strings.HasPrefix(req.Path, folderPrefix) && s.cfg.AllowUploads:
		return s.handleUpload(ctx, req, log)
	default:
		return notFound(), nil
	}
}

// idFromPath returns the digits directly after prefix. They must run to the
// end of the path or to the next '/'.
func idFromPath(p, prefix string) (int64, bool) {
	rest, ok := strings.CutPrefix(p, prefix)
	if !ok {
		return 0, false
	}
	digits, _, _ := strings.Cut(rest, "/")
	if digits == "" {
		return 0, false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (s *Server) handleLogin(ctx context.Context, req *Request, state auth.State, log *zap.Logger) *Response {
	if state == auth.Authenticated {
		return redirect("/")
	}
	if req.Method != http.MethodPost {
		return htmlResponse(http.StatusOK, renderLogin(false))
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, maxLoginBody))
	if err != nil {
		log.Info("login body read failed", zap.Error(err))
		return htmlResponse(http.StatusUnauthorized, renderLogin(true))
	}
	form, _ := url.ParseQuery(string(body))
	tok, err := s.guard.Login(ctx, form.Get("password"))
	if errors.Is(err, auth.ErrBadPassword) {
		log.Info("login failed")
		return htmlResponse(http.StatusUnauthorized, renderLogin(true))
	}
	if err != nil {
		log.Error("issue session", zap.Error(err))
		return textResponse(http.StatusInternalServerError, "INTERNAL ERROR")
	}
	log.Info("login ok")
	r := redirect("/")
	r.Header.Set("Set-Cookie", setCookie(tok))
	return r
}

func setCookie(t session.Token) string {
	return fmt.Sprintf("%s=%s; Path=/; Expires=%s; HttpOnly",
		t.Name, t.Value, t.ExpiresAt.UTC().Format(http.TimeFormat))
}

func (s *Server) handleFolders(ctx context.Context, log *zap.Logger) *Response {
	folders, err := s.catalog.QueryFolders(ctx)
	if err != nil {
		log.Error("query folders", zap.Error(err))
		return textResponse(http.StatusInternalServerError, "INTERNAL ERROR")
	}
	return htmlResponse(http.StatusOK, renderFolders(folders))
}

func (s *Server) handleFolder(ctx context.Context, req *Request, log *zap.Logger) *Response {
	id, ok := idFromPath(req.Path, folderPrefix)
	if !ok {
		return notFound()
	}
	return s.folderPage(ctx, id, log)
}

func (s *Server) folderPage(ctx context.Context, id int64, log *zap.Logger) *Response {
	if _, err := s.catalog.Folder(ctx, id); err != nil {
		return s.lookupFailure(err, log)
	}
	files, err := s.catalog.QueryFiles(ctx, id)
	if err != nil {
		log.Error("query files", zap.Int64("folder", id), zap.Error(err))
		return textResponse(http.StatusInternalServerError, "INTERNAL ERROR")
	}
	return htmlResponse(http.StatusOK, renderFiles(id, files, s.cfg.AllowUploads))
}

func (s *Server) handleFile(ctx context.Context, req *Request, log *zap.Logger) *Response {
	id, ok := idFromPath(req.Path, filePrefix)
	if !ok {
		return notFound()
	}
	f, err := s.catalog.File(ctx, id)
	if err != nil {
		return s.lookupFailure(err, log)
	}
	c, err := s.catalog.Resolve(ctx, f.DataRef)
	if err != nil {
		return s.lookupFailure(err, log)
	}
	log.Info("transfer started", zap.Int64("file", f.ID), zap.String("name", f.DisplayName), zap.Int64("size", c.Size))
	h := http.Header{}
	h.Set("Content-Type", contentTypeForName(f.DisplayName))
	return &Response{Status: http.StatusOK, Header: h, Body: c, ContentLength: c.Size}
}

func (s *Server) handleArchive(ctx context.Context, req *Request, log *zap.Logger) *Response {
	id, ok := idFromPath(req.Path, archPrefix)
	if !ok {
		return notFound()
	}
	folder, err := s.catalog.Folder(ctx, id)
	if err != nil {
		return s.lookupFailure(err, log)
	}
	name := fsutil.SanitizeZipBaseName(folder.DisplayName)
	h := http.Header{}
	h.Set("Content-Type", "application/zip")
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".zip"))
	log.Info("archive started", zap.Int64("folder", id))
	return &Response{
		Status:        http.StatusOK,
		Header:        h,
		Body:          archive.Stream(ctx, s.catalog, id, log),
		ContentLength: -1,
	}
}

func (s *Server) handleThumb(ctx context.Context, req *Request, log *zap.Logger) *Response {
	id, ok := idFromPath(req.Path, thumbPrefix)
	if !ok {
		return notFound()
	}
	f, err := s.catalog.File(ctx, id)
	if err != nil {
		return s.lookupFailure(err, log)
	}
	if !isImageExt(extOf(f.DisplayName)) {
		return notFound()
	}
	b, err := thumbnail(ctx, s.catalog, s.cfg.ThumbsDir(), f)
	if err != nil {
		log.Debug("thumbnail unavailable", zap.Int64("file", id), zap.Error(err))
		return notFound()
	}
	h := http.Header{}
	h.Set("Content-Type", "image/jpeg")
	h.Set("Cache-Control", "public, max-age=3600")
	return &Response{Status: http.StatusOK, Header: h, Body: bytes.NewReader(b), ContentLength: int64(len(b))}
}

// handleUpload stores the posted file and re-renders the folder page. Any
// upload failure is returned so the connection closes with no response.
func (s *Server) handleUpload(ctx context.Context, req *Request, log *zap.Logger) (*Response, error) {
	id, ok := idFromPath(req.Path, folderPrefix)
	if !ok {
		return notFound(), nil
	}
	if _, err := s.catalog.Folder(ctx, id); err != nil {
		return s.lookupFailure(err, log), nil
	}
	if _, err := s.uploads.Process(ctx, req.Header.Get("Content-Type"), req.Body, id); err != nil {
		return nil, fmt.Errorf("upload to folder %d: %w", id, err)
	}
	return s.folderPage(ctx, id, log), nil
}

func (s *Server) lookupFailure(err error, log *zap.Logger) *Response {
	if errors.Is(err, catalog.ErrNotFound) || errors.Is(err, catalog.ErrNotContent) {
		return notFound()
	}
	log.Error("catalog lookup", zap.Error(err))
	return textResponse(http.StatusInternalServerError, "INTERNAL ERROR")
}
