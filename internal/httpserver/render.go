package httpserver

import (
	"html"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"fileshare/internal/catalog"
)

const (
	pageHeader = "<html><head><title>File Share</title></head><body>"
	pageFooter = "</body></html>"
)

// Display names come from uploads, so they are rendered through a policy
// that allows no markup at all. Escaping first keeps brackets in a name as
// text instead of letting the policy strip them as tags.
var namePolicy = bluemonday.StrictPolicy()

func displayText(name string) string {
	return namePolicy.Sanitize(html.EscapeString(name))
}

func renderFolders(folders []catalog.Folder) string {
	var b strings.Builder
	b.WriteString(pageHeader)
	for _, f := range folders {
		b.WriteString(`<a href="/folder/`)
		b.WriteString(strconv.FormatInt(f.ID, 10))
		b.WriteString(`">`)
		b.WriteString(displayText(f.DisplayName))
		b.WriteString("</a><br/>")
	}
	b.WriteString(pageFooter)
	return b.String()
}

// renderFiles is the folder page: one link per file, the archive button and,
// when uploads are on, the upload form.
func renderFiles(folderID int64, files []catalog.File, uploads bool) string {
	id := strconv.FormatInt(folderID, 10)
	var b strings.Builder
	b.WriteString(pageHeader)
	for _, f := range files {
		fid := strconv.FormatInt(f.ID, 10)
		if isImageExt(extOf(f.DisplayName)) {
			b.WriteString(`<img src="/thumb/` + fid + `" alt="" height="64"/> `)
		}
		b.WriteString(`<a href="/file/`)
		b.WriteString(fid)
		b.WriteString("/")
		b.WriteString(html.EscapeString(url.PathEscape(f.DisplayName)))
		b.WriteString(`">`)
		b.WriteString(displayText(f.DisplayName))
		b.WriteString("</a><br/>")
	}
	b.WriteString(`<form method="GET" action="/archive/` + id + `">`)
	b.WriteString(`<input type="submit" value="Download all"/></form>`)
	if uploads {
		b.WriteString(`<form method="POST" action="/folder/` + id + `" enctype="multipart/form-data">`)
		b.WriteString(`<input type="file" name="file" size="40"/> `)
		b.WriteString(`<input type="submit" value="Upload"/></form>`)
	}
	b.WriteString(pageFooter)
	return b.String()
}

const loginForm = `<form method="POST" action="/login" enctype="application/x-www-form-urlencoded">` +
	`<input type="password" name="password"/>` +
	`<input type="submit" value="Login"/></form>`

func renderLogin(failed bool) string {
	msg := "<p>Password Required</p>"
	if failed {
		msg = "<p>Login failed.</p>"
	}
	return pageHeader + msg + loginForm + pageFooter
}

func extOf(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	default:
		return false
	}
}

// contentTypeForName only distinguishes images; everything else is served
// as opaque bytes.
func contentTypeForName(name string) string {
	switch extOf(name) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
