package httpserver

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Response is written once and then the connection is closed. A negative
// ContentLength streams Body until EOF with no length header.
type Response struct {
	Status        int
	Header        http.Header
	Body          io.Reader
	ContentLength int64
}

func textResponse(status int, body string) *Response {
	h := http.Header{}
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return &Response{Status: status, Header: h, Body: strings.NewReader(body), ContentLength: int64(len(body))}
}

func htmlResponse(status int, body string) *Response {
	h := http.Header{}
	h.Set("Content-Type", "text/html; charset=utf-8")
	return &Response{Status: status, Header: h, Body: strings.NewReader(body), ContentLength: int64(len(body))}
}

func notFound() *Response {
	return textResponse(http.StatusNotFound, "NOT FOUND")
}

func redirect(location string) *Response {
	r := htmlResponse(http.StatusFound, pageHeader+"Success!"+pageFooter)
	r.Header.Set("Location", location)
	return r
}

// Write sends the status line, headers and body to w and flushes it.
// Body is closed if it is an io.Closer.
func (r *Response) Write(w *bufio.Writer) error {
	if c, ok := r.Body.(io.Closer); ok {
		defer c.Close()
	}
	text := http.StatusText(r.Status)
	if r.Status == http.StatusNotFound {
		text = "NOT FOUND"
	}
	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", r.Status, text); err != nil {
		return err
	}
	h := r.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	if r.ContentLength >= 0 {
		h.Set("Content-Length", strconv.FormatInt(r.ContentLength, 10))
	}
	h.Set("Connection", "close")
	if err := h.Write(w); err != nil {
		return err
	}
	if _, err := w.WriteString("\r\n"); err != nil {
		return err
	}
	if r.Body != nil {
		var err error
		if r.ContentLength >= 0 {
			_, err = io.CopyN(w, r.Body, r.ContentLength)
		} else {
			_, err = io.Copy(w, r.Body)
		}
		if err != nil {
			// The client gets what was produced so far.
			_ = w.Flush()
			return err
		}
	}
	return w.Flush()
}
