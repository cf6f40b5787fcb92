package httpserver

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"
)

// ErrParse marks a request that could not be decoded. The connection is
// dropped without a response.
var ErrParse = errors.New("httpserver: malformed request")

// Request is the decoded request line and header block. Body yields exactly
// ContentLength bytes and is read straight from the connection.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Proto    string
	Header   textproto.MIMEHeader

	ContentLength int64
	Body          io.Reader
}

// ReadRequest reads the request line and headers from br. The body is left
// unread.
func ReadRequest(br *bufio.Reader) (*Request, error) {
	tp := textproto.NewReader(br)
	line, err := tp.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("%w: request line: %w", ErrParse, err)
	}
	req, err := parseRequestLine(line)
	if err != nil {
		return nil, err
	}

	hdr, err := tp.ReadMIMEHeader()
	if err != nil {
		return nil, fmt.Errorf("%w: headers: %w", ErrParse, err)
	}
	req.Header = hdr

	if cl := hdr.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: bad Content-Length %q", ErrParse, cl)
		}
		req.ContentLength = n
	}
	req.Body = io.LimitReader(br, req.ContentLength)
	return req, nil
}

func parseRequestLine(line string) (*Request, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || len(fields) > 3 {
		return nil, fmt.Errorf("%w: request line %q", ErrParse, line)
	}
	method, target := fields[0], fields[1]
	if !validMethod(method) {
		return nil, fmt.Errorf("%w: method %q", ErrParse, method)
	}
	if !strings.HasPrefix(target, "/") {
		return nil, fmt.Errorf("%w: path %q", ErrParse, target)
	}
	req := &Request{Method: method, Proto: "HTTP/1.0"}
	if len(fields) == 3 {
		if !strings.HasPrefix(fields[2], "HTTP/") {
			return nil, fmt.Errorf("%w: protocol %q", ErrParse, fields[2])
		}
		req.Proto = fields[2]
	}
	req.Path, req.RawQuery, _ = strings.Cut(target, "?")
	return req, nil
}

func validMethod(m string) bool {
	if m == "" {
		return false
	}
	for i := 0; i < len(m); i++ {
		if c := m[i]; c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

// drainBody discards up to limit unread body bytes so closing the socket
// does not reset a response the client has not read yet.
func drainBody(r io.Reader, limit int64) {
	if r == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(r, limit))
}
