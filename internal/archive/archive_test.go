package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fileshare/internal/catalog"
)

type fakeSource struct {
	files   []catalog.File
	content map[string][]byte
	// failAfter makes the named blob's reader fail after n bytes.
	failAfter map[string]int
}

func (s *fakeSource) add(id int64, name string, b []byte) {
	path := "/blobs/" + name
	s.files = append(s.files, catalog.File{ID: id, FolderID: 3, DisplayName: name, DataRef: catalog.RawContentRef{Path: path}})
	if s.content == nil {
		s.content = map[string][]byte{}
	}
	s.content[path] = b
}

func (s *fakeSource) QueryFiles(ctx context.Context, folderID int64) ([]catalog.File, error) {
	return s.files, nil
}

func (s *fakeSource) Resolve(ctx context.Context, ref catalog.Ref) (*catalog.Content, error) {
	raw, ok := ref.(catalog.RawContentRef)
	if !ok {
		return nil, catalog.ErrNotContent
	}
	b, ok := s.content[raw.Path]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	var r io.Reader = bytes.NewReader(b)
	if n, ok := s.failAfter[raw.Path]; ok {
		r = io.MultiReader(io.LimitReader(r, int64(n)), errReader{})
	}
	return &catalog.Content{ReadCloser: io.NopCloser(r), Size: int64(len(b))}, nil
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("sdcard unmounted") }

func readZip(t *testing.T, b []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	require.NoError(t, err)
	out := map[string][]byte{}
	var names []string
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = data
		names = append(names, f.Name)
	}
	out["\x00order"] = []byte(joinNames(names))
	return out
}

func joinNames(names []string) string {
	var b bytes.Buffer
	for i, n := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(n)
	}
	return b.String()
}

func TestStream_TwoEntries(t *testing.T) {
	b1 := []byte("alpha contents")
	b2 := make([]byte, 300<<10)
	rand.New(rand.NewSource(1)).Read(b2)

	src := &fakeSource{}
	src.add(1, "A.txt", b1)
	src.add(2, "B.jpg", b2)

	rc := Stream(context.Background(), src, 3, nil)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	entries := readZip(t, got)
	assert.Equal(t, "A.txt,B.jpg", string(entries["\x00order"]))
	assert.Equal(t, b1, entries["A.txt"])
	assert.True(t, bytes.Equal(b2, entries["B.jpg"]))
	assert.Len(t, entries, 3)
}

func TestStream_EmptyFolderIsValidArchive(t *testing.T) {
	rc := Stream(context.Background(), &fakeSource{}, 3, nil)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(got), int64(len(got)))
	require.NoError(t, err)
	assert.Empty(t, zr.File)
}

func TestStream_ReadFailureTruncates(t *testing.T) {
	src := &fakeSource{}
	src.add(1, "A.txt", []byte("fine"))
	src.add(2, "B.bin", bytes.Repeat([]byte("x"), 64<<10))
	src.failAfter = map[string]int{"/blobs/B.bin": 1000}

	rc := Stream(context.Background(), src, 3, nil)
	got, err := io.ReadAll(rc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sdcard unmounted")

	_, err = zip.NewReader(bytes.NewReader(got), int64(len(got)))
	assert.Error(t, err, "a failed producer must not yield a well-formed archive")
}

func TestStream_MissingBlobAborts(t *testing.T) {
	src := &fakeSource{}
	src.add(1, "A.txt", []byte("fine"))
	src.files = append(src.files, catalog.File{ID: 2, DisplayName: "gone", DataRef: catalog.RawContentRef{Path: "/nope"}})

	_, err := io.ReadAll(Stream(context.Background(), src, 3, nil))
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestWrite_ReaderCloseStopsProducer(t *testing.T) {
	big := make([]byte, 4<<20)
	rand.New(rand.NewSource(2)).Read(big)
	src := &fakeSource{}
	src.add(1, "big.bin", big)

	p := newPipe(pipeChunks)
	errCh := make(chan error, 1)
	go func() { errCh <- Write(context.Background(), p, src, 3) }()

	_, err := io.ReadFull(p, make([]byte, 1024))
	require.NoError(t, err)
	require.NoError(t, p.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, io.ErrClosedPipe)
	case <-time.After(5 * time.Second):
		t.Fatal("producer still running after reader closed")
	}
}

func TestPipe_Backpressure(t *testing.T) {
	p := newPipe(2)
	_, err := p.Write([]byte("one"))
	require.NoError(t, err)
	_, err = p.Write([]byte("two"))
	require.NoError(t, err)

	wrote := make(chan struct{})
	go func() {
		_, _ = p.Write([]byte("three"))
		close(wrote)
	}()

	select {
	case <-wrote:
		t.Fatal("write into a full pipe did not block")
	case <-time.After(50 * time.Millisecond):
	}

	buf := make([]byte, 3)
	n, err := p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "one", string(buf[:n]))

	select {
	case <-wrote:
	case <-time.After(time.Second):
		t.Fatal("write stayed blocked after a read freed space")
	}

	p.CloseWithError(nil)
	rest, err := io.ReadAll(p)
	require.NoError(t, err)
	assert.Equal(t, "twothree", string(rest))
}

func TestPipe_ErrorAfterQueuedData(t *testing.T) {
	p := newPipe(4)
	_, _ = p.Write([]byte("partial"))
	boom := errors.New("boom")
	p.CloseWithError(boom)

	got, err := io.ReadAll(p)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "partial", string(got))
}
