package httpserver

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"

	// decoders
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"fileshare/internal/catalog"
)

const thumbMax = 256

// thumbnail returns the JPEG thumbnail of an image file, generating and
// caching it under dir on first request. The cache key includes the blob
// size so a reused id with new content is not served stale.
func thumbnail(ctx context.Context, gw catalog.Gateway, dir string, f catalog.File) ([]byte, error) {
	c, err := gw.Resolve(ctx, f.DataRef)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	key := fmt.Sprintf("%d-%d.jpg", f.ID, c.Size)
	if b, err := os.ReadFile(filepath.Join(dir, key)); err == nil {
		return b, nil
	}
	b, err := makeThumb(c, thumbMax)
	if err != nil {
		return nil, err
	}
	_ = writeCache(dir, key, b)
	return b, nil
}

// writeCache publishes b as dir/key with a rename, so a concurrent reader
// sees either no file or the whole JPEG.
func writeCache(dir, key string, b []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+key+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, filepath.Join(dir, key)); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func makeThumb(r io.Reader, max int) ([]byte, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, os.ErrInvalid
	}
	if max <= 0 {
		max = thumbMax
	}

	nw, nh := w, h
	if w > h {
		if w > max {
			nw = max
			nh = int(float64(h) * (float64(max) / float64(w)))
		}
	} else {
		if h > max {
			nh = max
			nw = int(float64(w) * (float64(max) / float64(h)))
		}
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var out bytes.Buffer
	enc := jpeg.Options{Quality: 82}
	if err := jpeg.Encode(&out, dst, &enc); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
