package archive

import (
	"io"
	"sync"
)

// pipe is a bounded in-memory pipe: at most cap(ch) chunks sit between the
// writer and the reader. Write blocks while the queue is full, Read blocks
// while it is empty. Unlike io.Pipe the writer can run ahead of the reader
// by up to the queue's capacity.
type pipe struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once

	err error // set before ch is closed
	cur []byte
}

func newPipe(chunks int) *pipe {
	if chunks < 1 {
		chunks = 1
	}
	return &pipe{
		ch:   make(chan []byte, chunks),
		done: make(chan struct{}),
	}
}

// Write copies p into the queue. It fails with io.ErrClosedPipe once the
// reader has gone away.
func (p *pipe) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	chunk := make([]byte, len(b))
	copy(chunk, b)
	select {
	case p.ch <- chunk:
		return len(b), nil
	case <-p.done:
		return 0, io.ErrClosedPipe
	}
}

// CloseWithError ends the stream. A nil err makes the reader see io.EOF.
// Must be called exactly once, by the writer.
func (p *pipe) CloseWithError(err error) {
	p.err = err
	close(p.ch)
}

func (p *pipe) Read(b []byte) (int, error) {
	if len(p.cur) == 0 {
		chunk, ok := <-p.ch
		if !ok {
			if p.err != nil {
				return 0, p.err
			}
			return 0, io.EOF
		}
		p.cur = chunk
	}
	n := copy(b, p.cur)
	p.cur = p.cur[n:]
	return n, nil
}

// Close is called by the reader. Pending and future writes fail.
func (p *pipe) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
