// Package source resolves the ways a register can arrive (a file path, a
// byte stream, an in-memory blob) into one buffer for the decoder.
package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"adregister/internal"
)

// DefaultMaxBytes bounds a single read when the caller gives no limit.
const DefaultMaxBytes = 64 << 20

type Source interface {
	Kind() internal.SourceKind
	// Ref names the source for logs and run records.
	Ref() string
	Open() (io.ReadCloser, error)
}

type pathSource struct {
	path string
}

// Path reads the register from the file system.
func Path(path string) Source {
	return pathSource{path: path}
}

func (s pathSource) Kind() internal.SourceKind { return internal.SourcePath }
func (s pathSource) Ref() string               { return s.path }

func (s pathSource) Open() (io.ReadCloser, error) {
	if strings.TrimSpace(s.path) == "" {
		return nil, internal.ErrNoSource
	}
	return os.Open(s.path)
}

type streamSource struct {
	name string
	r    io.Reader
}

// Stream reads the register from r, which is drained once.
func Stream(name string, r io.Reader) Source {
	return streamSource{name: name, r: r}
}

func (s streamSource) Kind() internal.SourceKind { return internal.SourceStream }
func (s streamSource) Ref() string               { return s.name }

func (s streamSource) Open() (io.ReadCloser, error) {
	if s.r == nil {
		return nil, internal.ErrNoSource
	}
	if rc, ok := s.r.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(s.r), nil
}

type bytesSource struct {
	name string
	blob []byte
}

// Bytes wraps a register already held in memory.
func Bytes(name string, blob []byte) Source {
	return bytesSource{name: name, blob: blob}
}

func (s bytesSource) Kind() internal.SourceKind { return internal.SourceBytes }
func (s bytesSource) Ref() string               { return s.name }

func (s bytesSource) Open() (io.ReadCloser, error) {
	if s.blob == nil {
		return nil, internal.ErrNoSource
	}
	return io.NopCloser(bytes.NewReader(s.blob)), nil
}

// Read drains src into a single buffer of at most max bytes (DefaultMaxBytes
// when max <= 0). All failures are *internal.SourceError.
func Read(src Source, max int64) ([]byte, error) {
	if src == nil {
		return nil, internal.NewSourceError("read", "", internal.ErrNoSource)
	}
	if max <= 0 {
		max = DefaultMaxBytes
	}

	rc, err := src.Open()
	if err != nil {
		if errors.Is(err, internal.ErrNoSource) {
			return nil, internal.NewSourceError("read", src.Ref(), err)
		}
		return nil, internal.NewSourceError("read", src.Ref(), fmt.Errorf("%w: %w", internal.ErrSourceUnreadable, err))
	}
	defer rc.Close()

	blob, err := io.ReadAll(io.LimitReader(rc, max+1))
	if err != nil {
		return nil, internal.NewSourceError("read", src.Ref(), fmt.Errorf("%w: %w", internal.ErrSourceUnreadable, err))
	}
	if int64(len(blob)) > max {
		return nil, internal.NewSourceError("read", src.Ref(), fmt.Errorf("%w: more than %d bytes", internal.ErrSourceTooLarge, max))
	}
	if len(blob) == 0 {
		return nil, internal.NewSourceError("read", src.Ref(), internal.ErrNotSpreadsheet)
	}
	return blob, nil
}
