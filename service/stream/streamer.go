package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strconv"

	"github.com/tweag/asset-relay/service/status"
)

const DefaultBufferSize = 32 << 10

// State tracks how far a response got.
// Idle -> HeadersSent -> {BodyComplete | Aborted}
type State int

const (
	// Nothing was written. Errors in this state can still become a regular error response.
	Idle State = iota
	HeadersSent
	BodyComplete
	// The status line was sent but the body is incomplete.
	// The connection must be dropped.
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case HeadersSent:
		return "headers_sent"
	case BodyComplete:
		return "body_complete"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// Result describes what Serve wrote.
type Result struct {
	State  State
	Status int
	// Bytes is the number of body bytes written.
	Bytes int64
}

// Streamer writes files as HTTP responses, honoring single byte ranges.
type Streamer struct {
	BufferSize int
}

func New() *Streamer {
	return &Streamer{BufferSize: DefaultBufferSize}
}

// Serve streams the file at filePath.
// Errors returned with State Idle are classified status errors and nothing was written.
// Errors returned with State Aborted happened mid-stream.
func (s *Streamer) Serve(ctx context.Context, w http.ResponseWriter, filePath, mediaType, rangeHeader string) (Result, error) {
	f, err := os.Open(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return Result{}, status.NotFound("not found")
	} else if err != nil {
		return Result{}, status.Internal(fmt.Errorf("opening %s: %w", filePath, err))
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return Result{}, status.Internal(fmt.Errorf("stat %s: %w", filePath, err))
	}
	if !info.Mode().IsRegular() {
		return Result{}, status.NotFound("not found")
	}
	return s.ServeContent(ctx, w, f, info.Size(), mediaType, rangeHeader)
}

// ServeContent is Serve for an already opened source of size bytes.
func (s *Streamer) ServeContent(ctx context.Context, w http.ResponseWriter, content io.ReaderAt, size int64, mediaType, rangeHeader string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	header := w.Header()
	header.Set("Accept-Ranges", "bytes")

	if rangeHeader == "" {
		header.Set("Content-Type", mediaType)
		header.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		return s.copy(ctx, w, io.NewSectionReader(content, 0, size), size, Result{State: HeadersSent, Status: http.StatusOK})
	}

	r, err := ParseRange(rangeHeader, size)
	if err != nil {
		header.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		header.Set("Content-Length", "0")
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return Result{State: BodyComplete, Status: http.StatusRequestedRangeNotSatisfiable}, nil
	}
	header.Set("Content-Type", mediaType)
	header.Set("Content-Range", r.ContentRange())
	header.Set("Content-Length", strconv.FormatInt(r.Length(), 10))
	w.WriteHeader(http.StatusPartialContent)
	return s.copy(ctx, w, io.NewSectionReader(content, r.Start, r.Length()), r.Length(), Result{State: HeadersSent, Status: http.StatusPartialContent})
}

// copy writes exactly want bytes or aborts.
// No write happens after the first error.
func (s *Streamer) copy(ctx context.Context, w io.Writer, src io.Reader, want int64, res Result) (Result, error) {
	size := s.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	buf := make([]byte, min(int64(size), max(want, 1)))
	abort := func(err error) (Result, error) {
		res.State = Aborted
		return res, err
	}
	for res.Bytes < want {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			written, err := w.Write(buf[:n])
			res.Bytes += int64(written)
			if err != nil {
				return abort(err)
			}
			if written != n {
				return abort(io.ErrShortWrite)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return abort(readErr)
		}
	}
	if res.Bytes != want {
		// the file shrank while streaming
		return abort(io.ErrUnexpectedEOF)
	}
	res.State = BodyComplete
	return res, nil
}
