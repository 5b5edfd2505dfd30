// Package stream reads SQL dump files line by line over several
// compression codecs with byte-accurate, resumable positioning.
//
// Offsets are always relative to the decompressed stream, so a resume
// point taken from Tell() means the same thing for a plain .sql file and
// its .sql.bz2 twin. None of the compressed codecs expose random access;
// Seek degrades to a forward discard-read, and to a full replay from byte
// zero when seeking backwards (see ReplaySeek).
package stream

import (
	"bufio"
	"compress/bzip2"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"

	imperrors "github.com/w3spi5/bigdump-sub000/internal/errors"
)

// Buffer size bounds. Values outside are clamped, not rejected.
const (
	MinBufferSize = 64 * 1024
	MaxBufferSize = 256 * 1024

	// replayProgressEvery is how often the progress callback fires
	// during a replay-seek, in replayed bytes.
	replayProgressEvery = 4 << 20
)

// ProgressFunc reports replay-seek progress: bytes replayed so far and
// the target offset.
type ProgressFunc func(done, target int64)

// Reader is a line-oriented reader over a possibly-compressed dump file.
// A zero-value Reader is not usable; call NewReader.
type Reader struct {
	bufSize int

	path   string
	codec  Codec
	file   *os.File
	closer io.Closer // codec-level closer (pgzip, zstd); nil otherwise
	br     *bufio.Reader

	offset    int64 // decompressed bytes consumed so far
	drained   bool  // underlying stream exhausted
	eof       bool  // the EOF sentinel has been returned to the caller
	firstRead bool  // BOM is stripped only on the very first ReadLine
}

// NewReader creates a reader with the given buffer size, clamped to
// [MinBufferSize, MaxBufferSize].
func NewReader(bufSize int) *Reader {
	if bufSize < MinBufferSize {
		bufSize = MinBufferSize
	}
	if bufSize > MaxBufferSize {
		bufSize = MaxBufferSize
	}
	return &Reader{bufSize: bufSize}
}

// Open opens path, detects its codec from the extension and prepares the
// decompression pipeline. A missing file is a hard error. An unavailable
// codec fails fast with a descriptive error before any read.
func (r *Reader) Open(path string) error {
	codec := DetectCodec(path)
	if !CodecAvailable(codec) {
		return imperrors.CodecUnavailable(string(codec), path)
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return imperrors.FileNotFound(path, err)
		}
		return err
	}

	if err := r.initPipeline(f, codec); err != nil {
		f.Close()
		return imperrors.CorruptStream(path, 0, err)
	}

	r.path = path
	r.codec = codec
	r.file = f
	r.offset = 0
	r.drained = false
	r.eof = false
	r.firstRead = true
	return nil
}

// initPipeline wires file -> decompressor -> buffered line reader.
func (r *Reader) initPipeline(f *os.File, codec Codec) error {
	src := bufio.NewReaderSize(f, r.bufSize)

	var dec io.Reader
	r.closer = nil

	switch codec {
	case CodecGzip:
		workers := runtime.NumCPU()
		if workers > 16 {
			workers = 16
		}
		gz, err := pgzip.NewReaderN(src, r.bufSize, workers)
		if err != nil {
			return err
		}
		dec = gz
		r.closer = gz
	case CodecBzip2:
		dec = bzip2.NewReader(src)
	case CodecXz:
		xr, err := xz.NewReader(src)
		if err != nil {
			return err
		}
		dec = xr
	case CodecZstd:
		zr, err := zstd.NewReader(src, zstd.WithDecoderConcurrency(0))
		if err != nil {
			return err
		}
		dec = zr
		r.closer = zr.IOReadCloser()
	default:
		dec = src
	}

	r.br = bufio.NewReaderSize(dec, r.bufSize)
	return nil
}

// Codec returns the codec detected at Open.
func (r *Reader) Codec() Codec {
	return r.codec
}

// ReadLine returns the next line including its terminator, or io.EOF at
// end of stream. The UTF-8 byte-order mark is stripped from the first
// line of the first read only; its bytes still count toward Tell().
func (r *Reader) ReadLine() (string, error) {
	if r.br == nil {
		return "", os.ErrClosed
	}
	if r.drained {
		r.eof = true
		return "", io.EOF
	}

	line, err := r.br.ReadString('\n')
	if len(line) > 0 {
		r.offset += int64(len(line))
		if r.firstRead {
			r.firstRead = false
			line = strings.TrimPrefix(line, "\uFEFF")
		}
		// A final line without terminator still counts.
		if err == io.EOF {
			r.drained = true
			return line, nil
		}
		if err != nil {
			return "", imperrors.CorruptStream(r.path, r.offset, err)
		}
		return line, nil
	}

	if err == io.EOF {
		r.drained = true
		r.eof = true
		return "", io.EOF
	}
	if err != nil {
		return "", imperrors.CorruptStream(r.path, r.offset, err)
	}
	return "", nil
}

// Tell returns decompressed bytes consumed so far.
func (r *Reader) Tell() int64 {
	return r.offset
}

// EOF reports whether a ReadLine has returned the end-of-stream sentinel.
func (r *Reader) EOF() bool {
	return r.eof
}

// Seek positions the reader so the next ReadLine returns exactly the
// content a fresh reader would return after consuming target bytes.
//
// Plain files and forward moves discard-read from the current position.
// A backward move on a compressed stream has no random access to lean on
// and falls back to ReplaySeek, which is O(target): callers seeking a
// large resumed offset on bzip2/xz should pass onProgress to surface the
// cost.
func (r *Reader) Seek(target int64, onProgress ProgressFunc) error {
	if r.br == nil {
		return os.ErrClosed
	}
	if target < 0 {
		target = 0
	}
	// Resuming past byte zero means the BOM was consumed by an earlier
	// invocation; never strip one mid-stream.
	if target > 0 {
		r.firstRead = false
	}

	if target < r.offset {
		return r.ReplaySeek(target, onProgress)
	}
	return r.discardTo(target, onProgress)
}

// ReplaySeek reopens the stream from byte zero and re-reads forward to
// target. This is the named, explicitly O(offset) resume path for codecs
// without random access.
func (r *Reader) ReplaySeek(target int64, onProgress ProgressFunc) error {
	path := r.path
	if err := r.Close(); err != nil {
		return err
	}
	if err := r.Open(path); err != nil {
		return err
	}
	// The stream restarts at byte zero, but the session already consumed
	// the BOM on its first invocation; never strip it twice.
	if target > 0 {
		r.firstRead = false
	}
	return r.discardTo(target, onProgress)
}

// discardTo reads and discards decompressed bytes until offset == target.
func (r *Reader) discardTo(target int64, onProgress ProgressFunc) error {
	var sinceProgress int64
	for r.offset < target {
		chunk := target - r.offset
		if chunk > replayProgressEvery {
			chunk = replayProgressEvery
		}
		n, err := io.CopyN(io.Discard, r.br, chunk)
		r.offset += n
		sinceProgress += n
		if err == io.EOF {
			r.drained = true
			break
		}
		if err != nil {
			return imperrors.CorruptStream(r.path, r.offset, err)
		}
		if onProgress != nil && sinceProgress >= replayProgressEvery {
			onProgress(r.offset, target)
			sinceProgress = 0
		}
	}
	if onProgress != nil {
		onProgress(r.offset, target)
	}
	return nil
}

// Close releases the underlying handle and resets all mode flags so a
// reused instance can Open a different file.
func (r *Reader) Close() error {
	var err error
	if r.closer != nil {
		err = r.closer.Close()
		r.closer = nil
	}
	if r.file != nil {
		if cerr := r.file.Close(); err == nil {
			err = cerr
		}
		r.file = nil
	}
	r.br = nil
	r.codec = ""
	r.offset = 0
	r.drained = false
	r.eof = false
	r.firstRead = false
	return err
}
