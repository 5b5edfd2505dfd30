package stream

import (
	"strings"
	"sync"
)

// Codec identifies the compression applied to a dump file.
type Codec string

const (
	CodecNone  Codec = "none"
	CodecGzip  Codec = "gzip"
	CodecBzip2 Codec = "bzip2"
	CodecXz    Codec = "xz"
	CodecZstd  Codec = "zstd"
)

// DetectCodec determines the codec from the file extension,
// case-insensitive. Anything without a recognized compression suffix is
// treated as plain text regardless of .sql/.csv.
func DetectCodec(path string) Codec {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		return CodecGzip
	case strings.HasSuffix(lower, ".bz2"):
		return CodecBzip2
	case strings.HasSuffix(lower, ".xz"):
		return CodecXz
	case strings.HasSuffix(lower, ".zst") || strings.HasSuffix(lower, ".zstd"):
		return CodecZstd
	default:
		return CodecNone
	}
}

// Capability probe: computed once per process, injectable for tests.
// All codecs ship with the binary today, but the probe keeps the
// "is this codec compiled in" question in one place a build tag or a
// test can flip.
var (
	capMu       sync.Mutex
	capOnce     sync.Once
	caps        map[Codec]bool
	capOverride map[Codec]bool
)

func probeCaps() {
	capOnce.Do(func() {
		caps = map[Codec]bool{
			CodecNone:  true,
			CodecGzip:  true,
			CodecBzip2: true,
			CodecXz:    true,
			CodecZstd:  true,
		}
	})
}

// CodecAvailable reports whether the codec can be decoded by this build.
func CodecAvailable(c Codec) bool {
	probeCaps()
	capMu.Lock()
	defer capMu.Unlock()
	if capOverride != nil {
		if v, ok := capOverride[c]; ok {
			return v
		}
	}
	return caps[c]
}

// SetCodecAvailable overrides the capability probe for one codec.
// Test hook; pair with ResetCapabilityProbe.
func SetCodecAvailable(c Codec, available bool) {
	probeCaps()
	capMu.Lock()
	defer capMu.Unlock()
	if capOverride == nil {
		capOverride = make(map[Codec]bool)
	}
	capOverride[c] = available
}

// ResetCapabilityProbe clears test overrides.
func ResetCapabilityProbe() {
	capMu.Lock()
	defer capMu.Unlock()
	capOverride = nil
}
