package chunk

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const (
	suffixAtomic = "atomic"
	suffixChunk  = "chunk"
)

// Piece is one contiguous byte range of a file, ready to be posted.
type Piece struct {
	Index int    // 0 for an atomic piece, 1-based otherwise
	Name  string // chunk name carrying the label and the original extension
	Data  []byte
}

// Split cuts data into pieces following the split policy: a file smaller than
// maxAtomic is a single ".0.atomic" piece, anything else becomes
// ceil(len/chunkSize) ".{i}.chunk" pieces. Pieces share data's backing array.
func Split(data []byte, label, ext string, chunkSize, maxAtomic int64) []Piece {
	size := int64(len(data))
	if size < maxAtomic {
		return []Piece{{Index: 0, Name: Name(label, ext, 0, true), Data: data}}
	}

	count := (size + chunkSize - 1) / chunkSize
	pieces := make([]Piece, 0, count)
	for i := int64(0); i < count; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, size)
		idx := int(i) + 1
		pieces = append(pieces, Piece{Index: idx, Name: Name(label, ext, idx, false), Data: data[start:end]})
	}
	return pieces
}

// Name builds a chunk name: {label}{ext}.{index}.{atomic|chunk}.
func Name(label, ext string, index int, atomic bool) string {
	kind := suffixChunk
	if atomic {
		kind = suffixAtomic
	}
	return fmt.Sprintf("%s%s.%d.%s", label, ext, index, kind)
}

// Extension recovers the original extension (without the dot) from a chunk
// name. Names without an extension yield "".
func Extension(name string) string {
	base := trimSuffix(name)
	_, ext, found := strings.Cut(base, ".")
	if !found {
		return ""
	}
	return ext
}

// trimSuffix removes the trailing ".{index}.{atomic|chunk}" from a chunk name.
func trimSuffix(name string) string {
	rest, kind := splitLast(name)
	if kind != suffixAtomic && kind != suffixChunk {
		return name
	}
	base, index := splitLast(rest)
	if _, err := strconv.Atoi(index); err != nil {
		return name
	}
	return base
}

func splitLast(s string) (string, string) {
	i := strings.LastIndexByte(s, '.')
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}

// FileExtension returns the extension of a file name including the dot, as
// embedded in chunk names.
func FileExtension(filename string) string {
	return path.Ext(filename)
}

var labelSeq atomic.Uint64

// Label returns a timestamp label DD:MM:YYYY:HH:MM:SS:mmm-seq:+HH:MM. The
// process-wide sequence keeps labels taken in the same millisecond distinct.
func Label(t time.Time) string {
	seq := labelSeq.Add(1)
	return fmt.Sprintf("%s:%03d-%d:%s",
		t.Format("02:01:2006:15:04:05"),
		t.Nanosecond()/int(time.Millisecond),
		seq,
		t.Format("-07:00"))
}
