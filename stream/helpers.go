package stream

import (
	"math"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// DefaultChunkSize is the number of bytes written per loop iteration
	// when no speed limit is configured.
	DefaultChunkSize = 2048

	// DefaultDataName names in-memory payloads that were given no name.
	DefaultDataName = "file.txt"

	// OctetStream is the fallback MIME type.
	OctetStream = "application/octet-stream"

	ticksPerSecond = 10
	tickOverhead   = 150 * time.Microsecond
)

// clampRange bounds r to a resource of totalSize bytes. An end past the last
// byte is pulled back to it; anything else out of bounds, or an inverted
// range, selects the whole resource.
func clampRange(r byteRange, totalSize int64) byteRange {
	full := byteRange{start: 0, end: totalSize - 1}
	if totalSize <= 0 {
		return full
	}

	if r.end > totalSize-1 {
		r.end = totalSize - 1
	}
	if r.start < 0 || r.end < 0 || r.start > totalSize-1 || r.end < r.start {
		return full
	}

	return r
}

// throttle returns the chunk size and inter-chunk pause for a speed limit in
// KB/s. The pause assumes a fixed per-tick overhead instead of measuring
// write latency.
func throttle(speedLimitKBps int) (int, time.Duration) {
	chunk := int(math.Round(float64(speedLimitKBps) * 1024 / ticksPerSecond))
	if chunk < 1 {
		chunk = 1
	}
	pause := (time.Second - ticksPerSecond*tickOverhead) / ticksPerSecond

	return chunk, pause
}

// extensionOf returns the lowercased extension of name without the dot.
func extensionOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// mimeTypes covers download types the platform tables are often missing.
var mimeTypes = map[string]string{
	"txt":  "text/plain",
	"csv":  "text/csv",
	"html": "text/html",
	"htm":  "text/html",
	"json": "application/json",
	"xml":  "application/xml",
	"pdf":  "application/pdf",
	"zip":  "application/zip",
	"gz":   "application/gzip",
	"tar":  "application/x-tar",
	"7z":   "application/x-7z-compressed",
	"rar":  "application/vnd.rar",
	"exe":  "application/octet-stream",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"ppt":  "application/vnd.ms-powerpoint",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
	"svg":  "image/svg+xml",
	"mp3":  "audio/mpeg",
	"ogg":  "audio/ogg",
	"wav":  "audio/wav",
	"mp4":  "video/mp4",
	"mkv":  "video/x-matroska",
	"webm": "video/webm",
	"avi":  "video/x-msvideo",
	"iso":  "application/x-iso9660-image",
}

// mimeByExtension resolves ext to a MIME type, OctetStream if unknown.
func mimeByExtension(ext string) string {
	if ext == "" {
		return OctetStream
	}
	if t, ok := mimeTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension("." + ext); t != "" {
		return t
	}

	return OctetStream
}

// sniffMIME detects the MIME type of the leading bytes of a resource.
func sniffMIME(head []byte) string {
	if len(head) == 0 {
		return OctetStream
	}
	if mt := mimetype.Detect(head); mt != nil {
		return mt.String()
	}

	return OctetStream
}

// min returns the minimum of two numbers.
func min(a, b int64) int64 {
	if a < b {
		return a
	}

	return b
}
