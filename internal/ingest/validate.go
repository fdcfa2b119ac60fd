package ingest

import (
	"bytes"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"policyqa/internal/domain"
)

// SniffLen is the number of leading bytes inspected for content detection.
const SniffLen = 512

var extKinds = map[string]domain.Kind{
	".pdf": domain.KindPDF,
	".txt": domain.KindText,
}

// KindForFilename returns the accepted kind implied by the file extension.
func KindForFilename(name string) (domain.Kind, bool) {
	k, ok := extKinds[strings.ToLower(filepath.Ext(name))]
	return k, ok
}

// Validate checks an upload's name, size and leading bytes against the
// acceptance rules. size is the declared size or -1 when unknown; a nil head
// skips content sniffing.
func Validate(filename string, size, maxSize int64, head []byte) (domain.Kind, error) {
	kind, ok := KindForFilename(filename)
	if !ok {
		return "", &domain.ValidationError{
			Filename: filename,
			Reason:   domain.ReasonType,
			Message:  fmt.Sprintf("unsupported file type %q, only PDF and TXT files are accepted", filepath.Ext(filename)),
		}
	}
	if size > maxSize {
		return "", sizeError(filename, maxSize)
	}
	if size == 0 {
		return "", &domain.ValidationError{Filename: filename, Reason: domain.ReasonEmpty, Message: "file is empty"}
	}
	if head != nil && !contentMatches(kind, head) {
		return "", &domain.ValidationError{
			Filename: filename,
			Reason:   domain.ReasonType,
			Message:  fmt.Sprintf("content does not look like a %s file (detected %s)", kind, http.DetectContentType(head)),
		}
	}
	return kind, nil
}

func sizeError(filename string, maxSize int64) error {
	return &domain.ValidationError{
		Filename: filename,
		Reason:   domain.ReasonSize,
		Message:  "file exceeds the maximum size of " + humanSize(maxSize),
	}
}

func humanSize(n int64) string {
	if n >= 1<<20 && n%(1<<20) == 0 {
		return fmt.Sprintf("%d MB", n>>20)
	}
	return fmt.Sprintf("%d bytes", n)
}

func contentMatches(kind domain.Kind, head []byte) bool {
	if len(head) > SniffLen {
		head = head[:SniffLen]
	}
	switch kind {
	case domain.KindPDF:
		return bytes.HasPrefix(bytes.TrimLeft(head, "\x00\t\r\n "), []byte("%PDF-"))
	case domain.KindText:
		ct := http.DetectContentType(head)
		if strings.HasPrefix(ct, "text/plain") {
			return true
		}
		// DetectContentType can misread short UTF-8 text; accept valid UTF-8 without NULs.
		return !bytes.ContainsRune(head, 0) && utf8.Valid(trimPartialRune(head))
	}
	return false
}

// trimPartialRune drops a multi-byte rune cut off at the sniff boundary.
func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		r, size := utf8.DecodeLastRune(b)
		if r != utf8.RuneError || size != 1 {
			break
		}
		b = b[:len(b)-1]
	}
	return b
}
