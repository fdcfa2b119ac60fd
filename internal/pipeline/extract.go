package pipeline

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"policyqa/internal/domain"
	"policyqa/internal/knowledge"
)

// Extractor turns a stored upload into page text.
type Extractor interface {
	Extract(ctx context.Context, doc *domain.Document) ([]knowledge.Page, error)
}

// FileExtractor dispatches on document kind: PDFs go through pdfcpu, text
// files are read as UTF-8.
type FileExtractor struct {
	TempDir string // scratch space for pdfcpu output; os.TempDir when empty
}

func (e *FileExtractor) Extract(ctx context.Context, doc *domain.Document) ([]knowledge.Page, error) {
	switch doc.Kind {
	case domain.KindPDF:
		return e.extractPDF(ctx, doc.StoragePath)
	case domain.KindText:
		return extractText(doc.StoragePath)
	default:
		return nil, fmt.Errorf("unsupported document kind %q", doc.Kind)
	}
}

func extractText(path string) ([]knowledge.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("text file is not valid UTF-8")
	}
	return []knowledge.Page{{Number: 0, Text: string(data)}}, nil
}

var contentPageRe = regexp.MustCompile(`_(\d+)\.txt$`)

func pdfConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func (e *FileExtractor) extractPDF(ctx context.Context, path string) ([]knowledge.Page, error) {
	conf := pdfConfig()
	if err := api.ValidateFile(path, conf); err != nil {
		return nil, fmt.Errorf("invalid pdf: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outDir, err := os.MkdirTemp(e.TempDir, "policyqa-extract-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	if err := api.ExtractContentFile(path, outDir, nil, conf); err != nil {
		return nil, fmt.Errorf("extract pdf content: %w", err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, err
	}
	var pages []knowledge.Page
	for _, entry := range entries {
		m := contentPageRe.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		raw, err := os.ReadFile(filepath.Join(outDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		pages = append(pages, knowledge.Page{Number: n, Text: contentStreamText(string(raw))})
	}
	sort.Slice(pages, func(a, b int) bool { return pages[a].Number < pages[b].Number })
	return pages, nil
}

// PageCount returns the number of pages in a PDF's page tree, blank
// pages included.
func PageCount(path string) (int, error) {
	return api.PageCountFile(path)
}

// contentStreamText pulls the string operands of text-showing operators
// (Tj, TJ, ', ") out of a decoded page content stream. Line-moving
// operators become newlines.
func contentStreamText(stream string) string {
	var (
		out     strings.Builder
		pending []string
	)
	flush := func(sep string) {
		if len(pending) > 0 {
			out.WriteString(strings.Join(pending, ""))
			pending = pending[:0]
		}
		if sep != "" && out.Len() > 0 && !strings.HasSuffix(out.String(), sep) {
			out.WriteString(sep)
		}
	}

	for i := 0; i < len(stream); {
		c := stream[i]
		switch {
		case c == '(':
			s, next := readLiteral(stream, i)
			pending = append(pending, s)
			i = next
		case strings.HasPrefix(stream[i:], "<<"), strings.HasPrefix(stream[i:], ">>"):
			i += 2
		case c == '<':
			end := strings.IndexByte(stream[i:], '>')
			if end < 0 {
				return out.String()
			}
			pending = append(pending, decodeHexString(stream[i+1:i+end]))
			i += end + 1
		case c == '%':
			for i < len(stream) && stream[i] != '\n' && stream[i] != '\r' {
				i++
			}
		case isOperatorStart(c):
			j := i
			for j < len(stream) && isOperatorChar(stream[j]) {
				j++
			}
			switch op := stream[i:j]; op {
			case "Tj", "TJ":
				flush(" ")
			case "'", "\"":
				flush("\n")
			case "T*", "Td", "TD", "ET":
				flush("\n")
			default:
				// Operands of non-text operators are discarded.
				pending = pending[:0]
			}
			i = j
		default:
			i++
		}
	}
	flush("")
	return strings.TrimSpace(out.String())
}

func isOperatorStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '\'' || c == '"'
}

func isOperatorChar(c byte) bool {
	return isOperatorStart(c) || c == '*' || (c >= '0' && c <= '9')
}

// readLiteral parses a PDF literal string starting at s[start] == '('.
func readLiteral(s string, start int) (string, int) {
	var b strings.Builder
	depth := 0
	for i := start; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			if i+1 >= len(s) {
				return b.String(), len(s)
			}
			i++
			switch e := s[i]; e {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'b', 'f':
			case '\r', '\n':
				// line continuation
			default:
				if e >= '0' && e <= '7' {
					j := i
					for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
						j++
					}
					v, _ := strconv.ParseUint(s[i:j], 8, 8)
					b.WriteByte(byte(v))
					i = j - 1
				} else {
					b.WriteByte(e)
				}
			}
		case '(':
			if depth > 0 {
				b.WriteByte(c)
			}
			depth++
		case ')':
			depth--
			if depth == 0 {
				return b.String(), i + 1
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), len(s)
}

// decodeHexString keeps printable single-byte characters of a hex string.
// Multi-byte CID encodings are not mapped and yield nothing.
func decodeHexString(h string) string {
	h = strings.Join(strings.Fields(h), "")
	if len(h)%2 == 1 {
		h += "0"
	}
	raw, err := hex.DecodeString(h)
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, c := range raw {
		if c >= 0x20 && c < 0x7f {
			b.WriteByte(c)
		}
	}
	return b.String()
}
