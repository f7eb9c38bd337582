package splitter

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/lu4p/cat"
)

// ErrUnsupportedFormat marks files the loader cannot turn into text. Callers
// skip the file and move on; nothing downstream is touched.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// section is a unit of extracted text. Page is 1-based for paged formats and
// zero everywhere else.
type section struct {
	text string
	page int
}

func loadSections(path string) ([]section, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".pdf":
		return loadPDF(path)
	case ".docx":
		return loadDOCX(path)
	case ".odt", ".rtf":
		text, err := cat.File(path)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", ext, err)
		}
		return []section{{text: text}}, nil
	case ".txt", ".md", ".csv":
		return loadPlain(path)
	case ".html", ".htm":
		return loadHTML(path)
	default:
		// Unknown extension: accept it if the bytes are valid UTF-8 text.
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		if !utf8.Valid(content) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
		}
		return []section{{text: string(content)}}, nil
	}
}

func loadPDF(path string) ([]section, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	defer f.Close()

	var sections []section
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		text = normalizePDFText(text)
		if text == "" {
			continue
		}
		sections = append(sections, section{text: text, page: i})
	}
	return sections, nil
}

// wtTag matches <w:t> text nodes in OOXML, attributes included. Extracting
// the nodes directly survives paragraph and run attributes that trip up
// whole-paragraph regexes.
var wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

func loadDOCX(path string) ([]section, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract DOCX: not a zip: %w", err)
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("extract DOCX: open %s: %w", f.Name, err)
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			rc.Close()
			return nil, fmt.Errorf("extract DOCX: read %s: %w", f.Name, err)
		}
		rc.Close()
		docXML = buf.Bytes()
		break
	}
	if docXML == nil {
		return nil, fmt.Errorf("extract DOCX: word/document.xml not found")
	}

	parts := wtTag.FindAllStringSubmatch(string(docXML), -1)
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(' ')
		}
		// Text nodes carry XML entities (&amp;, &lt;) that must not reach
		// stored chunk content.
		b.WriteString(strings.TrimSpace(html.UnescapeString(p[1])))
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return nil, nil
	}
	return []section{{text: text}}, nil
}

func loadPlain(path string) ([]section, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: not valid UTF-8", ErrUnsupportedFormat)
	}
	return []section{{text: string(content)}}, nil
}

var spaceRuns = regexp.MustCompile(`\s+`)

func loadHTML(path string) ([]section, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	text := doc.Find("body").Text()
	text = spaceRuns.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	return []section{{text: text}}, nil
}
