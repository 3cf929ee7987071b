package service

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"

	"github.com/yezidelongshao/fastGPTProject/internal/domain"
)

// FileType constants
const (
	FileTypeTXT  = "txt"
	FileTypeMD   = "md"
	FileTypeCSV  = "csv"
	FileTypeHTML = "html"
)

// DetectFileType detects file type from filename
func DetectFileType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".md", ".markdown":
		return FileTypeMD
	case ".txt":
		return FileTypeTXT
	case ".csv":
		return FileTypeCSV
	case ".html", ".htm":
		return FileTypeHTML
	case "":
		return ""
	default:
		return ext[1:] // remove leading dot
	}
}

// IsSupported checks if text can be extracted from the file type
func IsSupported(fileType string) bool {
	switch fileType {
	case FileTypeTXT, FileTypeMD, FileTypeCSV, FileTypeHTML:
		return true
	}
	return false
}

// ExtractText reads the raw text of a document, NFC normalised
func ExtractText(fileType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}

	var text string
	switch fileType {
	case FileTypeTXT, FileTypeMD, FileTypeCSV:
		text = string(data)
	case FileTypeHTML:
		text, err = htmlText(data)
		if err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("%w: unsupported file type %q", domain.ErrInvalidRequest, fileType)
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	return norm.NFC.String(text), nil
}

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "pre": true, "blockquote": true,
}

// htmlText keeps the visible text of an HTML page, one line per block element
func htmlText(data []byte) (string, error) {
	z := html.NewTokenizer(bytes.NewReader(data))
	var b strings.Builder
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return strings.TrimSpace(b.String()), nil
			}
			return "", fmt.Errorf("parse html: %w", z.Err())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				skip++
			}
			if blockTags[tag] {
				b.WriteString("\n")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
			if blockTags[tag] {
				b.WriteString("\n")
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			if t := strings.TrimSpace(string(z.Text())); t != "" {
				b.WriteString(t)
				b.WriteString(" ")
			}
		}
	}
}
