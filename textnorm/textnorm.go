// Package textnorm converts raw message body parts into plain text suitable
// for pattern matching and for document rendering.
package textnorm

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jaytaylor/html2text"
	"golang.org/x/text/encoding/charmap"

	"github.com/pmehra/invoice-harvest/model"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	blankLineRun  = regexp.MustCompile(`\n\s*\n`)
)

// Normalize selects the best-available body part and returns two forms of
// its text: a display form that preserves line breaks for rendering, and a
// search form with whitespace collapsed for pattern matching. Plain text is
// preferred; the first HTML part is converted otherwise. Both forms are
// empty when the message carries no usable text part.
func Normalize(bodies []model.BodyPart) (display, search string) {
	var plain, html string
	for _, part := range bodies {
		switch {
		case plain == "" && part.MediaType == "text/plain":
			plain = DecodeText(part.Content)
		case html == "" && part.MediaType == "text/html":
			html = DecodeText(part.Content)
		}
	}

	switch {
	case plain != "":
		display = plain
	case html != "":
		display = HTMLToText(html)
	default:
		return "", ""
	}

	return display, CollapseWhitespace(display)
}

// DecodeText interprets raw part content as UTF-8, falling back to
// ISO-8859-1 when the bytes do not form valid UTF-8. Undecodable bytes
// become replacement characters rather than aborting.
func DecodeText(content []byte) string {
	if len(content) == 0 {
		return ""
	}
	if utf8.Valid(content) {
		return string(content)
	}

	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(content)
	if err != nil {
		return strings.ToValidUTF8(string(content), "�")
	}
	return string(decoded)
}

// HTMLToText converts HTML body content to clean plain text, dropping
// links, images, tables, and emphasis markup without wrapping lines.
func HTMLToText(html string) string {
	if html == "" {
		return ""
	}

	text, err := html2text.FromString(html, html2text.Options{
		OmitLinks: true,
		TextOnly:  true,
	})
	if err != nil {
		return ""
	}

	// Squash runs of blank lines left behind by block elements.
	text = blankLineRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// CollapseWhitespace reduces every whitespace run to a single space. This is
// the search form used for pattern matching.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
