// Package selector wraps goquery for the CSS-selector extraction that HTML
// response parsers and login flows perform.
package selector

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTML provides CSS selector-based extraction from an HTML document.
type HTML struct {
	doc *goquery.Document
}

// NewHTML parses raw HTML bytes.
func NewHTML(body []byte) (*HTML, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &HTML{doc: doc}, nil
}

// Document returns the underlying goquery document.
func (h *HTML) Document() *goquery.Document {
	return h.doc
}

// Select returns the first element matching the CSS selector.
func (h *HTML) Select(selector string) *goquery.Selection {
	return h.doc.Find(selector).First()
}

// SelectAll returns all elements matching the CSS selector.
func (h *HTML) SelectAll(selector string) *goquery.Selection {
	return h.doc.Find(selector)
}

// Rows returns each element matching selector as its own selection,
// skipping the first skip matches (header rows).
func (h *HTML) Rows(selector string, skip int) []*goquery.Selection {
	var rows []*goquery.Selection
	h.doc.Find(selector).Each(func(i int, row *goquery.Selection) {
		if i < skip {
			return
		}
		rows = append(rows, row)
	})
	return rows
}

// Exists returns true if at least one element matches the selector.
func (h *HTML) Exists(selector string) bool {
	return h.doc.Find(selector).Length() > 0
}

// FindText returns the trimmed text of the first matching element.
func (h *HTML) FindText(selector string) string {
	return Text(h.Select(selector))
}

// FindAttr returns an attribute of the first matching element.
func (h *HTML) FindAttr(selector, attr string) string {
	return Attr(h.Select(selector), attr)
}

// Text extracts trimmed text content from a selection.
func Text(sel *goquery.Selection) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}
	return strings.TrimSpace(sel.Text())
}

// Attr extracts a trimmed attribute value from a selection.
func Attr(sel *goquery.Selection, attr string) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}
	val, _ := sel.Attr(attr)
	return strings.TrimSpace(val)
}

// OwnText returns the first text node directly under the first element of
// sel, ignoring text inside child elements.
func OwnText(sel *goquery.Selection) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}
	text := sel.First().Contents().FilterFunction(func(_ int, s *goquery.Selection) bool {
		return goquery.NodeName(s) == "#text"
	}).First()
	return strings.TrimSpace(text.Text())
}

// FormInputs collects name/value pairs of the input elements inside the
// first element matching formSelector.
func (h *HTML) FormInputs(formSelector string) map[string]string {
	inputs := make(map[string]string)
	h.Select(formSelector).Find("input[name]").Each(func(_ int, in *goquery.Selection) {
		name, _ := in.Attr("name")
		val, _ := in.Attr("value")
		inputs[name] = val
	})
	return inputs
}
