// Package torznab reads and writes Torznab/Newznab documents: RSS result
// feeds with torznab:attr extensions, capability documents and error
// documents.
package torznab

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/slipstream/indexarr/internal/indexer/types"
)

const (
	NamespaceTorznab = "http://torznab.com/schemas/2015/feed"
	NamespaceAtom    = "http://www.w3.org/2005/Atom"

	MimeTorrent = "application/x-bittorrent"
	MimeNZB     = "application/x-nzb"
)

// Error codes defined by the Newznab API.
const (
	CodeIncorrectCredentials = 100
	CodeAccountSuspended     = 101
	CodeInsufficientPrivs    = 102
	CodeMissingParameter     = 200
	CodeIncorrectParameter   = 201
	CodeNoSuchFunction       = 202
	CodeFunctionUnavailable  = 203
	CodeNoSuchItem           = 300
	CodeRequestLimit         = 500
	CodeDownloadLimit        = 501
	CodeUnknown              = 900
)

// ErrNotFeed is returned when a document is neither a feed nor an error.
var ErrNotFeed = errors.New("document is not an rss feed")

// Error is an <error code="" description=""/> document.
type Error struct {
	Code        int
	Description string
}

func (e *Error) Error() string {
	return fmt.Sprintf("torznab error %d: %s", e.Code, e.Description)
}

// IsAuth reports whether the code concerns credentials or account state.
func (e *Error) IsAuth() bool {
	return e.Code >= 100 && e.Code < 200
}

// IsRateLimit reports whether the code is an API or download quota.
func (e *Error) IsRateLimit() bool {
	return e.Code == CodeRequestLimit || e.Code == CodeDownloadLimit
}

// Item is one decoded feed entry.
type Item struct {
	Title       string
	GUID        string
	Link        string
	Comments    string
	Description string
	PubDate     string
	Size        int64
	Categories  []string
	Enclosure   Enclosure
	Attrs       []Attr
}

// Enclosure is the RSS enclosure element.
type Enclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

// Attr is a torznab:attr or newznab:attr element.
type Attr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Attr returns the first value of the named attribute.
func (i Item) Attr(name string) string {
	for _, a := range i.Attrs {
		if strings.EqualFold(a.Name, name) {
			return a.Value
		}
	}
	return ""
}

// AttrValues returns every value of the named attribute, in document order.
func (i Item) AttrValues(name string) []string {
	var out []string
	for _, a := range i.Attrs {
		if strings.EqualFold(a.Name, name) {
			out = append(out, a.Value)
		}
	}
	return out
}

type decodeItem struct {
	Title       string    `xml:"title"`
	GUID        string    `xml:"guid"`
	Link        string    `xml:"link"`
	Comments    string    `xml:"comments"`
	Description string    `xml:"description"`
	PubDate     string    `xml:"pubDate"`
	Size        int64     `xml:"size"`
	Categories  []string  `xml:"category"`
	Enclosure   Enclosure `xml:"enclosure"`
	// unqualified so both torznab: and newznab: prefixes match
	Attrs []Attr `xml:"attr"`
}

type decodeFeed struct {
	Channel struct {
		Items []decodeItem `xml:"item"`
	} `xml:"channel"`
}

type decodeError struct {
	Code        int    `xml:"code,attr"`
	Description string `xml:"description,attr"`
}

// Decode parses a feed. An error document is returned as *Error.
func Decode(data []byte) ([]Item, error) {
	root, err := rootElement(data)
	if err != nil {
		return nil, err
	}

	switch root {
	case "error":
		var de decodeError
		if err := xml.Unmarshal(data, &de); err != nil {
			return nil, fmt.Errorf("decode error document: %w", err)
		}
		return nil, &Error{Code: de.Code, Description: de.Description}
	case "rss":
	default:
		return nil, fmt.Errorf("%w: root element <%s>", ErrNotFeed, root)
	}

	var feed decodeFeed
	if err := xml.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	items := make([]Item, 0, len(feed.Channel.Items))
	for _, di := range feed.Channel.Items {
		items = append(items, Item(di))
	}
	return items, nil
}

func rootElement(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", ErrNotFeed
			}
			return "", fmt.Errorf("%w: %w", ErrNotFeed, err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}

// Channel describes the feed's own channel element.
type Channel struct {
	Title       string
	Description string
	Link        string
}

type encodeFeed struct {
	XMLName      xml.Name      `xml:"rss"`
	Version      string        `xml:"version,attr"`
	XMLNSAtom    string        `xml:"xmlns:atom,attr"`
	XMLNSTorznab string        `xml:"xmlns:torznab,attr"`
	Channel      encodeChannel `xml:"channel"`
}

type encodeChannel struct {
	Title       string       `xml:"title"`
	Description string       `xml:"description"`
	Link        string       `xml:"link,omitempty"`
	Items       []encodeItem `xml:"item"`
}

type encodeItem struct {
	Title       string    `xml:"title"`
	GUID        string    `xml:"guid"`
	Link        string    `xml:"link"`
	Comments    string    `xml:"comments,omitempty"`
	PubDate     string    `xml:"pubDate"`
	Size        int64     `xml:"size"`
	Description string    `xml:"description,omitempty"`
	Categories  []int     `xml:"category"`
	Enclosure   Enclosure `xml:"enclosure"`
	Attrs       []Attr    `xml:"torznab:attr"`
}

// EncodeFeed writes releases as a Torznab RSS feed.
func EncodeFeed(w io.Writer, ch Channel, releases []types.ReleaseInfo) error {
	feed := encodeFeed{
		Version:      "2.0",
		XMLNSAtom:    NamespaceAtom,
		XMLNSTorznab: NamespaceTorznab,
		Channel: encodeChannel{
			Title:       ch.Title,
			Description: ch.Description,
			Link:        ch.Link,
			Items:       make([]encodeItem, 0, len(releases)),
		},
	}
	for i := range releases {
		feed.Channel.Items = append(feed.Channel.Items, toItem(&releases[i]))
	}
	return write(w, feed)
}

// EncodeError writes an error document.
func EncodeError(w io.Writer, code int, description string) error {
	doc := struct {
		XMLName     xml.Name `xml:"error"`
		Code        int      `xml:"code,attr"`
		Description string   `xml:"description,attr"`
	}{Code: code, Description: description}
	return write(w, doc)
}

func write(w io.Writer, v any) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func toItem(r *types.ReleaseInfo) encodeItem {
	mime := MimeTorrent
	if r.Protocol == types.ProtocolUsenet {
		mime = MimeNZB
	}

	item := encodeItem{
		Title:       r.Title,
		GUID:        r.GUID,
		Link:        r.DownloadURL,
		Comments:    r.InfoURL,
		PubDate:     r.PublishDate.UTC().Format(time.RFC1123Z),
		Size:        r.Size,
		Description: r.Description,
		Categories:  r.Categories,
		Enclosure:   Enclosure{URL: r.DownloadURL, Length: r.Size, Type: mime},
	}

	add := func(name, value string) {
		item.Attrs = append(item.Attrs, Attr{Name: name, Value: value})
	}
	for _, c := range r.Categories {
		add("category", strconv.Itoa(c))
	}
	add("size", strconv.FormatInt(r.Size, 10))
	if r.Files != nil {
		add("files", strconv.Itoa(*r.Files))
	}
	if r.Grabs != nil {
		add("grabs", strconv.Itoa(*r.Grabs))
	}
	if r.ImdbID != "" {
		add("imdbid", r.ImdbID)
	}
	if r.TvdbID != 0 {
		add("tvdbid", strconv.Itoa(r.TvdbID))
	}
	if r.Protocol == types.ProtocolUsenet {
		return item
	}

	if r.Seeders != nil {
		add("seeders", strconv.Itoa(*r.Seeders))
	}
	if r.Peers != nil {
		add("peers", strconv.Itoa(*r.Peers))
	}
	if r.InfoHash != "" {
		add("infohash", r.InfoHash)
	}
	if r.MagnetURL != "" {
		add("magneturl", r.MagnetURL)
	}
	if r.MinimumRatio != nil {
		add("minimumratio", strconv.FormatFloat(*r.MinimumRatio, 'f', -1, 64))
	}
	if r.MinimumSeedTime != nil {
		add("minimumseedtime", strconv.FormatInt(*r.MinimumSeedTime, 10))
	}
	add("downloadvolumefactor", strconv.FormatFloat(r.DownloadVolumeFactor, 'f', -1, 64))
	add("uploadvolumefactor", strconv.FormatFloat(r.UploadVolumeFactor, 'f', -1, 64))
	return item
}
