package torznab

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/slipstream/indexarr/internal/indexer/types"
)

type capsDoc struct {
	XMLName    xml.Name      `xml:"caps"`
	Server     capsServer    `xml:"server"`
	Limits     capsLimits    `xml:"limits"`
	Searching  capsSearching `xml:"searching"`
	Categories []capsCat     `xml:"categories>category"`
}

type capsServer struct {
	Title string `xml:"title,attr"`
}

type capsLimits struct {
	Default int `xml:"default,attr"`
	Max     int `xml:"max,attr"`
}

type capsSearching struct {
	Search      capsSearch `xml:"search"`
	TVSearch    capsSearch `xml:"tv-search"`
	MovieSearch capsSearch `xml:"movie-search"`
	MusicSearch capsSearch `xml:"music-search"`
	AudioSearch capsSearch `xml:"audio-search"`
	BookSearch  capsSearch `xml:"book-search"`
}

type capsSearch struct {
	Available       string `xml:"available,attr"`
	SupportedParams string `xml:"supportedParams,attr"`
}

type capsCat struct {
	ID      int       `xml:"id,attr"`
	Name    string    `xml:"name,attr"`
	Subcats []capsCat `xml:"subcat,omitempty"`
}

// EncodeCaps writes the capability document for an indexer.
func EncodeCaps(w io.Writer, serverTitle string, caps *types.Capabilities) error {
	limitsDefault, limitsMax := caps.LimitsDefault, caps.LimitsMax
	if limitsDefault == 0 {
		limitsDefault = 100
	}
	if limitsMax == 0 {
		limitsMax = limitsDefault
	}

	doc := capsDoc{
		Server: capsServer{Title: serverTitle},
		Limits: capsLimits{Default: limitsDefault, Max: limitsMax},
		Searching: capsSearching{
			Search:      search(caps.SearchParams),
			TVSearch:    search(caps.TVSearchParams),
			MovieSearch: search(caps.MovieSearchParams),
			MusicSearch: search(caps.MusicSearchParams),
			AudioSearch: search(caps.MusicSearchParams),
			BookSearch:  search(caps.BookSearchParams),
		},
	}
	if caps.Categories != nil {
		for _, parent := range caps.Categories.Categories() {
			cat := capsCat{ID: parent.ID, Name: parent.Name}
			for _, sub := range parent.SubCategories {
				cat.Subcats = append(cat.Subcats, capsCat{ID: sub.ID, Name: sub.Name})
			}
			doc.Categories = append(doc.Categories, cat)
		}
	}
	return write(w, doc)
}

func search(params []string) capsSearch {
	if len(params) == 0 {
		return capsSearch{Available: "no", SupportedParams: "q"}
	}
	return capsSearch{Available: "yes", SupportedParams: strings.Join(params, ",")}
}
