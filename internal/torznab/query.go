package torznab

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/slipstream/indexarr/internal/indexer/types"
)

// FunctionCaps is the t= value of a capability request.
const FunctionCaps = "caps"

var functionKinds = map[string]types.SearchKind{
	"search":   types.SearchKindBasic,
	"tvsearch": types.SearchKindTV,
	"movie":    types.SearchKindMovie,
	"music":    types.SearchKindMusic,
	"audio":    types.SearchKindMusic,
	"book":     types.SearchKindBook,
}

// Query is a parsed API request.
type Query struct {
	Function string
	Criteria types.SearchCriteria
}

// ParseQuery reads the t= function and search parameters of an API request.
// Failures are returned as *Error with the matching Newznab code.
func ParseQuery(v url.Values) (Query, error) {
	fn := strings.ToLower(v.Get("t"))
	if fn == "" {
		return Query{}, &Error{Code: CodeMissingParameter, Description: "missing parameter t"}
	}
	if fn == FunctionCaps {
		return Query{Function: fn}, nil
	}
	kind, ok := functionKinds[fn]
	if !ok {
		return Query{}, &Error{Code: CodeNoSuchFunction, Description: "no such function " + fn}
	}

	p := intParser{values: v}
	c := types.SearchCriteria{
		Kind:    kind,
		Query:   v.Get("q"),
		ImdbID:  v.Get("imdbid"),
		Episode: v.Get("ep"),
		Artist:  v.Get("artist"),
		Album:   v.Get("album"),
		Author:  v.Get("author"),
		Title:   v.Get("title"),
		TmdbID:  p.int("tmdbid"),
		TvdbID:  p.int("tvdbid"),
		Year:    p.int("year"),
		Season:  p.int("season"),
		Limit:   p.int("limit"),
		Offset:  p.int("offset"),
	}
	if cats := v.Get("cat"); cats != "" {
		for _, s := range strings.Split(cats, ",") {
			if s = strings.TrimSpace(s); s == "" {
				continue
			}
			id, err := strconv.Atoi(s)
			if err != nil {
				p.bad = "cat"
				break
			}
			c.Categories = append(c.Categories, id)
		}
	}
	if p.bad != "" {
		return Query{}, &Error{Code: CodeIncorrectParameter, Description: "incorrect parameter " + p.bad}
	}
	return Query{Function: fn, Criteria: c}, nil
}

type intParser struct {
	values url.Values
	bad    string
}

func (p *intParser) int(name string) int {
	s := strings.TrimSpace(p.values.Get(name))
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil && p.bad == "" {
		p.bad = name
	}
	return n
}

// Function returns the t= value for kind.
func Function(kind types.SearchKind) string {
	switch kind {
	case types.SearchKindTV:
		return "tvsearch"
	case types.SearchKindMovie:
		return "movie"
	case types.SearchKindMusic:
		return "music"
	case types.SearchKindBook:
		return "book"
	default:
		return "search"
	}
}

// Values encodes c as API query parameters. siteCats are the category
// tokens to send as cat=.
func Values(c types.SearchCriteria, siteCats []string) url.Values {
	v := url.Values{}
	v.Set("t", Function(c.Kind))
	if term := c.SanitizedTerm(); term != "" {
		v.Set("q", term)
	}
	if len(siteCats) > 0 {
		v.Set("cat", strings.Join(siteCats, ","))
	}
	setString := func(k, s string) {
		if s != "" {
			v.Set(k, s)
		}
	}
	setInt := func(k string, n int) {
		if n > 0 {
			v.Set(k, strconv.Itoa(n))
		}
	}
	setString("imdbid", c.ImdbID)
	setString("ep", c.Episode)
	setString("artist", c.Artist)
	setString("album", c.Album)
	setString("author", c.Author)
	setString("title", c.Title)
	setInt("tmdbid", c.TmdbID)
	setInt("tvdbid", c.TvdbID)
	setInt("year", c.Year)
	setInt("season", c.Season)
	setInt("limit", c.Limit)
	setInt("offset", c.Offset)
	return v
}
