package applications

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"
)

// Field is one entry of a remote indexer's dynamic settings list.
type Field struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value,omitempty"`
}

// RemoteIndexer is the indexer resource exchanged with an application.
type RemoteIndexer struct {
	ID                      int64   `json:"id,omitempty"`
	Name                    string  `json:"name"`
	Implementation          string  `json:"implementation"`
	ImplementationName      string  `json:"implementationName,omitempty"`
	ConfigContract          string  `json:"configContract"`
	Protocol                string  `json:"protocol,omitempty"`
	EnableRss               bool    `json:"enableRss"`
	EnableAutomaticSearch   bool    `json:"enableAutomaticSearch"`
	EnableInteractiveSearch bool    `json:"enableInteractiveSearch"`
	Priority                int     `json:"priority"`
	Tags                    []int64 `json:"tags"`
	Fields                  []Field `json:"fields"`
}

// Clone returns a deep copy so cached schemas are never mutated.
func (r RemoteIndexer) Clone() RemoteIndexer {
	out := r
	out.Tags = slices.Clone(r.Tags)
	out.Fields = make([]Field, len(r.Fields))
	for i, f := range r.Fields {
		out.Fields[i] = Field{Name: f.Name, Value: slices.Clone(f.Value)}
	}
	return out
}

func (r *RemoteIndexer) field(name string) *Field {
	for i := range r.Fields {
		if strings.EqualFold(r.Fields[i].Name, name) {
			return &r.Fields[i]
		}
	}
	return nil
}

// StringField returns the named field as a string. Missing or non-string
// values yield "".
func (r *RemoteIndexer) StringField(name string) string {
	f := r.field(name)
	if f == nil || len(f.Value) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(f.Value, &s); err != nil {
		return ""
	}
	return s
}

// IntsField returns the named field as an int list. Values sent as strings
// are converted.
func (r *RemoteIndexer) IntsField(name string) []int {
	f := r.field(name)
	if f == nil || len(f.Value) == 0 {
		return nil
	}
	var ints []int
	if err := json.Unmarshal(f.Value, &ints); err == nil {
		return ints
	}
	var strs []string
	if err := json.Unmarshal(f.Value, &strs); err != nil {
		return nil
	}
	for _, s := range strs {
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			ints = append(ints, v)
		}
	}
	return ints
}

// SetField sets the value of a field, appending it when the schema did not
// declare it.
func (r *RemoteIndexer) SetField(name string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if f := r.field(name); f != nil {
		f.Value = raw
		return
	}
	r.Fields = append(r.Fields, Field{Name: name, Value: raw})
}

// syncView is the part of a remote indexer that sync owns. Two indexers with
// equal views need no update.
type syncView struct {
	Name                    string
	Implementation          string
	EnableRss               bool
	EnableAutomaticSearch   bool
	EnableInteractiveSearch bool
	Priority                int
	BaseURL                 string
	APIPath                 string
	APIKey                  string
	Categories              []int
}

func (r *RemoteIndexer) view() syncView {
	cats := slices.Clone(r.IntsField(fieldCategories))
	slices.Sort(cats)
	if cats == nil {
		cats = []int{}
	}
	return syncView{
		Name:                    r.Name,
		Implementation:          r.Implementation,
		EnableRss:               r.EnableRss,
		EnableAutomaticSearch:   r.EnableAutomaticSearch,
		EnableInteractiveSearch: r.EnableInteractiveSearch,
		Priority:                r.Priority,
		BaseURL:                 strings.TrimSuffix(r.StringField(fieldBaseURL), "/"),
		APIPath:                 r.StringField(fieldAPIPath),
		APIKey:                  r.StringField(fieldAPIKey),
		Categories:              cats,
	}
}

// SystemStatus is the subset of /system/status used for version checks.
type SystemStatus struct {
	AppName string `json:"appName"`
	Version string `json:"version"`
}

// validationFailure is one element of a 400 response body.
type validationFailure struct {
	PropertyName string `json:"propertyName"`
	ErrorMessage string `json:"errorMessage"`
}
