package categories

import (
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Mapping links one site-local category token to a standard category.
type Mapping struct {
	Token       string `json:"token"`
	Category    int    `json:"category"`
	Description string `json:"description,omitempty"`
}

// Map is the bidirectional relation between an indexer's own category tokens
// and the standard category tree.
//
// Mappings are registered while the owning adapter is constructed. After
// Freeze the map is read-only and safe for concurrent lookups.
type Map struct {
	mappings []Mapping
	byToken  map[string][]int
	byDesc   map[string][]int
	defaults []int
	frozen   bool
}

// NewMap creates an empty map. Tokens that match nothing resolve to defaults,
// or to Other when no defaults are given.
func NewMap(defaults ...int) *Map {
	if len(defaults) == 0 {
		defaults = []int{Other}
	}
	return &Map{
		byToken:  make(map[string][]int),
		byDesc:   make(map[string][]int),
		defaults: slices.Clone(defaults),
	}
}

// AddMapping registers token as meaning category. The description is the
// site's human-readable label for the token and is used for fallback lookups.
func (m *Map) AddMapping(token string, category int, description string) {
	if m.frozen {
		panic("categories: AddMapping called on a frozen map")
	}
	token = strings.TrimSpace(token)
	m.mappings = append(m.mappings, Mapping{Token: token, Category: category, Description: description})
	m.byToken[token] = appendUnique(m.byToken[token], category)
	if description != "" {
		key := strings.ToLower(strings.TrimSpace(description))
		m.byDesc[key] = appendUnique(m.byDesc[key], category)
	}
}

// Freeze marks the map read-only and returns it.
func (m *Map) Freeze() *Map {
	m.frozen = true
	return m
}

// MapToStandard resolves a site token to standard category ids. When the
// token is not registered it is tried as a description; when that fails too
// the map's defaults are returned. The result is never empty.
func (m *Map) MapToStandard(token string) []int {
	token = strings.TrimSpace(token)
	if cats, ok := m.byToken[token]; ok {
		return slices.Clone(cats)
	}
	return m.MapDescription(token)
}

// MapDescription resolves a human-readable category label, ignoring case.
func (m *Map) MapDescription(description string) []int {
	key := strings.ToLower(strings.TrimSpace(description))
	if cats, ok := m.byDesc[key]; ok && key != "" {
		return slices.Clone(cats)
	}
	return slices.Clone(m.defaults)
}

// MapTokens resolves several tokens and returns the sorted union.
func (m *Map) MapTokens(tokens ...string) []int {
	var out []int
	for _, t := range tokens {
		for _, c := range m.MapToStandard(t) {
			out = appendUnique(out, c)
		}
	}
	sort.Ints(out)
	return out
}

// MapToSite returns the site tokens that serve the requested standard
// categories. Requesting a parent category also selects tokens mapped to any
// of its children.
func (m *Map) MapToSite(standard []int) []string {
	var tokens []string
	for _, mp := range m.mappings {
		for _, want := range standard {
			if mp.Category == want || (ParentOf(mp.Category) == want && want != mp.Category) {
				if !slices.Contains(tokens, mp.Token) {
					tokens = append(tokens, mp.Token)
				}
				break
			}
		}
	}
	return tokens
}

// Supported returns every standard category this map can produce, including
// the parents of mapped subcategories, sorted ascending.
func (m *Map) Supported() []int {
	var out []int
	for _, mp := range m.mappings {
		out = appendUnique(out, mp.Category)
		out = appendUnique(out, ParentOf(mp.Category))
	}
	sort.Ints(out)
	return out
}

// SupportedCategories intersects Supported with filter.
func (m *Map) SupportedCategories(filter []int) []int {
	out := make([]int, 0)
	for _, c := range m.Supported() {
		if slices.Contains(filter, c) {
			out = append(out, c)
		}
	}
	return out
}

// Categories returns the supported categories as a tree of parents with
// their mapped children.
func (m *Map) Categories() []Category {
	var tree []Category
	index := make(map[int]int)
	for _, id := range m.Supported() {
		parent := ParentOf(id)
		if parent == id {
			if _, ok := index[id]; !ok {
				index[id] = len(tree)
				tree = append(tree, m.category(id))
			}
			continue
		}
		i, ok := index[parent]
		if !ok {
			index[parent] = len(tree)
			i = len(tree)
			tree = append(tree, m.category(parent))
		}
		tree[i].SubCategories = append(tree[i].SubCategories, m.category(id))
	}
	return tree
}

// Mappings returns a copy of the registered mappings in registration order.
func (m *Map) Mappings() []Mapping {
	return slices.Clone(m.mappings)
}

// Defaults returns the fallback categories.
func (m *Map) Defaults() []int {
	return slices.Clone(m.defaults)
}

func (m *Map) category(id int) Category {
	if c, ok := Lookup(id); ok {
		return c
	}
	c := Category{ID: id, Name: "Custom"}
	for _, mp := range m.mappings {
		if mp.Category == id && mp.Description != "" {
			c.Name = mp.Description
			break
		}
	}
	return c
}

func appendUnique(list []int, v int) []int {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

// NewStandardMap returns a frozen map whose tokens are the standard ids
// themselves, as served by Torznab and Newznab endpoints.
func NewStandardMap() *Map {
	m := NewMap(Other)
	ids := make([]int, 0, len(names))
	for id := range names {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		m.AddMapping(strconv.Itoa(id), id, names[id])
	}
	return m.Freeze()
}
