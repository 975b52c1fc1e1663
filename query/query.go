// Package query converts between structured collection options (page, limit,
// sort and filters) and URL query strings.
//
// Two variants exist. The paged variant reserves the page, limit and sort keys
// and applies defaults (page 1, limit 10). The filter-only variant used by
// plain collections treats every key as a filter.
//
//	opts := query.Decode("/users?page=2&sort=name,-age&tag[]=admin")
//	// opts.Page == 2, opts.Limit == 10
//	// opts.Sort == []Sort{{"name", true}, {"age", false}}
//	// opts.Filters == []Filter{{"tag", true, "admin"}}
//
//	query.Encode(opts) // "page=2&limit=10&sort=name,-age&tag[]=admin"
package query

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	// DefaultPage is the page assumed when a paged URL carries none.
	DefaultPage = 1
	// DefaultLimit is the page size assumed when a paged URL carries none.
	DefaultLimit = 10
)

// Reserved keys of the paged variant.
const (
	KeyPage  = "page"
	KeyLimit = "limit"
	KeySort  = "sort"
)

// Sort orders a collection by one field. Direction true means ascending.
type Sort struct {
	Field     string `json:"field" yaml:"field"`
	Direction bool   `json:"direction" yaml:"direction"`
}

// Filter restricts a collection by one field value. Multiple marks filters
// that were bound to an array-style parameter.
type Filter struct {
	Field    string `json:"field" yaml:"field"`
	Multiple bool   `json:"multiple" yaml:"multiple"`
	Value    string `json:"value" yaml:"value"`
}

// Options is the query state of a collection or page resource.
type Options struct {
	Page    int      `json:"page" yaml:"page"`
	Limit   int      `json:"limit" yaml:"limit"`
	Sort    []Sort   `json:"sort" yaml:"sort"`
	Filters []Filter `json:"filters" yaml:"filters"`
}

// Defaults returns empty paged options.
func Defaults() Options {
	return Options{
		Page:    DefaultPage,
		Limit:   DefaultLimit,
		Sort:    []Sort{},
		Filters: []Filter{},
	}
}

// Codec is one of the two codec variants.
type Codec interface {
	Decode(rawURL string) Options
	Encode(opts Options) string
}

// Paged is the codec for pageable resources.
var Paged Codec = pagedCodec{}

// FilterOnly is the codec for plain collections: no reserved keys, no
// defaults, only filters.
var FilterOnly Codec = filterCodec{}

type pagedCodec struct{}

func (pagedCodec) Decode(rawURL string) Options { return Decode(rawURL) }
func (pagedCodec) Encode(opts Options) string   { return Encode(opts) }

type filterCodec struct{}

func (filterCodec) Decode(rawURL string) Options {
	return Options{Sort: []Sort{}, Filters: DecodeFilters(rawURL)}
}

func (filterCodec) Encode(opts Options) string { return EncodeFilters(opts.Filters) }

// Decode parses the query string of rawURL using the paged variant.
// Malformed or non-positive page and limit values fall back to the defaults.
func Decode(rawURL string) Options {
	opts := Defaults()
	params := parse(rawQuery(rawURL))

	for _, p := range params {
		switch p.key {
		case KeyPage:
			if n, err := strconv.Atoi(p.last()); err == nil && n > 0 {
				opts.Page = n
			} else {
				opts.Page = DefaultPage
			}
		case KeyLimit:
			if n, err := strconv.Atoi(p.last()); err == nil && n > 0 {
				opts.Limit = n
			} else {
				opts.Limit = DefaultLimit
			}
		case KeySort:
			opts.Sort = decodeSort(p.last())
		default:
			opts.Filters = append(opts.Filters, p.filters()...)
		}
	}
	return opts
}

// DecodeFilters parses every key of the query string of rawURL as a filter.
func DecodeFilters(rawURL string) []Filter {
	filters := []Filter{}
	for _, p := range parse(rawQuery(rawURL)) {
		filters = append(filters, p.filters()...)
	}
	return filters
}

// Encode serializes opts in the order page, limit, sort, filters. Page and
// limit are written when positive, sort when non-empty.
func Encode(opts Options) string {
	var parts []string
	if opts.Page > 0 {
		parts = append(parts, KeyPage+"="+strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		parts = append(parts, KeyLimit+"="+strconv.Itoa(opts.Limit))
	}
	if len(opts.Sort) > 0 {
		parts = append(parts, KeySort+"="+encodeSort(opts.Sort))
	}
	if f := EncodeFilters(opts.Filters); f != "" {
		parts = append(parts, f)
	}
	return strings.Join(parts, "&")
}

// EncodeFilters serializes filters in their stored order. Multiple filters
// use index-free bracket notation (key[]=value).
func EncodeFilters(filters []Filter) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		key := url.QueryEscape(f.Field)
		if f.Multiple {
			key += "[]"
		}
		parts = append(parts, key+"="+url.QueryEscape(f.Value))
	}
	return strings.Join(parts, "&")
}

// Equal reports whether a and b describe the same query state.
func Equal(a, b Options) bool {
	if a.Page != b.Page || a.Limit != b.Limit {
		return false
	}
	if len(a.Sort) != len(b.Sort) || len(a.Filters) != len(b.Filters) {
		return false
	}
	for i := range a.Sort {
		if a.Sort[i] != b.Sort[i] {
			return false
		}
	}
	for i := range a.Filters {
		if a.Filters[i] != b.Filters[i] {
			return false
		}
	}
	return true
}

func decodeSort(raw string) []Sort {
	out := []Sort{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		direction := true
		if strings.HasPrefix(part, "-") {
			direction = false
			part = part[1:]
		}
		if part == "" {
			continue
		}
		out = append(out, Sort{Field: part, Direction: direction})
	}
	return out
}

func encodeSort(sorts []Sort) string {
	tokens := make([]string, 0, len(sorts))
	for _, s := range sorts {
		token := url.QueryEscape(s.Field)
		if !s.Direction {
			token = "-" + token
		}
		tokens = append(tokens, token)
	}
	return strings.Join(tokens, ",")
}

func rawQuery(rawURL string) string {
	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		rawURL = rawURL[:i]
	}
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[i+1:]
	}
	// A bare query string ("page=1&limit=2") is accepted as well.
	if strings.Contains(rawURL, "=") && !strings.Contains(rawURL, "/") {
		return rawURL
	}
	return ""
}

// param groups every value bound to one key, in first-appearance order.
type param struct {
	key      string
	values   []indexedValue
	brackets bool
}

type indexedValue struct {
	index int // -1 when the key had no explicit index
	seq   int
	value string
}

func (p *param) last() string {
	if len(p.values) == 0 {
		return ""
	}
	return p.values[len(p.values)-1].value
}

func (p *param) filters() []Filter {
	multiple := p.brackets || len(p.values) > 1
	vals := p.values
	// Indexed values come first in index order, the rest keep their order.
	if p.brackets {
		sort.SliceStable(vals, func(i, j int) bool {
			a, b := vals[i], vals[j]
			switch {
			case a.index >= 0 && b.index >= 0:
				return a.index < b.index
			case a.index >= 0 || b.index >= 0:
				return a.index >= 0
			}
			return a.seq < b.seq
		})
	}
	out := make([]Filter, 0, len(vals))
	for _, v := range vals {
		out = append(out, Filter{Field: p.key, Multiple: multiple, Value: v.value})
	}
	return out
}

func parse(raw string) []*param {
	var (
		ordered []*param
		byKey   = map[string]*param{}
		seq     int
	)
	for _, pair := range strings.FieldsFunc(raw, func(r rune) bool { return r == '&' || r == ';' }) {
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			key = rawKey
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			value = rawValue
		}

		name, index, brackets := splitBrackets(key)
		if name == "" {
			continue
		}
		p, ok := byKey[name]
		if !ok {
			p = &param{key: name}
			byKey[name] = p
			ordered = append(ordered, p)
		}
		p.brackets = p.brackets || brackets
		p.values = append(p.values, indexedValue{index: index, seq: seq, value: value})
		seq++
	}
	return ordered
}

// splitBrackets turns "tag[3]" into ("tag", 3, true), "tag[]" into
// ("tag", -1, true) and "tag" into ("tag", -1, false).
func splitBrackets(key string) (string, int, bool) {
	open := strings.IndexByte(key, '[')
	if open <= 0 || !strings.HasSuffix(key, "]") {
		return key, -1, false
	}
	inner := key[open+1 : len(key)-1]
	if inner == "" {
		return key[:open], -1, true
	}
	n, err := strconv.Atoi(inner)
	if err != nil {
		return key, -1, false
	}
	return key[:open], n, true
}
