package hal

import (
	"strings"
)

const (
	// RelSelf is the mandatory relation of every cached payload.
	RelSelf = "self"

	linksKey    = "_links"
	embeddedKey = "_embedded"
	hrefKey     = "href"
)

// Payload is a decoded HAL resource: open fields plus _links and an optional
// _embedded map.
type Payload map[string]any

// Link is one entry of a payload's _links map.
type Link struct {
	Href string `json:"href"`
}

// AsResource reports whether v is a resource payload, meaning a JSON object
// whose _links.self.href is a string.
func AsResource(v any) (Payload, bool) {
	var p Payload
	switch m := v.(type) {
	case Payload:
		p = m
	case map[string]any:
		p = Payload(m)
	default:
		return nil, false
	}
	if p == nil {
		return nil, false
	}
	if _, ok := p.href(RelSelf); !ok {
		return nil, false
	}
	return p, true
}

// Self returns the self-link href, or "" when the payload is not a resource.
func (p Payload) Self() string {
	href, _ := p.href(RelSelf)
	return href
}

// Links returns the relation names present in _links.
func (p Payload) Links() []string {
	links, ok := asMap(p[linksKey])
	if !ok {
		return nil
	}
	rels := make([]string, 0, len(links))
	for rel := range links {
		rels = append(rels, rel)
	}
	return rels
}

// HasLink reports whether the payload carries an href for rel.
func (p Payload) HasLink(rel string) bool {
	_, ok := p.href(rel)
	return ok
}

// Link returns the href of rel or a *LinkError.
func (p Payload) Link(rel string) (string, error) {
	href, ok := p.href(rel)
	if !ok {
		return "", &LinkError{Rel: rel}
	}
	return href, nil
}

// Embedded returns the raw _embedded value under rel, or def when absent.
func (p Payload) Embedded(rel string, def any) any {
	embedded, ok := asMap(p[embeddedKey])
	if !ok {
		return def
	}
	v, ok := embedded[rel]
	if !ok {
		return def
	}
	return v
}

// EmbeddedRels returns the _embedded map or nil.
func (p Payload) EmbeddedRels() map[string]any {
	embedded, _ := asMap(p[embeddedKey])
	return embedded
}

// Get returns a plain field or def when absent.
func (p Payload) Get(field string, def any) any {
	if v, ok := p[field]; ok {
		return v
	}
	return def
}

func (p Payload) href(rel string) (string, bool) {
	links, ok := asMap(p[linksKey])
	if !ok {
		return "", false
	}
	link, ok := asMap(links[rel])
	if !ok {
		return "", false
	}
	href, ok := link[hrefKey].(string)
	return href, ok
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Payload:
		return m, true
	}
	return nil, false
}

// BaseURL strips the query string and fragment from u.
func BaseURL(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i]
	}
	return u
}

// EmbeddedName derives the alias of the embedded relation rel of name.
func EmbeddedName(name, rel string) string {
	return name + "@" + rel
}

// LinkName derives the alias of the linked relation rel of name.
func LinkName(name, rel string) string {
	return name + "#" + rel
}
