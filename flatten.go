package hal

import (
	"sort"
	"strconv"
)

type embeddedChild struct {
	origin string
	data   Payload
}

// flattenLocked attaches the synthesized aliases of every embedded resource
// of data and returns the children to store. A single embedded resource under
// rel is reachable as origin@rel and parentAlias@rel for the other aliases of
// the parent; an array member at index i as origin@rel[i] and
// parentAlias@rel[i]. Values that are not resources are skipped.
func (s *Storage) flattenLocked(origin string, data Payload) []embeddedChild {
	embedded := data.EmbeddedRels()
	if len(embedded) == 0 {
		return nil
	}

	rels := make([]string, 0, len(embedded))
	for rel := range embedded {
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	parents := s.parentAliasesLocked(origin)

	var children []embeddedChild
	add := func(name string, v any) {
		child, ok := AsResource(v)
		if !ok {
			return
		}
		childOrigin := child.Self()
		s.aliases[EmbeddedName(origin, name)] = childOrigin
		for _, alias := range parents {
			s.aliases[EmbeddedName(alias, name)] = childOrigin
		}
		children = append(children, embeddedChild{origin: childOrigin, data: child})
	}

	for _, rel := range rels {
		switch v := embedded[rel].(type) {
		case []any:
			for i, item := range v {
				add(rel+"["+strconv.Itoa(i)+"]", item)
			}
		case []Payload:
			for i, item := range v {
				add(rel+"["+strconv.Itoa(i)+"]", item)
			}
		default:
			add(rel, v)
		}
	}
	return children
}

// parentAliasesLocked returns the aliases of origin other than origin itself,
// bounded by the configured maximum.
func (s *Storage) parentAliasesLocked(origin string) []string {
	var parents []string
	for _, alias := range s.aliasesForLocked(origin) {
		if alias == origin {
			continue
		}
		if limit := s.cfg.maxEmbeddedAliases; limit > 0 && len(parents) >= limit {
			if s.cfg.logger != nil {
				s.cfg.logger.Debug("embedded alias propagation capped", "origin", origin, "max", limit)
			}
			break
		}
		parents = append(parents, alias)
	}
	return parents
}
