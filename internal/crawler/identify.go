package crawler

import (
	"fmt"
	"regexp"
)

// TypeHint is the coarse item kind implied by a detail-page URL.
type TypeHint string

// Known type hints.
const (
	HintFilm   TypeHint = "film"
	HintSeries TypeHint = "series"
)

// Rule maps a detail-page URL shape to a type hint. Pattern must define a
// named group "id" capturing the item identity.
type Rule struct {
	Pattern *regexp.Regexp
	Hint    TypeHint
}

// Identity is the stable key of an item plus the hint taken from its URL.
type Identity struct {
	ID   string
	Hint TypeHint
}

// DefaultRules returns the detail-page shapes for one storefront.
func DefaultRules(storefront string) []Rule {
	base := `^https://tv\.apple\.com/` + regexp.QuoteMeta(storefront) + `/`
	const tail = `/(?:[^/?#]+/)?(?P<id>umc\.cmc\.[0-9a-zA-Z]+)(?:[/?#]|$)`
	return []Rule{
		{Pattern: regexp.MustCompile(base + `movie` + tail), Hint: HintFilm},
		{Pattern: regexp.MustCompile(base + `show` + tail), Hint: HintSeries},
	}
}

// Identifier extracts identities from URLs using an ordered rule table.
type Identifier struct {
	rules []Rule
}

// NewIdentifier validates the rules and builds an Identifier.
func NewIdentifier(rules ...Rule) (*Identifier, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("at least one identification rule is required")
	}
	for i, r := range rules {
		if r.Pattern == nil {
			return nil, fmt.Errorf("rule %d has no pattern", i)
		}
		if r.Pattern.SubexpIndex("id") < 0 {
			return nil, fmt.Errorf("rule %d pattern %q has no id group", i, r.Pattern)
		}
		if r.Hint == "" {
			return nil, fmt.Errorf("rule %d has no type hint", i)
		}
	}
	return &Identifier{rules: append([]Rule(nil), rules...)}, nil
}

// Identify returns the identity of a detail-page URL. The first matching rule
// wins; ok is false for URLs that are not detail pages.
func (i *Identifier) Identify(rawURL string) (Identity, bool) {
	for _, r := range i.rules {
		m := r.Pattern.FindStringSubmatch(rawURL)
		if m == nil {
			continue
		}
		return Identity{ID: m[r.Pattern.SubexpIndex("id")], Hint: r.Hint}, true
	}
	return Identity{}, false
}
