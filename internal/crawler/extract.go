package crawler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/tvcatalog-crawler/internal/catalog"
)

// Structured-data types the extractor understands.
const (
	TypeMovie    = "Movie"
	TypeTVSeries = "TVSeries"
)

// Details is what the extractor derives from a detail page.
type Details struct {
	DeclaredType   string
	Name           string
	Description    string
	Classification string
}

// ldObject is the subset of a JSON-LD node the extractor reads.
// Only "@type" must be well formed; the other fields degrade to empty.
type ldObject struct {
	Type          ldTypes  `json:"@type"`
	Name          ldText   `json:"name"`
	DatePublished ldText   `json:"datePublished"`
	Director      ldPeople `json:"director"`
}

// ldTypes accepts "@type" as a string or a list of strings.
type ldTypes []string

func (t *ldTypes) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*t = ldTypes{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("@type: %w", err)
	}
	*t = many
	return nil
}

// ldText accepts a string or a number. Any other shape decodes as empty.
type ldText string

func (t *ldText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = ldText(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*t = ldText(n.String())
		return nil
	}
	*t = ""
	return nil
}

type ldPerson struct {
	Name ldText `json:"name"`
}

// ldPeople accepts a person, a bare name, or a list mixing both. Elements of
// any other shape are dropped.
type ldPeople []ldPerson

func (p *ldPeople) UnmarshalJSON(data []byte) error {
	var many []json.RawMessage
	if err := json.Unmarshal(data, &many); err != nil {
		many = []json.RawMessage{data}
	}
	people := make(ldPeople, 0, len(many))
	for _, raw := range many {
		if person, ok := decodePerson(raw); ok {
			people = append(people, person)
		}
	}
	*p = people
	return nil
}

func decodePerson(raw json.RawMessage) (ldPerson, bool) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return ldPerson{Name: ldText(name)}, true
	}
	var person ldPerson
	if err := json.Unmarshal(raw, &person); err == nil {
		return person, true
	}
	return ldPerson{}, false
}

// recognizedType returns the first declared type the extractor understands.
func (o ldObject) recognizedType() (string, bool) {
	for _, t := range o.Type {
		if t == TypeMovie || t == TypeTVSeries {
			return t, true
		}
	}
	return "", false
}

// Extract reads the JSON-LD blocks of a page. When several blocks declare a
// recognized type, the last one wins: pages nest a generic block before the
// specific one. Blocks that are not valid JSON are ignored.
func Extract(content []byte, hint TypeHint) (Details, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return Details{}, fmt.Errorf("parse html: %w", err)
	}

	var (
		chosen   ldObject
		declared string
		found    bool
		blocks   int
	)
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		blocks++
		for _, obj := range decodeBlock(s.Text()) {
			if t, ok := obj.recognizedType(); ok {
				chosen, declared, found = obj, t, true
			}
		}
	})
	if !found {
		return Details{}, &ExtractionError{Blocks: blocks}
	}
	return derive(chosen, declared, hint), nil
}

// decodeBlock returns the objects of one block in document order. A block may
// hold a single object or an array of objects.
func decodeBlock(text string) []ldObject {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "[") {
		var raw []json.RawMessage
		if err := json.Unmarshal([]byte(text), &raw); err != nil {
			return nil
		}
		out := make([]ldObject, 0, len(raw))
		for _, r := range raw {
			var obj ldObject
			if err := json.Unmarshal(r, &obj); err == nil {
				out = append(out, obj)
			}
		}
		return out
	}
	var obj ldObject
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil
	}
	return []ldObject{obj}
}

func derive(obj ldObject, declared string, hint TypeHint) Details {
	kind := hint
	switch declared {
	case TypeMovie:
		kind = HintFilm
	case TypeTVSeries:
		kind = HintSeries
	}

	d := Details{
		DeclaredType: declared,
		Name:         html.UnescapeString(string(obj.Name)),
	}
	switch kind {
	case HintSeries:
		d.Description = "television series"
		d.Classification = catalog.ClassSeries
	default:
		d.Description = filmDescription(obj)
		d.Classification = catalog.ClassFilm
	}
	return d
}

func filmDescription(obj ldObject) string {
	desc := "film"
	if year := string(obj.DatePublished); year != "" {
		if len(year) > 4 {
			year = year[:4]
		}
		desc = year + " film"
	}
	names := make([]string, 0, len(obj.Director))
	for _, p := range obj.Director {
		if p.Name != "" {
			names = append(names, html.UnescapeString(string(p.Name)))
		}
	}
	if len(names) > 0 {
		desc += " directed by " + strings.Join(names, " and ")
	}
	return desc
}
