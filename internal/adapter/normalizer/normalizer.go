package normalizer

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"

	"vibe-apps-miner/internal/config"
	"vibe-apps-miner/internal/domain"
)

// Mapping declares, per attribute, the JSON paths to try in order. The
// first non-empty value wins.
type Mapping struct {
	Source          string
	DiscoveryMethod string
	ExternalID      []string
	Title           []string
	URL             []string
	Description     []string
	CreatedAt       []string
	UpdatedAt       []string
	Featured        []string
	// URLTemplate builds a URL from other fields, e.g.
	// "https://lovable.dev/projects/{id}". Used only when no URL path matched.
	URLTemplate  string
	DefaultTitle string
}

// DefaultMapping covers the common field names shared by most sources.
func DefaultMapping(source string) Mapping {
	return Mapping{
		Source:      source,
		ExternalID:  []string{"id"},
		Title:       []string{"title", "name"},
		URL:         []string{"url", "link"},
		Description: []string{"description"},
		CreatedAt:   []string{"created_at"},
		UpdatedAt:   []string{"updated_at"},
		Featured:    []string{"featured"},
	}
}

// MappingFor builds the mapping a configured source declares. Attributes the
// source leaves unset fall back to DefaultMapping.
func MappingFor(src config.SourceConfig) Mapping {
	m := DefaultMapping(src.Name)
	m.DiscoveryMethod = src.DiscoveryMethod
	f := src.Fields
	for _, p := range []struct {
		dst *[]string
		src []string
	}{
		{&m.ExternalID, f.ExternalID},
		{&m.Title, f.Title},
		{&m.URL, f.URL},
		{&m.Description, f.Description},
		{&m.CreatedAt, f.CreatedAt},
		{&m.UpdatedAt, f.UpdatedAt},
		{&m.Featured, f.Featured},
	} {
		if len(p.src) > 0 {
			*p.dst = p.src
		}
	}
	m.URLTemplate = f.URLTemplate
	m.DefaultTitle = f.DefaultTitle
	return m
}

// Normalizer converts raw records with a fixed Mapping. It never fails: a
// record it cannot use is reported with ok == false.
type Normalizer struct {
	mapping Mapping
}

func New(m Mapping) *Normalizer {
	return &Normalizer{mapping: m}
}

// Normalize maps raw onto the common shape. Records with neither a usable
// title nor a usable URL are dropped.
func (n *Normalizer) Normalize(raw domain.RawRecord) (domain.NormalizedRecord, bool) {
	if !gjson.ValidBytes(raw) {
		return domain.NormalizedRecord{}, false
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return domain.NormalizedRecord{}, false
	}

	m := n.mapping
	title := firstString(doc, m.Title)
	link := CanonicalURL(firstString(doc, m.URL))
	if title == "" && link == "" {
		return domain.NormalizedRecord{}, false
	}

	rec := domain.NormalizedRecord{
		Source:          m.Source,
		DiscoveryMethod: m.DiscoveryMethod,
		ExternalID:      firstString(doc, m.ExternalID),
		Name:            title,
		URL:             link,
		Description:     PlainText(firstString(doc, m.Description)),
		CreatedAt:       firstTime(doc, m.CreatedAt),
		UpdatedAt:       firstTime(doc, m.UpdatedAt),
		Featured:        firstBool(doc, m.Featured),
		Raw:             raw,
	}

	if rec.URL == "" && m.URLTemplate != "" {
		rec.URL = CanonicalURL(expandTemplate(doc, m.URLTemplate))
	}
	if rec.Name == "" {
		rec.Name = m.DefaultTitle
	}
	if rec.Name == "" {
		rec.Name = nameFromURL(rec.URL)
	}
	return rec, true
}

func firstString(doc gjson.Result, paths []string) string {
	for _, p := range paths {
		v := doc.Get(p)
		if !v.Exists() || v.Type == gjson.Null || v.IsObject() || v.IsArray() {
			continue
		}
		if s := strings.TrimSpace(v.String()); s != "" {
			return s
		}
	}
	return ""
}

func firstBool(doc gjson.Result, paths []string) bool {
	for _, p := range paths {
		v := doc.Get(p)
		if v.Exists() && v.Type != gjson.Null {
			return v.Bool()
		}
	}
	return false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func firstTime(doc gjson.Result, paths []string) *time.Time {
	for _, p := range paths {
		v := doc.Get(p)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if t, ok := ParseTime(v); ok {
			return &t
		}
	}
	return nil
}

// ParseTime accepts RFC 3339 and common database layouts, or Unix seconds
// and milliseconds. Unparseable values report ok == false.
func ParseTime(v gjson.Result) (time.Time, bool) {
	if v.Type == gjson.Number {
		n := v.Int()
		if n <= 0 {
			return time.Time{}, false
		}
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}
	s := strings.TrimSpace(v.String())
	if s == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ParseTime(gjson.Parse(strconv.FormatInt(n, 10)))
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

var placeholder = regexp.MustCompile(`\{([^{}]+)\}`)

func expandTemplate(doc gjson.Result, tmpl string) string {
	missing := false
	out := placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		v := firstString(doc, []string{m[1 : len(m)-1]})
		if v == "" {
			missing = true
		}
		return url.PathEscape(v)
	})
	if missing {
		return ""
	}
	return out
}

// CanonicalURL trims s and lower-cases its scheme and host, dropping the
// fragment and any trailing slash. Strings that are not absolute http(s)
// URLs yield "".
func CanonicalURL(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return ""
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

func nameFromURL(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	if p := strings.Trim(u.Path, "/"); p != "" {
		return p
	}
	return u.Host
}

var whitespace = regexp.MustCompile(`\s+`)

// PlainText strips markup from descriptions that arrive as HTML and
// collapses whitespace.
func PlainText(s string) string {
	if s == "" {
		return ""
	}
	if strings.ContainsRune(s, '<') {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, s)
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
