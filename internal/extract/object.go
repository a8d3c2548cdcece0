package extract

import (
	"encoding/json"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/ppiankov/evalagent/internal/model"
)

const maxObjectDepth = 32

// dateKeys carry the effective date of their siblings rather than claims.
var dateKeys = map[string]bool{
	"asof": true, "as_of": true, "updatedat": true, "updated_at": true,
	"lastupdated": true, "last_updated": true, "effectivedate": true, "effective_date": true,
}

var identifierKeys = map[string]bool{
	"id": true, "uuid": true, "slug": true, "url": true, "href": true,
	"link": true, "image": true, "icon": true, "code": true, "iso": true,
}

var dateLayouts = []string{time.RFC3339, "2006-01-02", "2006-01", "2006"}

// ExtractFromObject walks nested page data and emits one claim per leaf that
// reads like a factual assertion. Map keys are visited in sorted order so the
// output is stable for unchanged input. A map or slice reachable from itself
// is visited once; the repeated edge is dropped.
func ExtractFromObject(content map[string]any, locatorPrefix string) []model.Claim {
	w := &objectWalker{visiting: make(map[uintptr]bool)}
	w.walkMap(content, locatorPrefix, nil, 0)
	return w.claims
}

type objectWalker struct {
	claims   []model.Claim
	visiting map[uintptr]bool
}

func (w *objectWalker) walkMap(m map[string]any, path string, asOf *time.Time, depth int) {
	if m == nil || depth > maxObjectDepth {
		return
	}
	id := reflect.ValueOf(m).Pointer()
	if w.visiting[id] {
		return
	}
	w.visiting[id] = true
	defer delete(w.visiting, id)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if dateKeys[strings.ToLower(k)] {
			if t, ok := parseDate(m[k]); ok {
				asOf = &t
			}
		}
	}

	for _, k := range keys {
		lower := strings.ToLower(k)
		if dateKeys[lower] || isIdentifierKey(k) {
			continue
		}
		w.walkValue(m[k], joinKey(path, k), asOf, depth+1)
	}
}

func (w *objectWalker) walkSlice(s []any, path string, asOf *time.Time, depth int) {
	if len(s) == 0 || depth > maxObjectDepth {
		return
	}
	id := reflect.ValueOf(s).Pointer()
	if w.visiting[id] {
		return
	}
	w.visiting[id] = true
	defer delete(w.visiting, id)

	for i, v := range s {
		w.walkValue(v, path+"["+strconv.Itoa(i)+"]", asOf, depth+1)
	}
}

func (w *objectWalker) walkValue(v any, path string, asOf *time.Time, depth int) {
	switch val := v.(type) {
	case map[string]any:
		w.walkMap(val, path, asOf, depth)
	case []any:
		w.walkSlice(val, path, asOf, depth)
	default:
		if s, ok := scalarText(val); ok {
			w.leaf(s, path, asOf)
		}
	}
}

// scalarText renders a leaf value the way claims carry it as current text.
func scalarText(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case json.Number:
		return val.String(), true
	}
	return "", false
}

// ValueAt resolves a locator produced by ExtractFromObject back to the
// current leaf text in content. locatorPrefix must be the prefix the claims
// were extracted with.
func ValueAt(content map[string]any, locatorPrefix, locator string) (string, bool) {
	path := locator
	if locatorPrefix != "" {
		if !strings.HasPrefix(locator, locatorPrefix+".") {
			return "", false
		}
		path = strings.TrimPrefix(locator, locatorPrefix+".")
	}

	var cur any = content
	for _, seg := range strings.Split(path, ".") {
		key, indexes, ok := parseSegment(seg)
		if !ok {
			return "", false
		}
		m, isMap := cur.(map[string]any)
		if !isMap {
			return "", false
		}
		if cur, ok = m[key]; !ok {
			return "", false
		}
		for _, idx := range indexes {
			s, isSlice := cur.([]any)
			if !isSlice || idx >= len(s) {
				return "", false
			}
			cur = s[idx]
		}
	}
	return scalarText(cur)
}

// parseSegment splits "rates[0][2]" into "rates" and [0 2].
func parseSegment(seg string) (string, []int, bool) {
	open := strings.IndexByte(seg, '[')
	if open < 0 {
		return seg, nil, seg != ""
	}
	key, rest := seg[:open], seg[open:]
	var indexes []int
	for rest != "" {
		end := strings.IndexByte(rest, ']')
		if rest[0] != '[' || end < 0 {
			return "", nil, false
		}
		idx, err := strconv.Atoi(rest[1:end])
		if err != nil || idx < 0 {
			return "", nil, false
		}
		indexes = append(indexes, idx)
		rest = rest[end+1:]
	}
	return key, indexes, key != ""
}

func (w *objectWalker) leaf(value, path string, asOf *time.Time) {
	if !looksFactual(value) {
		return
	}
	text := describe(path) + ": " + value
	w.claims = append(w.claims, model.Claim{
		Text:        text,
		Type:        Classify(value, path),
		Locator:     path,
		CurrentText: value,
		AsOf:        asOf,
	})
}

// looksFactual accepts numbers with or without units, dates and named
// policies; it rejects links, e-mail addresses and free-form labels.
func looksFactual(value string) bool {
	if value == "" || len(value) > 500 {
		return false
	}
	lower := strings.ToLower(value)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "www.") || strings.Contains(value, "@") {
		return false
	}
	if digitPattern.MatchString(value) {
		return true
	}
	words := splitWords(lower)
	for _, marker := range policyMarkers {
		if words[marker] {
			return true
		}
	}
	return false
}

func isIdentifierKey(k string) bool {
	lower := strings.ToLower(k)
	if identifierKeys[lower] {
		return true
	}
	return strings.HasSuffix(k, "Id") || strings.HasSuffix(lower, "_id") ||
		strings.HasSuffix(k, "Url") || strings.HasSuffix(lower, "_url")
}

func joinKey(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// describe turns "uae.legal.corporateTax" into "legal corporate tax".
func describe(path string) string {
	segments := strings.Split(path, ".")
	if len(segments) > 2 {
		segments = segments[len(segments)-2:]
	}
	for i, seg := range segments {
		if idx := strings.IndexByte(seg, '['); idx >= 0 {
			seg = seg[:idx]
		}
		segments[i] = strings.ToLower(splitCamel(seg))
	}
	return strings.TrimSpace(strings.Join(segments, " "))
}

func splitCamel(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-':
			b.WriteRune(' ')
			continue
		case i > 0 && unicode.IsUpper(r) && !unicode.IsUpper(runes[i-1]):
			b.WriteRune(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func parseDate(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
