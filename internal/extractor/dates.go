package extractor

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Date handling: structured candidates are gathered from meta tags, <time>
// elements, JSON-LD blocks, and the URL itself, then split into
// published/modified/neutral buckets by where they came from. When no
// structured date exists at all, a scored scan of the body text runs as a
// last resort.

type dateBucket int

const (
	bucketPublished dateBucket = iota
	bucketModified
	bucketNeutral
)

type dateCandidate struct {
	t      time.Time
	bucket dateBucket
}

var publishedMetaKeys = []string{
	"article:published_time", "og:article:published_time", "datepublished",
	"dc.date.issued", "publishdate", "pubdate", "sailthru.date",
	"parsely-pub-date", "article.published",
}

var modifiedMetaKeys = []string{
	"article:modified_time", "og:updated_time", "datemodified", "updated",
	"lastmod", "revised", "last-modified",
}

var neutralMetaKeys = []string{
	"date", "dc.date", "timestamp", "dcterms.date",
}

var (
	jsonLDPublishedRe = regexp.MustCompile(`"(?:datePublished|dateCreated|uploadDate)"\s*:\s*"([^"]+)"`)
	jsonLDModifiedRe  = regexp.MustCompile(`"dateModified"\s*:\s*"([^"]+)"`)
	urlDateRe         = regexp.MustCompile(`/(20\d{2})/(\d{1,2})/(\d{1,2})/|(20\d{2}-\d{2}-\d{2})`)
	isoTextDateRe     = regexp.MustCompile(`20\d{2}-\d{2}-\d{2}`)
	monthTextDateRe   = regexp.MustCompile(`(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},\s+\d{4}`)
	dateCueRe         = regexp.MustCompile(`(?i)published|posted|updated|date`)
)

const (
	textScanLimit     = 5000
	earlyTextOffset   = 1200
	inferenceMinScore = 0.65
)

// ExtractDates pulls published and modified timestamps from a parsed
// document. Either return value may be zero.
func ExtractDates(doc *goquery.Document, pageURL string, now time.Time) (published, modified time.Time) {
	var candidates []dateCandidate

	add := func(raw string, bucket dateBucket) {
		if t, ok := parsePlausibleDate(raw, now); ok {
			candidates = append(candidates, dateCandidate{t: t, bucket: bucket})
		}
	}

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		key, _ := s.Attr("property")
		if key == "" {
			key, _ = s.Attr("name")
		}
		if key == "" {
			key, _ = s.Attr("itemprop")
		}
		content, _ := s.Attr("content")
		if key == "" || content == "" {
			return
		}
		key = strings.ToLower(key)
		switch {
		case containsKey(publishedMetaKeys, key):
			add(content, bucketPublished)
		case containsKey(modifiedMetaKeys, key):
			add(content, bucketModified)
		case containsKey(neutralMetaKeys, key):
			add(content, bucketNeutral)
		}
	})

	doc.Find("time[datetime]").Each(func(_ int, s *goquery.Selection) {
		if dt, ok := s.Attr("datetime"); ok {
			add(dt, bucketNeutral)
		}
	})

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		for _, m := range jsonLDPublishedRe.FindAllStringSubmatch(text, -1) {
			add(m[1], bucketPublished)
		}
		for _, m := range jsonLDModifiedRe.FindAllStringSubmatch(text, -1) {
			add(m[1], bucketModified)
		}
	})

	if t, ok := dateFromURL(pageURL, now); ok {
		candidates = append(candidates, dateCandidate{t: t, bucket: bucketNeutral})
	}

	published = latestIn(candidates, bucketPublished)
	if published.IsZero() {
		published = latestIn(candidates, bucketNeutral)
	}
	modified = latestIn(candidates, bucketModified)
	if modified.IsZero() {
		modified = latestAll(candidates)
	}
	return published, modified
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func latestIn(candidates []dateCandidate, bucket dateBucket) time.Time {
	var latest time.Time
	for _, c := range candidates {
		if c.bucket == bucket && c.t.After(latest) {
			latest = c.t
		}
	}
	return latest
}

func latestAll(candidates []dateCandidate) time.Time {
	var latest time.Time
	for _, c := range candidates {
		if c.t.After(latest) {
			latest = c.t
		}
	}
	return latest
}

// dateFromURL reads /YYYY/MM/DD/ path segments or an inline YYYY-MM-DD from
// the URL.
func dateFromURL(pageURL string, now time.Time) (time.Time, bool) {
	m := urlDateRe.FindStringSubmatch(pageURL)
	if m == nil {
		return time.Time{}, false
	}
	var raw string
	if m[4] != "" {
		raw = m[4]
	} else {
		raw = m[1] + "-" + pad2(m[2]) + "-" + pad2(m[3])
	}
	return parsePlausibleDate(raw, now)
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// dateLayouts covers the formats publishers actually emit.
var dateLayouts = []string{
	time.RFC3339, "2006-01-02T15:04:05Z", "2006-01-02T15:04:05",
	"2006-01-02 15:04:05", "2006-01-02", time.RFC1123, time.RFC1123Z,
	"January 2, 2006", "Jan 2, 2006", "2 January 2006",
}

// parsePlausibleDate parses a raw date string and rejects values outside
// [2000-01-01, now+48h].
func parsePlausibleDate(raw string, now time.Time) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		t = t.UTC()
		if plausible(t, now) {
			return t, true
		}
		return time.Time{}, false
	}
	return time.Time{}, false
}

var dateFloor = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func plausible(t, now time.Time) bool {
	return !t.Before(dateFloor) && !t.After(now.Add(48*time.Hour))
}

// InferDateFromText scans the first 5000 characters of body text for ISO and
// "Month D, YYYY" dates and scores each match by its proximity to a cue word
// (published/posted/updated/date), by early placement in the document, and
// by being within two years of now. The best match is accepted only when its
// score reaches 0.65, which in practice requires a cue word plus one other
// signal.
func InferDateFromText(text string, now time.Time) (time.Time, bool) {
	if len(text) > textScanLimit {
		text = text[:textScanLimit]
	}

	type scored struct {
		t     time.Time
		score float64
	}
	var best scored

	consider := func(loc []int, raw string, cueWindow int) {
		t, ok := parsePlausibleDate(raw, now)
		if !ok {
			return
		}
		score := 0.0
		if hasCueNear(text, loc[0], loc[1], cueWindow) {
			score += 0.5
		}
		if loc[0] < earlyTextOffset {
			score += 0.25
		}
		if now.Sub(t) < 2*365*24*time.Hour {
			score += 0.25
		}
		if score > best.score {
			best = scored{t: t, score: score}
		}
	}

	for _, loc := range isoTextDateRe.FindAllStringIndex(text, -1) {
		consider(loc, text[loc[0]:loc[1]], 60)
	}
	for _, loc := range monthTextDateRe.FindAllStringIndex(text, -1) {
		consider(loc, text[loc[0]:loc[1]], 80)
	}

	if best.score >= inferenceMinScore {
		return best.t, true
	}
	return time.Time{}, false
}

func hasCueNear(text string, start, end, window int) bool {
	lo := start - window
	if lo < 0 {
		lo = 0
	}
	hi := end + window
	if hi > len(text) {
		hi = len(text)
	}
	return dateCueRe.MatchString(text[lo:hi])
}
