package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/i474232898/station-dashboard/internal/weather"
)

const (
	vigilanceTimeout = 5 * time.Second
	vigilanceSource  = "meteofrance"
)

// DepartmentFunc returns the French department the station belongs to.
type DepartmentFunc func(ctx context.Context) (string, error)

// VigilanceProvider downloads the vigilance bulletin and extracts the
// alerts of the station's department.
type VigilanceProvider struct {
	url        string
	httpCfg    HTTPClientConfig
	circuit    *gobreaker.CircuitBreaker
	department DepartmentFunc
	now        func() time.Time
	loc        *time.Location
}

func NewVigilanceProvider(client *http.Client, bulletinURL string, department DepartmentFunc, loc *time.Location) *VigilanceProvider {
	if loc == nil {
		loc = time.UTC
	}
	return &VigilanceProvider{
		url: bulletinURL,
		httpCfg: HTTPClientConfig{
			Client:   client,
			Timeouts: []time.Duration{vigilanceTimeout},
		},
		circuit:    newBreaker("vigilance"),
		department: department,
		now:        time.Now,
		loc:        loc,
	}
}

// Vigilance fetches and parses the bulletin. coords only key the cache; the
// bulletin is organised by department.
func (p *VigilanceProvider) Vigilance(ctx context.Context, _ weather.Coordinates) (weather.Vigilance, error) {
	if p.url == "" {
		return weather.Vigilance{}, &FetchError{Family: "vigilance", Err: errors.New("no bulletin url configured")}
	}
	dept, err := p.department(ctx)
	if err != nil {
		return weather.Vigilance{}, &FetchError{Family: "vigilance", Stage: "department", Err: err}
	}
	if dept == "" {
		return weather.Vigilance{}, fmt.Errorf("vigilance: unknown department: %w", weather.ErrNoData)
	}

	body, err := fetchBody(ctx, p.httpCfg, p.circuit, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	})
	if err != nil {
		return weather.Vigilance{}, &FetchError{Family: "vigilance", Err: err}
	}

	text := string(body)
	if looksLikeHTML(body) {
		if text, err = htmlToText(body); err != nil {
			return weather.Vigilance{}, &FetchError{Family: "vigilance", Stage: "html", Err: err}
		}
	}

	alerts := ParseBulletin(text, dept, p.now().In(p.loc))
	return weather.Vigilance{
		Department: dept,
		Level:      maxSeverity(alerts).String(),
		Alerts:     alerts,
	}, nil
}

// DepartmentFromZipcode maps a French postal code to its department code.
func DepartmentFromZipcode(zip string) string {
	zip = strings.TrimSpace(zip)
	if len(zip) != 5 {
		return ""
	}
	if _, err := strconv.Atoi(zip); err != nil {
		return ""
	}
	switch {
	case strings.HasPrefix(zip, "97"), strings.HasPrefix(zip, "98"):
		return zip[:3]
	case strings.HasPrefix(zip, "20"):
		if zip < "20200" {
			return "2A"
		}
		return "2B"
	default:
		return zip[:2]
	}
}

func looksLikeHTML(body []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(body))
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.Contains(head, []byte("<html"))
}

var blockAtoms = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Table: true,
}

// htmlToText flattens an HTML bulletin into lines, one per block element.
func htmlToText(body []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			if n.DataAtom == atom.Script || n.DataAtom == atom.Style || n.DataAtom == atom.Head {
				return
			}
			if n.DataAtom == atom.Td || n.DataAtom == atom.Th {
				b.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockAtoms[n.DataAtom] {
			b.WriteString("\n")
		}
	}
	walk(doc)

	var lines []string
	for _, l := range strings.Split(b.String(), "\n") {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n"), nil
}

var (
	reNumericDate = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	reFrenchDate  = regexp.MustCompile(`(?i)\b(\d{1,2})(?:er)?\s+(janvier|février|fevrier|mars|avril|mai|juin|juillet|août|aout|septembre|octobre|novembre|décembre|decembre)\s+(\d{4})\b`)
)

var frenchMonths = map[string]time.Month{
	"janvier": time.January, "février": time.February, "fevrier": time.February,
	"mars": time.March, "avril": time.April, "mai": time.May, "juin": time.June,
	"juillet": time.July, "août": time.August, "aout": time.August,
	"septembre": time.September, "octobre": time.October, "novembre": time.November,
	"décembre": time.December, "decembre": time.December,
}

// sectionDate returns the date a line announces, if any.
func sectionDate(line string, loc *time.Location) (time.Time, bool) {
	if m := reNumericDate.FindStringSubmatch(line); m != nil {
		d, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		y, _ := strconv.Atoi(m[3])
		if mo >= 1 && mo <= 12 && d >= 1 && d <= 31 {
			return time.Date(y, time.Month(mo), d, 0, 0, 0, 0, loc), true
		}
	}
	if m := reFrenchDate.FindStringSubmatch(line); m != nil {
		d, _ := strconv.Atoi(m[1])
		y, _ := strconv.Atoi(m[3])
		return time.Date(y, frenchMonths[strings.ToLower(m[2])], d, 0, 0, 0, 0, loc), true
	}
	return time.Time{}, false
}

type phenomenon struct {
	kind     string
	label    string
	keywords []string
}

// Longer keywords first so "pluie-inondation" wins over "inondation".
var phenomena = []phenomenon{
	{"rain_flood", "Pluie-inondation", []string{"pluie-inondation", "pluie inondation", "rain-flood"}},
	{"wave_submersion", "Vagues-submersion", []string{"vagues-submersion", "vagues submersion", "submersion"}},
	{"snow_ice", "Neige-verglas", []string{"neige-verglas", "neige verglas", "snow", "neige", "verglas"}},
	{"wind", "Vent violent", []string{"vent violent", "vents violents", "vent", "wind"}},
	{"thunderstorm", "Orages", []string{"orages", "orage", "thunderstorm"}},
	{"flood", "Crues", []string{"crues", "crue", "inondation", "flood"}},
	{"heat_wave", "Canicule", []string{"canicule", "heat wave", "heatwave"}},
	{"extreme_cold", "Grand froid", []string{"grand froid", "extreme cold"}},
	{"avalanche", "Avalanches", []string{"avalanches", "avalanche"}},
}

var severityWords = []struct {
	word string
	sev  weather.Severity
}{
	{"rouge", weather.SeverityRed}, {"red", weather.SeverityRed},
	{"orange", weather.SeverityOrange},
	{"jaune", weather.SeverityYellow}, {"yellow", weather.SeverityYellow},
}

func lineSeverity(s string) weather.Severity {
	for _, w := range severityWords {
		if containsWord(s, w.word) {
			return w.sev
		}
	}
	return weather.SeverityNone
}

func containsWord(s, word string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], word)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(word)
		if (start == 0 || !isAlnum(s[start-1])) && (end == len(s) || !isAlnum(s[end])) {
			return true
		}
		i = start + 1
	}
}

func isAlnum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// ParseBulletin extracts the alerts of dept from a text bulletin. Sections
// start at a dated line; sections dated before today are skipped. A row is
// any line naming the department together with a colour and a phenomenon.
// Duplicates keep their highest severity; the result is ranked red first.
func ParseBulletin(text, dept string, today time.Time) []weather.VigilanceAlert {
	dept = strings.ToUpper(strings.TrimSpace(dept))
	if dept == "" {
		return nil
	}
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())

	type key struct{ source, kind, label string }
	found := map[key]weather.VigilanceAlert{}

	active := true
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if d, ok := sectionDate(line, today.Location()); ok {
			active = !d.Before(day)
			continue
		}
		if !active || !containsWord(strings.ToUpper(line), dept) {
			continue
		}

		lower := strings.ToLower(line)
		carried := weather.SeverityNone
		for _, seg := range strings.FieldsFunc(lower, func(r rune) bool { return r == ',' || r == ';' || r == '|' }) {
			if s := lineSeverity(seg); s != weather.SeverityNone {
				carried = s
			}
			if carried == weather.SeverityNone {
				continue
			}
			for _, ph := range phenomena {
				if !matchesAny(seg, ph.keywords) {
					continue
				}
				k := key{vigilanceSource, ph.kind, ph.label}
				if prev, ok := found[k]; !ok || carried > prev.Severity {
					found[k] = weather.VigilanceAlert{
						Source:   vigilanceSource,
						Type:     ph.kind,
						Label:    ph.label,
						Level:    carried.String(),
						Severity: carried,
					}
				}
				break
			}
		}
	}

	alerts := make([]weather.VigilanceAlert, 0, len(found))
	for _, a := range found {
		alerts = append(alerts, a)
	}
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].Severity != alerts[j].Severity {
			return alerts[i].Severity > alerts[j].Severity
		}
		return alerts[i].Label < alerts[j].Label
	})
	return alerts
}

func matchesAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if containsWord(s, k) {
			return true
		}
	}
	return false
}

func maxSeverity(alerts []weather.VigilanceAlert) weather.Severity {
	worst := weather.SeverityNone
	for _, a := range alerts {
		if a.Severity > worst {
			worst = a.Severity
		}
	}
	return worst
}
