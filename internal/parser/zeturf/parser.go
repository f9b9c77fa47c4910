// Package zeturf knows the markup and URL layout of the zeturf.fr results
// archive: a date index page, réunion pages per date, course pages per
// réunion. All selectors live here so a markup change is a one-package fix.
package zeturf

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gosimple/slug"

	"github.com/turfarchive/zeturf-harvester/internal/harvest"
)

const dateLayout = "2006-01-02"

var (
	reunionCodeRe = regexp.MustCompile(`/reunion/\d{4}-\d{2}-\d{2}/(R\d+)-`)
	courseCodeRe  = regexp.MustCompile(`C(\d+)`)
)

// Config locates the archive and bounds the harvested date range.
type Config struct {
	BaseURL   string `mapstructure:"base_url"`
	StartDate string `mapstructure:"start_date"`
	EndDate   string `mapstructure:"end_date"`
}

// Site implements both harvest.Planner (partition and root enumeration) and
// harvest.PageParser (child extraction) for the archive.
type Site struct {
	base  *url.URL
	start time.Time
	end   time.Time
}

// New validates the config and returns a Site.
func New(cfg Config) (*Site, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.zeturf.fr"
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	start, err := time.Parse(dateLayout, cfg.StartDate)
	if err != nil {
		return nil, fmt.Errorf("parse start date: %w", err)
	}
	end, err := time.Parse(dateLayout, cfg.EndDate)
	if err != nil {
		return nil, fmt.Errorf("parse end date: %w", err)
	}
	if start.After(end) {
		start, end = end, start
	}
	return &Site{base: base, start: start, end: end}, nil
}

// Partitions returns the calendar years intersecting the date range, oldest
// first. One year is one commit unit.
func (s *Site) Partitions() []string {
	var years []string
	for y := s.start.Year(); y <= s.end.Year(); y++ {
		years = append(years, strconv.Itoa(y))
	}
	return years
}

// Roots returns one root node per date of the partition year within the
// configured range, ascending, so partial fetch progress is a contiguous
// prefix of the tree order.
func (s *Site) Roots(partition string) ([]harvest.ResourceNode, error) {
	year, err := strconv.Atoi(partition)
	if err != nil {
		return nil, fmt.Errorf("partition key %q is not a year", partition)
	}
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
	if from.Before(s.start) {
		from = s.start
	}
	if to.After(s.end) {
		to = s.end
	}
	if from.After(to) {
		return nil, fmt.Errorf("partition %s is outside the configured range", partition)
	}

	var roots []harvest.ResourceNode
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		date := d.Format(dateLayout)
		dir := path.Join(d.Format("2006"), d.Format("01"), date)
		roots = append(roots, harvest.ResourceNode{
			ID:        date,
			Kind:      harvest.NodeRoot,
			Location:  path.Join(dir, date+".html"),
			SourceURL: s.resolve("/fr/resultats-et-rapports/" + date),
		})
	}
	return roots, nil
}

// ParseRootChildren extracts the French réunions listed on a date page.
// Only rows whose numero cell links with data-tc-pays="FR" are kept, as the
// archive tracks French meetings only.
func (s *Site) ParseRootChildren(html []byte, root harvest.ResourceNode) ([]harvest.ResourceNode, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse date page %s: %w", root.ID, err)
	}
	container := doc.Find("div#list-reunion")
	if container.Length() == 0 {
		return nil, nil
	}

	dateDir := path.Dir(root.Location)
	var groups []harvest.ResourceNode
	container.Find("table.programme tbody tr.item").Each(func(_ int, tr *goquery.Selection) {
		anchor := tr.Find(`td.numero a[data-tc-pays="FR"]`).First()
		if anchor.Length() == 0 {
			return
		}
		href := strings.TrimSpace(anchor.AttrOr("href", ""))
		if href == "" {
			return
		}
		code := reunionCode(href, anchor.Text())
		hippodrome := strings.TrimSpace(tr.Find("td.nom h2 span span").First().Text())
		groupSlug := code + "-" + slug.Make(hippodrome)
		groups = append(groups, harvest.ResourceNode{
			ID:        root.ID + "/" + groupSlug,
			Kind:      harvest.NodeGroup,
			ParentID:  root.ID,
			Location:  path.Join(dateDir, groupSlug, groupSlug+".html"),
			SourceURL: s.resolve(href),
		})
	})
	return groups, nil
}

// ParseGroupChildren extracts the courses from a réunion page's frise strip,
// sorted by course number when every number is known.
func (s *Site) ParseGroupChildren(html []byte, group harvest.ResourceNode) ([]harvest.ResourceNode, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse réunion page %s: %w", group.ID, err)
	}
	frise := doc.Find("#frise-course .strip2.active")
	if frise.Length() == 0 {
		frise = doc.Find("#frise-course .strip2")
	}
	if frise.Length() == 0 {
		return nil, nil
	}

	reunion := group.ID[strings.LastIndex(group.ID, "/")+1:]
	reunion = strings.SplitN(reunion, "-", 2)[0]
	groupDir := path.Dir(group.Location)

	type course struct {
		node   harvest.ResourceNode
		numero int
	}
	var courses []course
	numbered := true
	frise.Find("ul.scroll-content li.scroll-element a").Each(func(_ int, anchor *goquery.Selection) {
		href := strings.TrimSpace(anchor.AttrOr("href", ""))
		if href == "" {
			return
		}
		numero, code := courseCode(anchor, href)
		if numero == 0 {
			numbered = false
		}
		title := strings.TrimSpace(anchor.AttrOr("title", ""))
		intitule := title
		if _, after, found := strings.Cut(title, " - "); found {
			intitule = after
		}
		name := courseFileName(reunion, code, intitule, href)
		courses = append(courses, course{
			numero: numero,
			node: harvest.ResourceNode{
				ID:        group.ID + "/" + strings.TrimSuffix(name, ".html"),
				Kind:      harvest.NodeLeaf,
				ParentID:  group.ID,
				Location:  path.Join(groupDir, name),
				SourceURL: s.resolve(href),
			},
		})
	})
	if numbered {
		sort.SliceStable(courses, func(i, j int) bool { return courses[i].numero < courses[j].numero })
	}
	nodes := make([]harvest.ResourceNode, 0, len(courses))
	for _, c := range courses {
		nodes = append(nodes, c.node)
	}
	return nodes, nil
}

func (s *Site) resolve(href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return s.base.ResolveReference(ref).String()
}

// reunionCode extracts "R1" style codes from the réunion URL, falling back
// to the anchor text.
func reunionCode(href, anchorText string) string {
	if m := reunionCodeRe.FindStringSubmatch(href); m != nil {
		return m[1]
	}
	return strings.ReplaceAll(strings.TrimSpace(anchorText), "FR", "R")
}

// courseCode reads the course number from the numero span or the URL.
func courseCode(anchor *goquery.Selection, href string) (int, string) {
	numeroText := strings.TrimSpace(anchor.Find("span.numero").First().Text())
	if n, err := strconv.Atoi(numeroText); err == nil && n > 0 {
		return n, "C" + strconv.Itoa(n)
	}
	if m := courseCodeRe.FindStringSubmatch(href); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n, "C" + m[1]
	}
	return 0, ""
}

// courseFileName mirrors the original archive naming: R1C3-prix-foo.html,
// falling back to the last URL path segment when the title is unusable.
func courseFileName(reunionCode, courseCode, intitule, href string) string {
	nameSlug := slug.Make(intitule)
	if nameSlug == "" {
		last := href
		if u, err := url.Parse(href); err == nil {
			last = strings.TrimSuffix(u.Path, "/")
		}
		if idx := strings.LastIndex(last, "/"); idx >= 0 {
			last = last[idx+1:]
		}
		nameSlug = slug.Make(last)
		if nameSlug == "" {
			nameSlug = "course"
		}
	}
	return reunionCode + strings.ToUpper(courseCode) + "-" + nameSlug + ".html"
}
