package pageviews

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DateLayout is the upstream path format for dates.
const DateLayout = "20060102"

// PageID identifies a Wikimedia page for statistics purposes.
type PageID struct {
	// Project is the project domain without ".org" (e.g. "en.wikipedia").
	Project string

	// Title is the decoded article title with spaces as underscores.
	Title string
}

// String returns "project/title".
func (p PageID) String() string {
	return p.Project + "/" + p.Title
}

// URL returns the canonical desktop URL of the page.
func (p PageID) URL() string {
	return "https://" + p.Project + ".org/wiki/" + url.PathEscape(p.Title)
}

// EscapedTitle returns the title encoded as a single path segment.
func (p PageID) EscapedTitle() string {
	return url.PathEscape(p.Title)
}

// Options holds the optional filters of a request.
// Zero-valued fields fall back to the defaults of DefaultOptions.
type Options struct {
	// Access filter (default AccessAny)
	Access Access

	// Agent filter (default AgentUser)
	Agent Agent

	// Granularity of returned buckets (default Daily)
	Granularity Granularity
}

// DefaultOptions returns the default request filters.
func DefaultOptions() Options {
	return Options{
		Access:      AccessAny,
		Agent:       AgentUser,
		Granularity: Daily,
	}
}

// withDefaults fills zero-valued fields.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Access == "" {
		o.Access = def.Access
	}
	if o.Agent == "" {
		o.Agent = def.Agent
	}
	if o.Granularity == "" {
		o.Granularity = def.Granularity
	}
	return o
}

// Validate checks that every option holds a known value.
func (o Options) Validate() error {
	o = o.withDefaults()
	if !o.Access.Valid() {
		return &ValidationError{Field: "access", Value: string(o.Access), Reason: "unknown access method"}
	}
	if !o.Agent.Valid() {
		return &ValidationError{Field: "agent", Value: string(o.Agent), Reason: "unknown agent type"}
	}
	if !o.Granularity.Valid() {
		return &ValidationError{Field: "granularity", Value: string(o.Granularity), Reason: "unknown granularity"}
	}
	return nil
}

// Request is one fully specified statistics query.
// Requests are values; build them with Build.
type Request struct {
	// PageURL is the page URL the request was built from.
	PageURL string

	Page        PageID
	Start       time.Time
	End         time.Time
	Access      Access
	Agent       Agent
	Granularity Granularity
}

// Build validates the inputs and returns a canonical Request.
// No network access is performed.
func Build(pageURL string, start, end time.Time, opts Options) (Request, error) {
	page, err := ParsePageURL(pageURL)
	if err != nil {
		return Request{}, err
	}

	req, err := NewRequest(page, start, end, opts)
	if err != nil {
		return Request{}, err
	}
	req.PageURL = pageURL
	return req, nil
}

// NewRequest builds a Request for an already parsed page.
func NewRequest(page PageID, start, end time.Time, opts Options) (Request, error) {
	if page.Project == "" || page.Title == "" {
		return Request{}, &ValidationError{Field: "page", Value: page.String(), Reason: "project and title are required"}
	}
	if start.IsZero() {
		return Request{}, &ValidationError{Field: "start date", Reason: "missing"}
	}
	if end.IsZero() {
		return Request{}, &ValidationError{Field: "end date", Reason: "missing"}
	}

	start, end = CalendarDate(start), CalendarDate(end)
	if start.After(end) {
		return Request{}, &ValidationError{
			Field:  "date range",
			Value:  start.Format(time.DateOnly) + ".." + end.Format(time.DateOnly),
			Reason: "start date is after end date",
		}
	}

	if err := opts.Validate(); err != nil {
		return Request{}, err
	}
	opts = opts.withDefaults()

	return Request{
		PageURL:     page.URL(),
		Page:        page,
		Start:       start,
		End:         end,
		Access:      opts.Access,
		Agent:       opts.Agent,
		Granularity: opts.Granularity,
	}, nil
}

// Path returns the upstream path for the request, relative to the
// per-article endpoint:
//
//	/{project}/{access}/{agent}/{title}/{granularity}/{start}/{end}
func (r Request) Path() string {
	return fmt.Sprintf("/%s/%s/%s/%s/%s/%s/%s",
		r.Page.Project,
		r.Access,
		r.Agent,
		r.Page.EscapedTitle(),
		r.Granularity,
		r.Start.Format(DateLayout),
		r.End.Format(DateLayout),
	)
}

// CalendarDate truncates t to midnight UTC of its calendar day.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParsePageURL extracts the project domain and article title from a page URL.
//
// Accepted forms:
//
//	https://en.wikipedia.org/wiki/Title
//	https://en.m.wikipedia.org/wiki/Title
//	https://en.wikipedia.org/w/index.php?title=Title
func ParsePageURL(raw string) (PageID, error) {
	invalid := func(reason string) error {
		return &ValidationError{Field: "page url", Value: raw, Reason: reason}
	}

	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return PageID{}, invalid("not a valid URL")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return PageID{}, invalid("scheme must be http or https")
	}

	project, err := projectFromHost(u.Hostname())
	if err != nil {
		return PageID{}, invalid(err.Error())
	}

	var title string
	switch escaped := u.EscapedPath(); {
	case strings.HasPrefix(escaped, "/wiki/"):
		title, err = url.PathUnescape(strings.TrimPrefix(escaped, "/wiki/"))
		if err != nil {
			return PageID{}, invalid("malformed title escape")
		}
	case u.Path == "/w/index.php":
		title = u.Query().Get("title")
	default:
		return PageID{}, invalid("path must be /wiki/<title>")
	}

	title = strings.ReplaceAll(strings.TrimSpace(title), " ", "_")
	if title == "" {
		return PageID{}, invalid("missing article title")
	}

	return PageID{Project: project, Title: title}, nil
}

// projectFromHost turns "en.m.wikipedia.org" into "en.wikipedia".
func projectFromHost(host string) (string, error) {
	host = strings.ToLower(host)
	if !strings.HasSuffix(host, ".org") {
		return "", fmt.Errorf("host %q is not a Wikimedia project", host)
	}

	labels := strings.Split(strings.TrimSuffix(host, ".org"), ".")
	if len(labels) == 3 && labels[1] == "m" {
		labels = []string{labels[0], labels[2]}
	}
	if len(labels) != 2 {
		return "", fmt.Errorf("host %q must look like <edition>.<project>.org", host)
	}
	for _, l := range labels {
		if l == "" {
			return "", fmt.Errorf("host %q has an empty label", host)
		}
	}

	return strings.Join(labels, "."), nil
}
