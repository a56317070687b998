package school

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	appLog "famdigest/internal/log"
	"famdigest/internal/model"
)

// maxPageBytes bounds how much of a class page is read.
const maxPageBytes = 4 << 20

// FetchError reports a failed class page fetch for one person. It matches
// model.ErrSourceFetch with errors.Is.
type FetchError struct {
	Person string
	URL    string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("school page for %s: %v", e.Person, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{model.ErrSourceFetch, e.Err}
}

// blockElements start a new line when converting a page to text.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"tr": true, "td": true, "th": true, "table": true, "section": true,
	"article": true, "header": true, "footer": true, "blockquote": true,
	"pre": true, "hr": true, "dt": true, "dd": true,
}

// Fetcher downloads class pages and reduces them to plain text lines.
type Fetcher struct {
	client *http.Client
	policy *bluemonday.Policy
}

// NewFetcher returns a Fetcher whose requests give up after timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		policy: newTextPolicy(),
	}
}

// newTextPolicy keeps only structural elements. Struck-through text is
// cancelled information on class pages, so its content goes too.
func newTextPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "div", "br", "ul", "ol", "li",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"table", "tr", "td", "th", "section", "article",
		"header", "footer", "blockquote", "pre", "hr", "dt", "dd",
	)
	p.SkipElementsContent("s", "del", "strike", "script", "style", "nav", "noscript")
	return p
}

// Fetch returns the page text for person, one logical line per block
// element. A person without a URL yields empty text and no error.
func (f *Fetcher) Fetch(ctx context.Context, person model.Person) (string, error) {
	if person.SchoolURL == "" {
		return "", nil
	}
	fail := func(err error) (string, error) {
		return "", &FetchError{Person: person.Name, URL: person.SchoolURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, person.SchoolURL, nil)
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Accept", "text/html")

	appLog.Debug("school fetch start", "person", person.Name, "url", appLog.RedactURL(person.SchoolURL))

	resp, err := f.client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fail(errors.New(resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return fail(err)
	}

	text, err := f.Text(string(body))
	if err != nil {
		return fail(err)
	}
	appLog.Debug("school fetch success", "person", person.Name, "bytes", len(body))
	return text, nil
}

// Text strips presentational markup from page and returns its text with
// block elements and <br> as line breaks.
func (f *Fetcher) Text(page string) (string, error) {
	clean := f.policy.Sanitize(page)
	doc, err := html.Parse(strings.NewReader(clean))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			if blockElements[n.Data] {
				b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			b.WriteByte('\n')
		}
	}
	walk(doc)

	lines := strings.Split(b.String(), "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n"), nil
}
