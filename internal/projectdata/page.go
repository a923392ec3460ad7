package projectdata

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// PageSource reads a plain URL. JSON responses (by content type or .json
// suffix) are read as project documents; anything else is parsed as HTML.
type PageSource struct {
	client *http.Client
}

func NewPageSource(client *http.Client) *PageSource {
	return &PageSource{client: client}
}

func (s *PageSource) Name() string { return "page" }

func (s *PageSource) Match(*url.URL) bool { return true }

func (s *PageSource) Fetch(ctx context.Context, u *url.URL) (Document, error) {
	body, contentType, err := getBody(ctx, s.client, u.String(), "application/json, text/html;q=0.9, */*;q=0.5")
	if err != nil {
		return Document{}, err
	}
	if strings.Contains(contentType, "json") || strings.HasSuffix(u.Path, ".json") {
		return parseJSONDocument(body), nil
	}
	return parseHTMLDocument(body, u)
}

// parseJSONDocument accepts both the native project layout and Data Package
// (datapackage.json) descriptors. Invalid JSON yields an empty document.
func parseJSONDocument(raw []byte) Document {
	var doc Document
	if !gjson.ValidBytes(raw) {
		return doc
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return doc
	}
	first := func(paths ...string) string {
		for _, p := range paths {
			if v := root.Get(p); v.Exists() && v.Type == gjson.String && strings.TrimSpace(v.String()) != "" {
				return v.String()
			}
		}
		return ""
	}

	fill(&doc.Name, first("title", "name"))
	if doc.Name == nil && (root.Get("title").Exists() || root.Get("name").Exists()) {
		doc.Name = String("")
	}
	fill(&doc.Summary, first("summary"))
	fill(&doc.Description, first("description", "longtext"))
	fill(&doc.HomepageURL, first("homepage_url", "webpage_url", "homepage"))
	fill(&doc.ContactURL, first("contact_url", "contributors.0.path", "contributors.0.email"))
	fill(&doc.SourceURL, first("source_url", "repository.url", "repository", "sources.0.path"))
	fill(&doc.ImageURL, first("image_url", "image", "logo"))
	return doc
}

type pageMeta struct {
	title         string
	description   string
	ogTitle       string
	ogDescription string
	ogImage       string
	ogURL         string
}

func parseHTMLDocument(raw []byte, base *url.URL) (Document, error) {
	root, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return Document{}, err
	}

	var meta pageMeta
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if meta.title == "" && n.FirstChild != nil {
					meta.title = n.FirstChild.Data
				}
			case atom.Meta:
				meta.apply(n)
			case atom.Body:
				// Metadata lives in head; skip the page content.
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	var doc Document
	fill(&doc.Name, firstNonEmpty(meta.ogTitle, meta.title))
	fill(&doc.Summary, firstNonEmpty(meta.ogDescription, meta.description))
	fill(&doc.HomepageURL, resolve(base, firstNonEmpty(meta.ogURL, base.String())))
	fill(&doc.ImageURL, resolve(base, meta.ogImage))
	return doc, nil
}

func (m *pageMeta) apply(n *html.Node) {
	var key, content string
	for _, attr := range n.Attr {
		switch strings.ToLower(attr.Key) {
		case "name", "property":
			key = strings.ToLower(strings.TrimSpace(attr.Val))
		case "content":
			content = attr.Val
		}
	}
	switch key {
	case "description":
		m.description = content
	case "og:title":
		m.ogTitle = content
	case "og:description":
		m.ogDescription = content
	case "og:image":
		m.ogImage = content
	case "og:url":
		m.ogURL = content
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(parsed).String()
}
