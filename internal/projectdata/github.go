package projectdata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// GitHubSource reads repository metadata and README from the GitHub REST API.
type GitHubSource struct {
	client  *http.Client
	baseURL string
}

func NewGitHubSource(client *http.Client, apiURL string) *GitHubSource {
	if apiURL == "" {
		apiURL = "https://api.github.com"
	}
	return &GitHubSource{client: client, baseURL: strings.TrimRight(apiURL, "/")}
}

func (s *GitHubSource) Name() string { return "github" }

func (s *GitHubSource) Match(u *url.URL) bool {
	_, _, ok := githubRepo(u)
	return ok
}

func (s *GitHubSource) Fetch(ctx context.Context, u *url.URL) (Document, error) {
	owner, repo, ok := githubRepo(u)
	if !ok {
		return Document{}, errUnsupportedURL
	}
	endpoint := fmt.Sprintf("%s/repos/%s/%s", s.baseURL, url.PathEscape(owner), url.PathEscape(repo))

	body, _, err := getBody(ctx, s.client, endpoint, "application/vnd.github+json")
	if err != nil {
		return Document{}, err
	}
	if !gjson.ValidBytes(body) {
		return Document{}, fmt.Errorf("decode repository: invalid json")
	}

	meta := gjson.ParseBytes(body)
	var doc Document
	fill(&doc.Name, meta.Get("name").String())
	fill(&doc.Summary, meta.Get("description").String())
	fill(&doc.HomepageURL, meta.Get("homepage").String())
	htmlURL := meta.Get("html_url").String()
	fill(&doc.SourceURL, htmlURL)
	if htmlURL != "" && meta.Get("has_issues").Bool() {
		fill(&doc.ContactURL, htmlURL+"/issues")
	}
	fill(&doc.ImageURL, meta.Get("owner.avatar_url").String())

	// The README is optional; a repository without one still syncs.
	readme, _, err := getBody(ctx, s.client, endpoint+"/readme", "application/vnd.github.raw")
	if err == nil {
		fill(&doc.Description, string(readme))
	}
	return doc, nil
}

// githubRepo extracts owner and repository from a github.com URL.
func githubRepo(u *url.URL) (string, string, bool) {
	host := strings.ToLower(u.Hostname())
	if host != "github.com" && host != "www.github.com" {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), true
}
