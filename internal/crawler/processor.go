package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractLinks parses body as HTML and returns every anchor target resolved
// against base, fragment stripped and normalized. Links that do not resolve to
// an absolute http(s) URL are dropped. Order follows the document.
func ExtractLinks(base string, body []byte) ([]string, error) {
	baseURL, err := parseAbsolute(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		link, ok := resolveLink(baseURL, href)
		if !ok {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links, nil
}

func resolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	scheme := strings.ToLower(abs.Scheme)
	if (scheme != "http" && scheme != "https") || abs.Host == "" {
		return "", false
	}
	return normalize(abs).String(), true
}
