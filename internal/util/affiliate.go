package util

import (
	"net/url"
)

// AffiliateLink returns rawURL with the affiliate tag set as the "tag"
// query parameter, replacing any tag already present. If the URL cannot
// be parsed the input is returned unchanged.
func AffiliateLink(rawURL, tag string) string {
	if tag == "" {
		return rawURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := parsed.Query()
	q.Set("tag", tag)
	parsed.RawQuery = q.Encode()
	return parsed.String()
}
