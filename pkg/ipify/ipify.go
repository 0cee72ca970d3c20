package ipify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultURL answers with the caller's public IP as plain text.
const DefaultURL = "https://api.ipify.org"

// MyIP returns the public IP of this host without any proxy.
func MyIP(ctx context.Context) (string, error) {
	text, err := Fetch(ctx, http.DefaultClient, DefaultURL)
	if err != nil {
		return "", err
	}
	return ParseIdentity(text), nil
}

// Fetch GETs url with client and returns the response body.
func Fetch(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("%s returned status %d", url, res.StatusCode)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ParseIdentity extracts the IP from an identity page. httpbin answers with
// {"origin": "..."}, ipify's JSON format with {"ip": "..."}, and the plain
// endpoints with the bare address.
func ParseIdentity(text string) string {
	text = strings.TrimSpace(text)
	if gjson.Valid(text) {
		for _, field := range []string{"origin", "ip", "query"} {
			if v := gjson.Get(text, field); v.Exists() && v.String() != "" {
				// httpbin lists forwarded-for chains as "a, b"
				first, _, _ := strings.Cut(v.String(), ",")
				return strings.TrimSpace(first)
			}
		}
	}
	return text
}
