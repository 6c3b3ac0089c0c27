package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// maxBodySize bounds how much of a response is read into memory.
var maxBodySize = 64 << 20

// download reads a catalogue resource. http(s) URLs are requested with the
// given headers; file:// URLs and bare paths are read from disk so a bundled
// or previously saved copy can stand in for the remote one.
func download(ctx context.Context, client *http.Client, source, location string, header http.Header) ([]byte, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, NewRetrievalError(source, fmt.Sprintf("invalid location %q", location), err)
	}

	switch u.Scheme {
	case "http", "https":
		return get(ctx, client, source, location, header)
	case "file":
		return readFile(source, u.Path)
	case "":
		return readFile(source, location)
	}
	return nil, NewRetrievalError(source, fmt.Sprintf("unsupported scheme %q", u.Scheme), nil)
}

func get(ctx context.Context, client *http.Client, source, location string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, NewRetrievalError(source, "creating request", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, NewRetrievalError(source, "requesting "+redact(location), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, NewAuthenticationError(source, fmt.Sprintf("server returned status %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, NewRetrievalError(source, fmt.Sprintf("server returned status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxBodySize)+1))
	if err != nil {
		return nil, NewRetrievalError(source, "reading response body", err)
	}
	if len(body) > maxBodySize {
		return nil, NewRetrievalError(source, fmt.Sprintf("response larger than %d bytes", maxBodySize), nil)
	}
	return body, nil
}

func readFile(source, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NewRetrievalError(source, fmt.Sprintf("catalogue file %s not found", path), err)
		}
		return nil, NewRetrievalError(source, "reading catalogue file", err)
	}
	return data, nil
}

// redact strips the query string, which for some sources carries paging and
// search parameters that only add noise to error messages.
func redact(location string) string {
	if i := strings.IndexByte(location, '?'); i >= 0 {
		return location[:i]
	}
	return location
}

// looksLikeHTML reports whether a body that should be data is an HTML page,
// which is what most services send back for errors and login walls.
func looksLikeHTML(body []byte) bool {
	s := strings.ToLower(strings.TrimSpace(string(body[:min(len(body), 512)])))
	return strings.HasPrefix(s, "<!doctype html") || strings.HasPrefix(s, "<html")
}
