package httpdl

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/tanq16/segload/internal/utils"
)

var (
	filenameRegex    = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)
	dispositionRegex = regexp.MustCompile(`(?i)filename=(.*)`)
)

// probeSize issues a plain GET and reads only the headers. The server must
// answer 200 with a positive Content-Length.
func probeSize(ctx context.Context, client utils.HTTPDoer, link string) (int64, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: error creating request: %v", ErrSizeResolution, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrSizeResolution, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, resp.Header, fmt.Errorf("%w: server returned %d", ErrSizeResolution, resp.StatusCode)
	}
	if resp.ContentLength <= 0 {
		return 0, resp.Header, fmt.Errorf("%w: server didn't provide a positive Content-Length", ErrSizeResolution)
	}
	return resp.ContentLength, resp.Header, nil
}

// resolveFileName picks the explicit name, then the last URL path element,
// then the Content-Disposition filename, then a random one.
func resolveFileName(explicit, link string, header http.Header) string {
	if explicit != "" {
		return explicit
	}
	if name := fileNameFromURL(link); name != "" {
		return name
	}
	if name := fileNameFromDisposition(header.Get("Content-Disposition")); name != "" {
		return name
	}
	return uuid.New().String() + ".tmp"
}

func fileNameFromURL(link string) string {
	parsedURL, err := url.Parse(link)
	if err != nil || parsedURL.Path == "" {
		return ""
	}
	return sanitizeFileName(path.Base(parsedURL.Path))
}

func fileNameFromDisposition(disposition string) string {
	if disposition == "" {
		return ""
	}
	if _, params, err := mime.ParseMediaType(disposition); err == nil {
		if fn := params["filename"]; fn != "" {
			return sanitizeFileName(fn)
		}
	}
	match := dispositionRegex.FindStringSubmatch(disposition)
	if len(match) < 2 {
		return ""
	}
	fn := strings.TrimSpace(match[1])
	if i := strings.IndexByte(fn, ';'); i >= 0 {
		fn = fn[:i]
	}
	return sanitizeFileName(strings.Trim(fn, `"' `))
}

func sanitizeFileName(name string) string {
	name = strings.TrimSpace(filenameRegex.ReplaceAllString(name, "_"))
	if name == "" || name == "." || name == ".." || strings.Trim(name, "_") == "" {
		return ""
	}
	return name
}
