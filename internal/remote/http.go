package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/cocofetch/cocofetch/internal/utils"
)

var filenameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

// HTTPSource reads an object over HTTP(S) with Range GETs.
type HTTPSource struct {
	url    string
	client utils.HTTPDoer
}

func NewHTTPSource(link string, client utils.HTTPDoer) (*HTTPSource, error) {
	parsedURL, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", parsedURL.Scheme)
	}
	return &HTTPSource{url: link, client: client}, nil
}

func (s *HTTPSource) Probe(ctx context.Context) (FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "HEAD", s.url, nil)
	if err != nil {
		return FileInfo{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return FileInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return FileInfo{}, &StatusError{Code: resp.StatusCode}
	}
	info := FileInfo{
		Name: filenameFromDisposition(resp.Header.Get("Content-Disposition")),
		ETag: strings.Trim(resp.Header.Get("ETag"), `"`),
	}
	if resp.Header.Get("Accept-Ranges") != "bytes" {
		return info, ErrRangeNotSupported
	}
	contentLength := resp.Header.Get("Content-Length")
	if contentLength == "" {
		return info, errors.New("server didn't provide Content-Length header")
	}
	size, err := strconv.ParseInt(contentLength, 10, 64)
	if err != nil {
		return info, err
	}
	if size <= 0 {
		return info, errors.New("invalid file size reported by server")
	}
	info.Size = size
	return info, nil
}

func (s *HTTPSource) OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	req.Header.Set("Connection", "keep-alive")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusOK {
		// Server ignored the Range header and is returning the full body.
		resp.Body.Close()
		return nil, ErrRangeNotSupported
	}
	if resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode}
	}
	if resp.Header.Get("Content-Range") == "" {
		resp.Body.Close()
		return nil, ErrRangeNotSupported
	}
	return resp.Body, nil
}

func filenameFromDisposition(contentDisposition string) string {
	if contentDisposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentDisposition)
	if err != nil {
		return ""
	}
	if fn, ok := params["filename"]; ok && fn != "" {
		return filenameRegex.ReplaceAllString(fn, "_")
	}
	if fn, ok := params["filename*"]; ok && fn != "" {
		if strings.HasPrefix(fn, "UTF-8''") {
			unescaped, _ := url.PathUnescape(strings.TrimPrefix(fn, "UTF-8''"))
			return filenameRegex.ReplaceAllString(unescaped, "_")
		}
	}
	return ""
}
