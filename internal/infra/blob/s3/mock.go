package s3

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const mockBucket = "mock-bucket"

// NewMockForTests returns a Store whose HTTP client talks to an in-process
// fake bucket. It covers the calls the Store makes, including If-Match.
func NewMockForTests() *Store {
	return newWithTransport(newFakeBucket())
}

func newWithTransport(rt http.RoundTripper) *Store {
	cfg := aws.Config{
		Region:           DefaultRegion,
		Credentials:      credentials.NewStaticCredentialsProvider("AKIA", "SECRET", ""),
		HTTPClient:       &http.Client{Transport: rt},
		RetryMaxAttempts: 1,
	}
	return newStore(cfg, mockBucket, func(o *s3.Options) {
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
}

type fakeObject struct {
	body        []byte
	contentType string
	etag        string
	modified    time.Time
}

// fakeBucket serves path-style requests for a single bucket from a map.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	writes  int
}

func newFakeBucket() *fakeBucket { return &fakeBucket{objects: make(map[string]fakeObject)} }

func reply(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: header}
}

func (b *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, key, _ := strings.Cut(strings.TrimPrefix(req.URL.Path, "/"), "/")
	switch {
	case req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2":
		return b.list(req.URL.Query().Get("prefix")), nil
	case req.Method == http.MethodHead, req.Method == http.MethodGet:
		return b.read(key, req.Method == http.MethodGet), nil
	case req.Method == http.MethodPut:
		return b.write(key, req)
	case req.Method == http.MethodDelete:
		delete(b.objects, key)
		return reply(http.StatusNoContent, "", nil), nil
	}
	return reply(http.StatusNotImplemented, "", nil), nil
}

func (b *fakeBucket) list(prefix string) *http.Response {
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
	for _, k := range keys {
		o := b.objects[k]
		fmt.Fprintf(&sb, "<Contents><Key>%s</Key><Size>%d</Size><ETag>&quot;%s&quot;</ETag><LastModified>%s</LastModified></Contents>",
			html.EscapeString(k), len(o.body), o.etag, o.modified.Format(time.RFC3339))
	}
	sb.WriteString("</ListBucketResult>")
	return reply(http.StatusOK, sb.String(), http.Header{"Content-Type": {"application/xml"}})
}

func (b *fakeBucket) read(key string, withBody bool) *http.Response {
	o, ok := b.objects[key]
	if !ok {
		return reply(http.StatusNotFound, "", nil)
	}
	body := ""
	if withBody {
		body = string(o.body)
	}
	return reply(http.StatusOK, body, http.Header{
		"Content-Length": {strconv.Itoa(len(o.body))},
		"Content-Type":   {o.contentType},
		"Etag":           {quote(o.etag)},
		"Last-Modified":  {o.modified.Format(http.TimeFormat)},
	})
}

func (b *fakeBucket) write(key string, req *http.Request) (*http.Response, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	if dec, ok := decodeSingleChunk(body); ok {
		body = dec
	}
	if want := unquote(req.Header.Get("If-Match")); want != "" {
		cur, ok := b.objects[key]
		if !ok {
			return reply(http.StatusNotFound, "", nil), nil
		}
		if cur.etag != want {
			return reply(http.StatusPreconditionFailed, "", nil), nil
		}
	}
	b.writes++
	etag := "v" + strconv.Itoa(b.writes)
	b.objects[key] = fakeObject{body: bytes.Clone(body), contentType: req.Header.Get("Content-Type"), etag: etag, modified: time.Now().UTC().Truncate(time.Second)}
	return reply(http.StatusOK, "", http.Header{"Etag": {quote(etag)}}), nil
}

// decodeSingleChunk unwraps an aws-chunked payload made of one data chunk
// followed by the terminating zero chunk and optional trailers.
func decodeSingleChunk(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	sizeField, _, _ := strings.Cut(parts[0], ";")
	size, err := strconv.ParseInt(sizeField, 16, 64)
	if err != nil || int64(len(parts[1])) != size || !strings.HasPrefix(parts[2], "0") {
		return nil, false
	}
	return []byte(parts[1]), true
}
