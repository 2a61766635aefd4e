// internal/ownership/source.go
package ownership

import (
	"compress/gzip"
	"context"
	_ "embed"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
)

//go:embed data/channels.json
var embeddedChannels []byte

// maxDatasetBytes caps what an HTTP source will read.
const maxDatasetBytes = 16 << 20

// Source loads the full dataset. It is called at most once per agent
// instance through a Dataset.
type Source interface {
	Load(ctx context.Context) ([]Record, error)
	Describe() string
}

// NewSource picks a source for location: "embedded" (or empty), an http(s)
// URL, or a filesystem path where "~" is expanded.
func NewSource(location string, client *http.Client) (Source, error) {
	switch {
	case location == "" || location == "embedded":
		return EmbeddedSource{}, nil
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		if client == nil {
			client = &http.Client{Timeout: 30 * time.Second}
		}
		return &HTTPSource{URL: location, Client: client}, nil
	default:
		path, err := homedir.Expand(location)
		if err != nil {
			return nil, fmt.Errorf("failed to expand dataset path: %w", err)
		}
		return FileSource{Path: path}, nil
	}
}

// Decode parses a dataset document.
func Decode(data []byte) ([]Record, error) {
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode dataset: %w", err)
	}
	return records, nil
}

// EmbeddedSource serves the sample dataset compiled into the binary.
type EmbeddedSource struct{}

func (EmbeddedSource) Load(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Decode(embeddedChannels)
}

func (EmbeddedSource) Describe() string { return "embedded" }

// FileSource reads a dataset from disk.
type FileSource struct {
	Path string
}

func (s FileSource) Load(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	return Decode(data)
}

func (s FileSource) Describe() string { return s.Path }

// HTTPSource fetches a dataset from a static URL, accepting brotli or gzip.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

func (s *HTTPSource) Load(ctx context.Context) ([]Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build dataset request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	// Setting this by hand turns off the transport's transparent gzip, so
	// both encodings are decoded below.
	req.Header.Set("Accept-Encoding", "br, gzip")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dataset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch dataset: unexpected status %s", resp.Status)
	}

	body, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(body, maxDatasetBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset body: %w", err)
	}
	return Decode(data)
}

func (s *HTTPSource) Describe() string { return s.URL }

func decodeBody(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return r, nil
	case "br":
		return brotli.NewReader(r), nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("invalid gzip dataset body: %w", err)
		}
		return zr, nil
	default:
		return nil, fmt.Errorf("unsupported dataset content encoding %q", encoding)
	}
}
