// Package demo loads the read-only demo story bundled with the editor.
package demo

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"storyboard/internal/story/model"
	"storyboard/pkg/logger"
)

//go:embed all:projects
var bundle embed.FS

// Bundle is the static tree served under /projects/.
func Bundle() fs.FS {
	return bundle
}

// Fetcher returns the demo document.
type Fetcher interface {
	Fetch(ctx context.Context) (*model.Document, error)
}

// DocumentPath is the conventional relative location of the demo document.
func DocumentPath() string {
	return path.Join("projects", model.DemoID, "story.json")
}

// candidates lists the demo path first and then the base-path-qualified fallback.
func candidates(basePath string) []string {
	paths := []string{DocumentPath()}
	if bp := strings.Trim(basePath, "/"); bp != "" {
		paths = append(paths, path.Join(bp, DocumentPath()))
	}
	return paths
}

// FSFetcher reads the demo from a file tree, the embedded bundle by default.
type FSFetcher struct {
	FS       fs.FS
	BasePath string
}

func NewFSFetcher() *FSFetcher {
	return &FSFetcher{FS: bundle}
}

func (f *FSFetcher) Fetch(ctx context.Context) (*model.Document, error) {
	var lastErr error
	for _, p := range candidates(f.BasePath) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrDemoUnavailable, err)
		}
		b, err := fs.ReadFile(f.FS, p)
		if err != nil {
			lastErr = err
			continue
		}
		return decode(b)
	}
	return nil, fmt.Errorf("%w: %v", model.ErrDemoUnavailable, lastErr)
}

// HTTPFetcher downloads the demo from the deployment serving the editor.
type HTTPFetcher struct {
	BaseURL  string
	BasePath string
	Client   *http.Client
}

func NewHTTPFetcher(baseURL, basePath string) *HTTPFetcher {
	return &HTTPFetcher{BaseURL: baseURL, BasePath: basePath, Client: http.DefaultClient}
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (*model.Document, error) {
	var lastErr error
	base := strings.TrimRight(f.BaseURL, "/")
	for _, p := range candidates(f.BasePath) {
		b, err := f.get(ctx, base+"/"+p)
		if err != nil {
			logger.Sugar.Debugf("Demo fetch from %s failed: %v", p, err)
			lastErr = err
			continue
		}
		return decode(b)
	}
	return nil, fmt.Errorf("%w: %v", model.ErrDemoUnavailable, lastErr)
}

func (f *HTTPFetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func decode(b []byte) (*model.Document, error) {
	var doc model.Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", model.ErrDemoUnavailable, err)
	}
	if doc.PageTitle == "" || doc.Blocks == nil {
		return nil, fmt.Errorf("%w: document needs pageTitle and blocks", model.ErrDemoUnavailable)
	}
	return &doc, nil
}
