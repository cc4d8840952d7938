package service

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const sitemapTimeout = 30 * time.Second

type sitemapURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod"`
	ChangeFreq string `xml:"changefreq"`
	Priority   string `xml:"priority"`
}

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	Xmlns   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

// SitemapGenerator writes an XML sitemap listing the homepage and every
// active short link. Regeneration is fire-and-forget: callers poke it
// after mutations and never wait for the write.
type SitemapGenerator struct {
	repo    LinkRepository
	baseURL string
	path    string
	logger  *slog.Logger

	// mu serializes file writes; concurrent regenerations would
	// otherwise race on the rename.
	mu sync.Mutex
}

func NewSitemapGenerator(repo LinkRepository, baseURL, path string, logger *slog.Logger) *SitemapGenerator {
	return &SitemapGenerator{
		repo:    repo,
		baseURL: baseURL,
		path:    path,
		logger:  logger,
	}
}

// Regenerate rebuilds the sitemap in the background. Failures are
// logged and never surface to the mutation that triggered them.
func (g *SitemapGenerator) Regenerate() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sitemapTimeout)
		defer cancel()

		if err := g.Generate(ctx); err != nil {
			g.logger.Error("failed to regenerate sitemap", slog.Any("err", err))
		}
	}()
}

// Generate writes the sitemap synchronously. The file is written to a
// temp path and renamed so readers never observe a partial sitemap.
func (g *SitemapGenerator) Generate(ctx context.Context) error {
	const op = "service.SitemapGenerator.Generate"

	links, err := g.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("%s: failed to list active links: %w", op, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	set := sitemapURLSet{
		Xmlns: "http://www.sitemaps.org/schemas/sitemap/0.9",
		URLs: []sitemapURL{{
			Loc:        g.baseURL + "/",
			LastMod:    now,
			ChangeFreq: "daily",
			Priority:   "1.0",
		}},
	}

	for _, link := range links {
		set.URLs = append(set.URLs, sitemapURL{
			Loc:        g.baseURL + "/" + link.ShortCode,
			LastMod:    link.UpdatedAt.UTC().Format(time.RFC3339),
			ChangeFreq: "weekly",
			Priority:   "0.6",
		})
	}

	data, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("%s: failed to marshal sitemap: %w", op, err)
	}
	data = append([]byte(xml.Header), data...)

	g.mu.Lock()
	defer g.mu.Unlock()

	tmp := filepath.Join(filepath.Dir(g.path), ".sitemap.xml.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%s: failed to write sitemap: %w", op, err)
	}
	if err := os.Rename(tmp, g.path); err != nil {
		return fmt.Errorf("%s: failed to replace sitemap: %w", op, err)
	}

	return nil
}
