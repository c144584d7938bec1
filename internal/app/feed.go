package app

import (
	"context"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"agitracker/api/internal/store"
)

const feedSize = 20

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Atom    string     `xml:"xmlns:atom,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Description   string    `xml:"description"`
	Link          string    `xml:"link"`
	Self          atomLink  `xml:"atom:link"`
	Language      string    `xml:"language"`
	LastBuildDate string    `xml:"lastBuildDate"`
	Items         []rssItem `xml:"item"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type rssItem struct {
	Title       string   `xml:"title"`
	Description string   `xml:"description"`
	Link        string   `xml:"link"`
	GUID        rssGUID  `xml:"guid"`
	PubDate     string   `xml:"pubDate"`
	Author      string   `xml:"author,omitempty"`
	Categories  []string `xml:"category"`
}

type rssGUID struct {
	IsPermaLink bool   `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

// Feed renders the RSS feed of the latest published articles. A failed query
// yields an empty channel rather than an error.
func (s *Service) Feed(ctx context.Context) ([]byte, error) {
	articles, err := s.store.ListArticles(ctx, store.ArticleFilter{Page: 1, Limit: feedSize})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("feed: list articles")
		articles = nil
	}

	base := s.cfg.BaseURL
	channel := rssChannel{
		Title:         "AGI Tracker Blog",
		Description:   "Latest news and articles about AI tools",
		Link:          base,
		Self:          atomLink{Href: base + "/feed.xml", Rel: "self", Type: "application/rss+xml"},
		Language:      "en-US",
		LastBuildDate: s.now().UTC().Format(time.RFC1123),
		Items:         make([]rssItem, 0, len(articles)),
	}
	for _, article := range articles {
		link := fmt.Sprintf("%s/blog/%s", base, article.Slug)
		published := article.CreatedAt
		if article.PublishedAt != nil {
			published = *article.PublishedAt
		}
		item := rssItem{
			Title:       article.Title,
			Description: articleSummary(article),
			Link:        link,
			GUID:        rssGUID{IsPermaLink: true, Value: link},
			PubDate:     published.UTC().Format(time.RFC1123),
			Categories:  article.Tags,
		}
		if article.AuthorName != "" {
			item.Author = fmt.Sprintf("%s (%s)", article.AuthorEmail, article.AuthorName)
		}
		channel.Items = append(channel.Items, item)
	}

	return marshalXML(rssFeed{Version: "2.0", Atom: "http://www.w3.org/2005/Atom", Channel: channel})
}

func articleSummary(article store.Article) string {
	if article.Excerpt != "" {
		return article.Excerpt
	}
	body := []rune(article.Body)
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc        string  `xml:"loc"`
	LastMod    string  `xml:"lastmod"`
	ChangeFreq string  `xml:"changefreq"`
	Priority   float64 `xml:"priority"`
}

// Sitemap lists the static pages, every approved tool and every published article.
func (s *Service) Sitemap(ctx context.Context) ([]byte, error) {
	var tools, articles []store.SitemapEntry
	err := fanOut(ctx,
		func(ctx context.Context) (err error) {
			tools, err = s.store.ListApprovedToolSlugs(ctx)
			return err
		},
		func(ctx context.Context) (err error) {
			articles, err = s.store.ListPublishedArticleSlugs(ctx)
			return err
		},
	)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("sitemap: list slugs")
		tools, articles = nil, nil
	}

	base := s.cfg.BaseURL
	now := s.now()
	urls := []sitemapURL{
		{Loc: base, LastMod: sitemapDate(now), ChangeFreq: "daily", Priority: 1},
		{Loc: base + "/tools", LastMod: sitemapDate(now), ChangeFreq: "daily", Priority: 0.9},
		{Loc: base + "/blog", LastMod: sitemapDate(now), ChangeFreq: "daily", Priority: 0.9},
		{Loc: base + "/submit", LastMod: sitemapDate(now), ChangeFreq: "monthly", Priority: 0.5},
	}
	for _, tool := range tools {
		urls = append(urls, sitemapURL{Loc: base + "/tools/" + tool.Slug, LastMod: sitemapDate(tool.UpdatedAt), ChangeFreq: "weekly", Priority: 0.8})
	}
	for _, article := range articles {
		urls = append(urls, sitemapURL{Loc: base + "/blog/" + article.Slug, LastMod: sitemapDate(article.UpdatedAt), ChangeFreq: "monthly", Priority: 0.7})
	}
	return marshalXML(urlSet{XMLNS: "http://www.sitemaps.org/schemas/sitemap/0.9", URLs: urls})
}

func sitemapDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func marshalXML(v any) ([]byte, error) {
	body, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode xml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
