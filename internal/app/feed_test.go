package app

import (
	"context"
	"encoding/xml"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agitracker/api/internal/store"
)

func TestFeedListsPublishedArticles(t *testing.T) {
	fs := newFakeStore()
	published := time.Date(2024, 2, 10, 8, 30, 0, 0, time.UTC)
	fs.articles[1] = store.Article{
		ID: 1, Slug: "launch-day", Title: "Launch Day", Body: strings.Repeat("x", 300),
		Tags: []string{"news"}, Published: true, PublishedAt: &published,
		AuthorName: "Ada", AuthorEmail: "ada@agitracker.io",
	}
	fs.articles[2] = store.Article{ID: 2, Slug: "draft", Title: "Draft", Body: "unpublished"}
	svc := newTestService(fs)

	body, err := svc.Feed(context.Background())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(body), xml.Header))

	var feed rssFeed
	require.NoError(t, xml.Unmarshal(body, &feed))
	assert.Equal(t, "AGI Tracker Blog", feed.Channel.Title)
	require.Len(t, feed.Channel.Items, 1)

	item := feed.Channel.Items[0]
	assert.Equal(t, "https://agitracker.io/blog/launch-day", item.Link)
	assert.Equal(t, "ada@agitracker.io (Ada)", item.Author)
	assert.Equal(t, published.Format(time.RFC1123), item.PubDate)
	assert.Len(t, []rune(item.Description), 200)
	assert.Equal(t, []string{"news"}, item.Categories)
}

func TestFeedDegradesToEmptyChannel(t *testing.T) {
	fs := newFakeStore()
	fs.listArticlesFn = func(context.Context, store.ArticleFilter) ([]store.Article, error) {
		return nil, errors.New("database is down")
	}
	svc := newTestService(fs)

	body, err := svc.Feed(context.Background())
	require.NoError(t, err)
	var feed rssFeed
	require.NoError(t, xml.Unmarshal(body, &feed))
	assert.Empty(t, feed.Channel.Items)
}

func TestSitemapIncludesStaticAndPublishedPages(t *testing.T) {
	fs := newFakeStore()
	fs.tools[1] = store.Tool{ID: 1, Slug: "test-tool", Approved: true, UpdatedAt: testNow}
	fs.tools[2] = store.Tool{ID: 2, Slug: "hidden", Approved: false}
	fs.articles[3] = store.Article{ID: 3, Slug: "launch-day", Published: true, UpdatedAt: testNow}
	svc := newTestService(fs)

	body, err := svc.Sitemap(context.Background())
	require.NoError(t, err)

	var set urlSet
	require.NoError(t, xml.Unmarshal(body, &set))
	locs := map[string]float64{}
	for _, u := range set.URLs {
		locs[u.Loc] = u.Priority
	}
	assert.Equal(t, map[string]float64{
		"https://agitracker.io":                 1,
		"https://agitracker.io/tools":           0.9,
		"https://agitracker.io/blog":            0.9,
		"https://agitracker.io/submit":          0.5,
		"https://agitracker.io/tools/test-tool": 0.8,
		"https://agitracker.io/blog/launch-day": 0.7,
	}, locs)
}

func TestViewToolBySlugOrID(t *testing.T) {
	fs := newFakeStore()
	fs.tools[7] = store.Tool{ID: 7, Slug: "test-tool", Approved: true}
	fs.tools[8] = store.Tool{ID: 8, Slug: "pending-tool", Approved: false}
	svc := newTestService(fs)

	bySlug, err := svc.ViewTool(context.Background(), "test-tool")
	require.NoError(t, err)
	assert.Equal(t, int64(7), bySlug.ID)

	byID, err := svc.ViewTool(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, 2, byID.Views)

	_, err = svc.ViewTool(context.Background(), "pending-tool")
	assert.Same(t, errToolNotFound, err)
}

func TestListToolsPagination(t *testing.T) {
	fs := newFakeStore()
	for i := int64(1); i <= 25; i++ {
		fs.tools[i] = store.Tool{ID: i, Slug: "tool-" + string(rune('a'+i)), Approved: true}
	}
	svc := newTestService(fs)

	result, err := svc.ListTools(context.Background(), store.ToolFilter{Page: 2, Limit: 500})
	require.NoError(t, err)
	pagination := result["pagination"].(Pagination)
	assert.Equal(t, Pagination{Page: 2, Limit: 100, Total: 25, TotalPages: 1}, pagination)
	assert.Empty(t, result["tools"])

	result, err = svc.ListTools(context.Background(), store.ToolFilter{})
	require.NoError(t, err)
	assert.Len(t, result["tools"], 20)
	assert.Equal(t, 2, result["pagination"].(Pagination).TotalPages)

	_, err = svc.ListTools(context.Background(), store.ToolFilter{Sort: "random"})
	require.Error(t, err)
}
