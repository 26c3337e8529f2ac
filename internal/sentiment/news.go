package sentiment

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

// NewsFeed pulls headlines from an RSS feed URL template ("%s" becomes the symbol).
type NewsFeed struct {
	client      *resty.Client
	urlTemplate string
}

func NewNewsFeed(urlTemplate string, timeout time.Duration) *NewsFeed {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("User-Agent", "Mozilla/5.0 (compatible; autotrader/1.0)")
	return &NewsFeed{client: client, urlTemplate: urlTemplate}
}

func (n *NewsFeed) Headlines(ctx context.Context, symbol string, limit int) ([]string, error) {
	url := n.urlTemplate
	if strings.Contains(url, "%s") {
		url = fmt.Sprintf(url, symbol)
	}
	resp, err := n.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch headlines for %s: %w", symbol, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch headlines for %s: status %d", symbol, resp.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.String()))
	if err != nil {
		return nil, fmt.Errorf("parse feed for %s: %w", symbol, err)
	}

	var out []string
	doc.Find("item").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		title := strings.TrimSpace(s.Find("title").First().Text())
		if title != "" {
			out = append(out, title)
		}
		return limit <= 0 || len(out) < limit
	})
	return out, nil
}
