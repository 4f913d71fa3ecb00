package photos

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// DefaultEndpoint is the Photos Library API base URL.
const DefaultEndpoint = "https://photoslibrary.googleapis.com/v1"

// JSONGetter performs an authorized GET and decodes the JSON response.
// *http.Client from photosync/http satisfies it.
type JSONGetter interface {
	GetJSON(ctx context.Context, url string, v any) error
}

// Page is one page of the media item listing.
type Page struct {
	Items         []MediaItem
	NextPageToken string
}

// PageSource fetches listing pages. LibraryClient is the production
// implementation; tests substitute scripted sources.
type PageSource interface {
	ListPage(ctx context.Context, pageSize int, pageToken string) (*Page, error)
}

// LibraryClient calls the mediaItems endpoints of the Photos Library API.
type LibraryClient struct {
	api      JSONGetter
	endpoint string
}

// NewLibraryClient creates a client. An empty endpoint uses DefaultEndpoint.
func NewLibraryClient(api JSONGetter, endpoint string) *LibraryClient {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &LibraryClient{api: api, endpoint: endpoint}
}

// ListPage fetches one page. An empty pageToken requests the first page.
func (c *LibraryClient) ListPage(ctx context.Context, pageSize int, pageToken string) (*Page, error) {
	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(pageSize))
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	var resp struct {
		MediaItems    []MediaItem `json:"mediaItems"`
		NextPageToken string      `json:"nextPageToken"`
	}
	if err := c.api.GetJSON(ctx, c.endpoint+"/mediaItems?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return &Page{Items: resp.MediaItems, NextPageToken: resp.NextPageToken}, nil
}

// Get fetches a single item, which carries a fresh BaseURL.
func (c *LibraryClient) Get(ctx context.Context, id string) (*MediaItem, error) {
	var item MediaItem
	if err := c.api.GetJSON(ctx, c.endpoint+"/mediaItems/"+url.PathEscape(id), &item); err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, fmt.Errorf("media item %s: empty response", id)
	}
	return &item, nil
}

// Refresh re-resolves the BaseURL of item. It satisfies Refresher.
func (c *LibraryClient) Refresh(ctx context.Context, item MediaItem) (string, error) {
	fresh, err := c.Get(ctx, item.ID)
	if err != nil {
		return "", err
	}
	return fresh.BaseURL, nil
}
