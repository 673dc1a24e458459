package chatapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/MikeSquared-Agency/archivist/internal/conversation"
)

// DefaultPageSize is the number of summaries requested per listing page.
const DefaultPageSize = 20

// Page is one listing page plus the service's total conversation count.
type Page struct {
	Items []conversation.Summary
	Total int
}

type listResponse struct {
	Items []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"items"`
	Total int `json:"total"`
}

func (c *Client) list(ctx context.Context, credential string, offset, limit int) (*listResponse, error) {
	path := fmt.Sprintf("/conversations?offset=%d&limit=%d", offset, limit)
	status, body, err := c.get(ctx, path, credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrList, err)
	}
	if !isSuccess(status) {
		return nil, &StatusError{Op: ErrList, StatusCode: status}
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse list: %v", ErrList, err)
	}
	return &resp, nil
}

// ListPage fetches up to DefaultPageSize summaries starting at offset. Each
// summary is stamped with that offset.
func (c *Client) ListPage(ctx context.Context, credential string, offset int) (Page, error) {
	resp, err := c.list(ctx, credential, offset, DefaultPageSize)
	if err != nil {
		return Page{}, err
	}

	items := make([]conversation.Summary, len(resp.Items))
	for i, it := range resp.Items {
		items[i] = conversation.Summary{ID: it.ID, Title: it.Title, Offset: offset}
	}

	c.logger.Debug("listed conversations", "offset", offset, "items", len(items), "total", resp.Total)
	return Page{Items: items, Total: resp.Total}, nil
}

// ListFirstID returns the id of the most recent conversation.
func (c *Client) ListFirstID(ctx context.Context, credential string) (string, error) {
	resp, err := c.list(ctx, credential, 0, 1)
	if err != nil {
		return "", err
	}
	if len(resp.Items) == 0 {
		return "", fmt.Errorf("%w: no conversations", ErrList)
	}
	return resp.Items[0].ID, nil
}

// FetchConversation retrieves a conversation document. A 429 response is
// retried after the rate-limit backoff until the attempt budget is spent.
func (c *Client) FetchConversation(ctx context.Context, credential, id string) (*conversation.RawDocument, error) {
	path := "/conversation/" + url.PathEscape(id)

	for attempt := 1; ; attempt++ {
		status, body, err := c.get(ctx, path, credential)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetch, err)
		}

		if status == http.StatusTooManyRequests && attempt < c.maxAttempts {
			c.logger.Warn("rate limited, backing off",
				"conversation_id", id,
				"attempt", attempt,
				"backoff", c.backoff,
			)
			if err := c.sleep(ctx, c.backoff); err != nil {
				return nil, err
			}
			continue
		}

		if !isSuccess(status) {
			return nil, &StatusError{Op: ErrFetch, StatusCode: status}
		}
		return conversation.Decode(body)
	}
}
