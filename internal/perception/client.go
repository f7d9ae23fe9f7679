package perception

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultParseTimeout = 60 * time.Second
	maxParseRetries     = 2
	parseRetryWait      = 2 * time.Second
)

// Client talks to the screen-parser service, which converts screenshots
// into element lists and answers visual questions.
type Client struct {
	http *resty.Client
}

// NewClient builds a client for the parser service at baseURL.
func NewClient(baseURL string) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultParseTimeout).
		SetRetryCount(maxParseRetries).
		SetRetryWaitTime(parseRetryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				var netErr net.Error
				return errors.As(err, &netErr) && netErr.Timeout()
			}
			code := r.StatusCode()
			return code == 429 || code >= 500
		})
	return &Client{http: http}
}

type parseRequest struct {
	Screenshot string `json:"screenshot"`
}

type parseResponse struct {
	Elements []Element `json:"elements"`
}

// Parse submits a PNG screenshot and returns the detected elements.
func (c *Client) Parse(ctx context.Context, png []byte) ([]Element, error) {
	var out parseResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(parseRequest{Screenshot: base64.StdEncoding.EncodeToString(png)}).
		SetResult(&out).
		Post("/parse")
	if err != nil {
		return nil, fmt.Errorf("screen parser: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("screen parser: status %d: %s", resp.StatusCode(), resp.String())
	}
	return out.Elements, nil
}

type domBatchRequest struct {
	ElementIDs []int `json:"element_ids"`
}

type domBatchResponse struct {
	Details map[int]DOMDetail `json:"details"`
}

// QueryDOMBatch fetches DOM details for the given element ids from the
// parser's last analyzed frame.
func (c *Client) QueryDOMBatch(ctx context.Context, ids []int) (map[int]DOMDetail, error) {
	var out domBatchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(domBatchRequest{ElementIDs: ids}).
		SetResult(&out).
		Post("/query_dom_batch")
	if err != nil {
		return nil, fmt.Errorf("screen parser: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("screen parser: status %d: %s", resp.StatusCode(), resp.String())
	}
	return out.Details, nil
}

type analyzeRequest struct {
	Screenshot string `json:"screenshot"`
	Question   string `json:"question"`
}

type analyzeResponse struct {
	Answer   string    `json:"answer"`
	Elements []Element `json:"elements"`
}

// Analyze asks the parser's vision model a free-form question about the
// screenshot. Any elements it reports are renumbered into the visual
// namespace so they cannot shadow parser-detected ids.
func (c *Client) Analyze(ctx context.Context, png []byte, question string) (string, []Element, error) {
	var out analyzeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(analyzeRequest{Screenshot: base64.StdEncoding.EncodeToString(png), Question: question}).
		SetResult(&out).
		Post("/analyze")
	if err != nil {
		return "", nil, fmt.Errorf("screen parser: %w", err)
	}
	if resp.IsError() {
		return "", nil, fmt.Errorf("screen parser: status %d: %s", resp.StatusCode(), resp.String())
	}
	for i := range out.Elements {
		if out.Elements[i].ID < VisualElementIDBase {
			out.Elements[i].ID += VisualElementIDBase
		}
	}
	return out.Answer, out.Elements, nil
}
