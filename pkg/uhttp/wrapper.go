package uhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/ratelimit"
)

type (
	HttpClient interface {
		Do(req *http.Request, options ...DoOption) (*http.Response, error)
		NewRequest(ctx context.Context, method string, url *url.URL, options ...RequestOption) (*http.Request, error)
	}
	BaseHttpClient struct {
		httpClient     *http.Client
		limiter        ratelimit.Limiter
		debugPrintBody bool
	}

	DoOption      func(*http.Response) error
	RequestOption func() (io.ReadWriter, map[string]string, error)
)

var _ HttpClient = (*BaseHttpClient)(nil)

type WrapperOption interface {
	Apply(*BaseHttpClient)
}

// StatusError is returned by Do when the server answers outside the 2xx range.
// The response is returned alongside it and its body has already been handled by the DoOptions.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
}

func NewBaseHttpClient(httpClient *http.Client, opts ...WrapperOption) *BaseHttpClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &BaseHttpClient{
		httpClient: httpClient,
		limiter:    ratelimit.NewUnlimited(),
	}
	for _, opt := range opts {
		opt.Apply(c)
	}
	return c
}

type rateLimitOption struct {
	perSecond int
}

func (o rateLimitOption) Apply(c *BaseHttpClient) {
	if o.perSecond > 0 {
		c.limiter = ratelimit.New(o.perSecond, ratelimit.WithoutSlack)
	}
}

// WithRateLimit paces requests to at most perSecond. Zero leaves requests unpaced.
func WithRateLimit(perSecond int) WrapperOption {
	return rateLimitOption{perSecond: perSecond}
}

// WithResponseBody reads the whole response body into body, whatever the status code.
func WithResponseBody(body *[]byte) DoOption {
	return func(resp *http.Response) error {
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		*body = b
		return nil
	}
}

func (c *BaseHttpClient) Do(req *http.Request, options ...DoOption) (*http.Response, error) {
	c.limiter.Take()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if c.debugPrintBody {
		resp.Body = wrapPrintBody(req.Context(), resp.Body)
	}

	for _, option := range options {
		err = option(resp)
		if err != nil {
			return nil, err
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	return resp, nil
}

func WithJSONBody(body interface{}) RequestOption {
	return func() (io.ReadWriter, map[string]string, error) {
		buffer := new(bytes.Buffer)
		err := json.NewEncoder(buffer).Encode(body)
		if err != nil {
			return nil, nil, err
		}

		_, headers, err := WithContentTypeJSONHeader()()
		if err != nil {
			return nil, nil, err
		}

		return buffer, headers, nil
	}
}

func WithHeader(key string, value string) RequestOption {
	return func() (io.ReadWriter, map[string]string, error) {
		return nil, map[string]string{
			key: value,
		}, nil
	}
}

func WithBearerToken(token string) RequestOption {
	return WithHeader("Authorization", "Bearer "+token)
}

func WithAcceptJSONHeader() RequestOption {
	return WithHeader("Accept", "application/json")
}

func WithContentTypeJSONHeader() RequestOption {
	return WithHeader("Content-Type", "application/json")
}

func (c *BaseHttpClient) NewRequest(ctx context.Context, method string, url *url.URL, options ...RequestOption) (*http.Request, error) {
	var buffer io.ReadWriter
	var headers map[string]string = make(map[string]string)
	for _, option := range options {
		buf, h, err := option()
		if err != nil {
			return nil, err
		}

		if buf != nil {
			buffer = buf
		}

		for k, v := range h {
			headers[k] = v
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url.String(), buffer)
	if err != nil {
		return nil, err
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req, nil
}
