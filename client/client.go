// Package client talks to an imgdrop server over HTTP.
package client // import "github.com/nicolagi/imgdrop/client"

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/nicolagi/imgdrop/api"
)

var (
	// ErrNotFound indicates the server has no file for the given key.
	ErrNotFound = errors.New("not found")
)

type Option func(*Client)

func WithHTTPClient(value *http.Client) Option {
	return func(c *Client) {
		c.http = value
	}
}

type Client struct {
	base string
	http *http.Client
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: http.DefaultClient,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Upload streams r to the server as a multipart upload. The body is produced
// while it is sent, so r is never held in memory in full.
func (c *Client) Upload(ctx context.Context, filename, contentType string, r io.Reader) (keys api.UploadResponse, err error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/upload", pr)
	if err != nil {
		_ = pr.Close()
		return keys, err
	}
	request.Header.Set("Content-Type", mw.FormDataContentType())
	err = c.do(request, http.StatusCreated, func(body io.Reader) error {
		return json.NewDecoder(body).Decode(&keys)
	})
	_ = pr.Close()
	return keys, err
}

// Get returns the stored file and its content type. The caller must close the
// returned stream.
func (c *Client) Get(ctx context.Context, lookupKey string) (body io.ReadCloser, contentType string, err error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/"+url.PathEscape(lookupKey), nil)
	if err != nil {
		return nil, "", err
	}
	response, err := c.http.Do(request)
	if err != nil {
		return nil, "", err
	}
	if response.StatusCode != http.StatusOK {
		defer func() {
			_ = response.Body.Close()
		}()
		return nil, "", responseError(response)
	}
	return response.Body, response.Header.Get("Content-Type"), nil
}

func (c *Client) Delete(ctx context.Context, deletionKey string) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/delete/"+url.PathEscape(deletionKey), nil)
	if err != nil {
		return err
	}
	return c.do(request, http.StatusOK, nil)
}

func (c *Client) do(request *http.Request, want int, decode func(io.Reader) error) error {
	response, err := c.http.Do(request)
	if response != nil && response.Body != nil {
		defer func() {
			_ = response.Body.Close()
		}()
	}
	if err != nil {
		return err
	}
	if response.StatusCode != want {
		return responseError(response)
	}
	if decode == nil {
		return nil
	}
	return decode(response.Body)
}

func responseError(response *http.Response) error {
	body, err := ioutil.ReadAll(response.Body)
	if err != nil {
		return err
	}
	var e struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		message = e.Error
	}
	if response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", message, ErrNotFound)
	}
	return fmt.Errorf("%s: %s", response.Status, message)
}
