// Package store is the client for the remote marker persistence service,
// a JSON over HTTP collaborator with one endpoint per operation. Every
// call is a single round trip; there is no automatic retry, callers decide
// whether to retry a failed call.
package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/matematik7/travelmap-go/markers"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
	}
}

type statusResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	ID       string `json:"id"`
	FilePath string `json:"filePath"`
	Error    string `json:"error"`
}

func (c *Client) request(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
}

func (c *Client) do(op string, req *http.Request, response interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindTransport, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &Error{Kind: KindNotFound, Op: op, Err: errors.Errorf("store error: %v", resp.Status)}
	}
	if resp.StatusCode/100 != 2 {
		return &Error{Kind: KindRejected, Op: op, Err: errors.Errorf("store error: %v", resp.Status)}
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil {
		return &Error{Kind: KindTransport, Op: op, Err: errors.Wrap(err, "could not decode response")}
	}

	return nil
}

func (c *Client) get(ctx context.Context, op, path string, response interface{}) error {
	req, err := c.request(ctx, "GET", path, nil)
	if err != nil {
		return errors.Wrap(err, "could not create request")
	}
	return c.do(op, req, response)
}

func (c *Client) post(ctx context.Context, op, path string, body, response interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "could not encode request")
	}
	req, err := c.request(ctx, "POST", path, bytes.NewReader(encoded))
	if err != nil {
		return errors.Wrap(err, "could not create request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req, response)
}

func (c *Client) status(ctx context.Context, op, path string, body interface{}) (statusResponse, error) {
	var resp statusResponse
	if err := c.post(ctx, op, path, body, &resp); err != nil {
		return resp, err
	}
	if resp.Status != "success" {
		return resp, &Error{Kind: KindRejected, Op: op, Err: errors.Errorf("store rejected: %s", resp.Message)}
	}
	return resp, nil
}

// List fetches the full marker collection.
func (c *Client) List(ctx context.Context) ([]markers.Marker, error) {
	var response []markers.Marker
	if err := c.get(ctx, "list", "/markers", &response); err != nil {
		return nil, err
	}
	return response, nil
}

// Get fetches a single marker by id, straight from the store rather than
// from any local snapshot.
func (c *Client) Get(ctx context.Context, id string) (markers.Marker, error) {
	var response struct {
		markers.Marker
		Error string `json:"error"`
	}
	path := fmt.Sprintf("/marker?id=%s", url.QueryEscape(id))
	if err := c.get(ctx, "get", path, &response); err != nil {
		return markers.Marker{}, err
	}
	if response.Error != "" {
		return markers.Marker{}, &Error{Kind: KindNotFound, Op: "get", Err: errors.New(response.Error)}
	}
	return response.Marker, nil
}

// Create persists a new marker and returns it with the store-assigned id.
func (c *Client) Create(ctx context.Context, m markers.Marker) (markers.Marker, error) {
	if m.ID != "" {
		return markers.Marker{}, errors.Errorf("marker %s already has an id", m.ID)
	}
	resp, err := c.status(ctx, "create", "/markers", m)
	if err != nil {
		return markers.Marker{}, err
	}
	m.ID = resp.ID
	return m, nil
}

// Update replaces the stored marker and returns the stored version.
func (c *Client) Update(ctx context.Context, m markers.Marker) (markers.Marker, error) {
	if m.ID == "" {
		return markers.Marker{}, errors.New("cannot update marker without id")
	}
	if _, err := c.status(ctx, "update", "/markers/update", m); err != nil {
		return markers.Marker{}, err
	}
	return m, nil
}

// Delete removes the marker with the given id.
func (c *Client) Delete(ctx context.Context, id string) error {
	body := struct {
		ID string `json:"id"`
	}{ID: id}
	_, err := c.status(ctx, "delete", "/markers/delete", body)
	return err
}

// UploadImage sends a picture payload and returns the stored file path.
func (c *Client) UploadImage(ctx context.Context, data []byte) (string, error) {
	req, err := c.request(ctx, "POST", "/images", bytes.NewReader(data))
	if err != nil {
		return "", errors.Wrap(err, "could not create request")
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var resp statusResponse
	if err := c.do("upload", req, &resp); err != nil {
		return "", err
	}
	if resp.Status != "success" {
		return "", &Error{Kind: KindRejected, Op: "upload", Err: errors.Errorf("store rejected: %s", resp.Message)}
	}
	return resp.FilePath, nil
}
