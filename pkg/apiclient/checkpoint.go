package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/marmos91/dittonn/pkg/metadata/checkpoint"
	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
)

var _ checkpoint.Primary = (*Client)(nil)

// RollEditLog asks the primary to finalize its in-progress segment.
func (c *Client) RollEditLog(ctx context.Context) (checkpoint.Signature, error) {
	var sig checkpoint.Signature
	if err := c.post(ctx, "/checkpoint/roll", nil, &sig); err != nil {
		return checkpoint.Signature{}, err
	}
	return sig, nil
}

// GetImage downloads the primary's current image. The caller must close
// the returned reader.
func (c *Client) GetImage(ctx context.Context, sig checkpoint.Signature) (io.ReadCloser, int64, error) {
	return c.download(ctx, "/checkpoint/image", sig)
}

// GetEdits downloads the primary's finalized segment. The caller must close
// the returned reader.
func (c *Client) GetEdits(ctx context.Context, sig checkpoint.Signature) (io.ReadCloser, int64, error) {
	return c.download(ctx, "/checkpoint/edits", sig)
}

// PutImage uploads a merged image. When r yields fewer than length bytes
// the request is abandoned and a TransferSize error is returned.
func (c *Client) PutImage(ctx context.Context, sig checkpoint.Signature, txID uint64, r io.Reader, length int64) error {
	cr := &countingReader{r: r}
	var body io.Reader = cr
	if length == 0 {
		body = http.NoBody
	}

	req, err := c.signed(ctx, http.MethodPut, "/checkpoint/image", sig, txQuery(txID), body)
	if err != nil {
		return err
	}
	req.ContentLength = length
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if cr.n < length {
			return merrs.NewTransferSizeError("fsimage", length, cr.n)
		}
		return fmt.Errorf("upload failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	return checkStatus(resp)
}

// AdoptImage asks the primary to promote the uploaded image.
func (c *Client) AdoptImage(ctx context.Context, sig checkpoint.Signature, txID uint64) error {
	req, err := c.signed(ctx, http.MethodPost, "/checkpoint/adopt", sig, txQuery(txID), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	return checkStatus(resp)
}

func (c *Client) download(ctx context.Context, path string, sig checkpoint.Signature) (io.ReadCloser, int64, error) {
	req, err := c.signed(ctx, http.MethodGet, path, sig, nil, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("download failed: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		_ = resp.Body.Close()
		return nil, 0, err
	}
	if resp.ContentLength < 0 {
		_ = resp.Body.Close()
		return nil, 0, errors.New("download failed: response has no Content-Length")
	}
	return resp.Body, resp.ContentLength, nil
}

func txQuery(txID uint64) url.Values {
	return url.Values{"txid": {strconv.FormatUint(txID, 10)}}
}

// signed builds a checkpoint request carrying sig.
func (c *Client) signed(ctx context.Context, method, path string, sig checkpoint.Signature, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(checkpoint.SignatureHeader, sig.String())
	return req, nil
}

// checkStatus drains an error response into an error. Successful responses
// are left untouched.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	return decodeError(resp.StatusCode, body)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
