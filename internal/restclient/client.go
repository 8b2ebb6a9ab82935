// Package restclient talks to the inference backend over HTTP multipart.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"go.uber.org/zap"

	"github.com/example/image-check/internal/inference"
	"github.com/example/image-check/internal/logging"
)

// FileField is the multipart field the backend reads the image from.
const FileField = "file"

// DefaultURL is the backend the page was built against.
const DefaultURL = "http://127.0.0.1:5000/predict"

// Client posts images to the prediction endpoint.
type Client struct {
	url    string
	http   *http.Client
	logger *zap.Logger
}

// New returns a Client for url. A nil httpClient gets one without a timeout;
// callers bound the call through the context instead.
func New(url string, httpClient *http.Client, logger *zap.Logger) *Client {
	if url == "" {
		url = DefaultURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{url: url, http: httpClient, logger: logger.Named("restclient")}
}

// Predict sends img as a single multipart part and decodes {"result": <int>}.
func (c *Client) Predict(ctx context.Context, img inference.Image) (*inference.Prediction, error) {
	body, contentType, err := encodeImage(img)
	if err != nil {
		return nil, logging.NewOperationError("restclient.encode", "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return nil, logging.NewOperationError("restclient.new_request", "", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		wrapped := logging.NewOperationError("restclient.predict", "", err)
		c.logger.Warn("prediction request failed", zap.Error(wrapped), zap.String("url", c.url))
		return nil, wrapped
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		wrapped := logging.NewOperationError("restclient.predict", "", err)
		c.logger.Warn("prediction rejected", zap.Error(wrapped), zap.Int("status", resp.StatusCode))
		return nil, wrapped
	}

	pred, err := decodePrediction(resp.Body)
	if err != nil {
		wrapped := logging.NewOperationError("restclient.decode", "", err)
		c.logger.Warn("malformed prediction response", zap.Error(wrapped))
		return nil, wrapped
	}
	return pred, nil
}

func encodeImage(img inference.Image) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	filename := img.Filename
	if filename == "" {
		filename = "upload"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FileField, filename))
	contentType := img.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf, writer.FormDataContentType(), nil
}

var errTrailingData = errors.New("unexpected data after JSON document")

// decodePrediction accepts a single JSON document. Only a numeric "result"
// field of an object is read; anything else yields a non-numeric prediction.
func decodePrediction(r io.Reader) (*inference.Prediction, error) {
	dec := json.NewDecoder(r)
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}

	pred := &inference.Prediction{}
	obj, ok := doc.(map[string]any)
	if !ok {
		return pred, nil
	}
	if v, ok := obj["result"].(float64); ok {
		pred.Label, pred.Numeric = inference.LabelFromNumber(v)
	}
	return pred, nil
}
