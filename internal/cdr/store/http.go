package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	resty "github.com/go-resty/resty/v2"

	"github.com/restsend/active-call/internal/cdr"
)

// HTTP ships the record (and, if configured, its media/dump files) as one
// multipart POST to a webhook endpoint, using resty's multipart builder.
type HTTP struct {
	Client        *resty.Client
	URL           string
	Headers       map[string]string
	WithMedia     bool
	KeepMediaCopy bool
	Formatter     cdr.Formatter
}

// NewHTTP builds an HTTP backend, constructing a resty.Client if none is given.
func NewHTTP(url string, headers map[string]string, withMedia, keepMediaCopy bool, formatter cdr.Formatter) *HTTP {
	return &HTTP{
		Client:        resty.New(),
		URL:           url,
		Headers:       headers,
		WithMedia:     withMedia,
		KeepMediaCopy: keepMediaCopy,
		Formatter:     formatter,
	}
}

func (h *HTTP) Save(ctx context.Context, r *cdr.Record) error {
	body, err := h.Formatter.Format(r)
	if err != nil {
		return fmt.Errorf("cdr: format record: %w", err)
	}

	req := h.Client.R().SetContext(ctx).
		SetFormData(map[string]string{"calllog.json": string(body)})
	for k, v := range h.Headers {
		req.SetHeader(k, v)
	}

	if h.WithMedia {
		for _, m := range r.Recorder {
			data, readErr := os.ReadFile(m.Path)
			if readErr != nil {
				continue // media file already gone or never recorded; skip, don't fail the whole upload
			}
			req.SetMultipartField("media_"+m.TrackID, filepath.Base(m.Path), "application/octet-stream", bytes.NewReader(data))
		}
		if r.DumpEventFile != "" {
			if data, readErr := os.ReadFile(r.DumpEventFile); readErr == nil {
				name := filepath.Base(r.DumpEventFile)
				req.SetMultipartField("dump_events_"+name, name, "application/octet-stream", bytes.NewReader(data))
			}
		}
	}

	resp, err := req.Post(h.URL)
	if err != nil {
		return fmt.Errorf("cdr: http upload: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("cdr: http upload failed with status %s", resp.Status())
	}

	if !h.KeepMediaCopy {
		for _, m := range r.Recorder {
			os.Remove(m.Path)
		}
	}
	return nil
}
