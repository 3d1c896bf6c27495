package store

import (
	"fmt"

	"github.com/restsend/active-call/internal/cdr"
	"github.com/restsend/active-call/internal/config"
)

// Build selects and constructs the Backend named by cfg.Kind.
func Build(cfg config.CDRBackend) (cdr.Backend, error) {
	formatter := cdr.NewDefaultFormatter(cfg.Root)

	switch cfg.Kind {
	case "", "local":
		return &Local{
			Formatter:     formatter,
			WithMedia:     cfg.WithMedia,
			KeepMediaCopy: cfg.KeepMediaCopy,
		}, nil
	case "http":
		return NewHTTP(cfg.URL, cfg.Headers, cfg.WithMedia, cfg.KeepMediaCopy, formatter), nil
	case "s3":
		return NewS3Like(Vendor(cfg.Vendor), cfg.Bucket, cfg.Region, cfg.AccessKey, cfg.SecretKey, cfg.Endpoint, cfg.WithMedia, cfg.KeepMediaCopy, formatter)
	default:
		return nil, fmt.Errorf("cdr: unknown backend kind %q", cfg.Kind)
	}
}
