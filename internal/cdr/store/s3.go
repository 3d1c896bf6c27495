package store

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/restsend/active-call/internal/cdr"
)

// Vendor selects which S3-compatible (or GCS) backend S3Like targets.
type Vendor string

const (
	VendorAWS          Vendor = "aws"
	VendorGCP          Vendor = "gcp"
	VendorAzure        Vendor = "azure"
	VendorAliyun       Vendor = "aliyun"
	VendorTencent      Vendor = "tencent"
	VendorMinio        Vendor = "minio"
	VendorDigitalOcean Vendor = "digitalocean"
)

// S3Like uploads the record JSON and (optionally) its media/dump files to an
// S3-compatible object store or GCS: aws/aliyun/tencent/minio/digitalocean
// all speak the S3 API against a custom endpoint via the same aws-sdk-go-v2
// client, while GCP is a distinct client via cloud.google.com/go/storage.
type S3Like struct {
	Vendor        Vendor
	Bucket        string
	Region        string
	AccessKey     string
	SecretKey     string
	Endpoint      string
	WithMedia     bool
	KeepMediaCopy bool
	Formatter     cdr.Formatter

	s3Client  *s3.Client
	gcsUpload func(ctx context.Context, objectPath string, content []byte) error
}

// NewS3Like builds an S3Like backend for vendor. GCP construction happens
// lazily on first Save so a missing GCP credential doesn't block process
// startup for calls that never hit this branch.
func NewS3Like(vendor Vendor, bucket, region, accessKey, secretKey, endpoint string, withMedia, keepMediaCopy bool, formatter cdr.Formatter) (*S3Like, error) {
	s := &S3Like{
		Vendor:        vendor,
		Bucket:        bucket,
		Region:        region,
		AccessKey:     accessKey,
		SecretKey:     secretKey,
		Endpoint:      endpoint,
		WithMedia:     withMedia,
		KeepMediaCopy: keepMediaCopy,
		Formatter:     formatter,
	}
	switch vendor {
	case VendorAWS, VendorAliyun, VendorTencent, VendorMinio, VendorDigitalOcean:
		opts, err := s3OptionsFor(vendor, region, accessKey, secretKey, endpoint)
		if err != nil {
			return nil, err
		}
		s.s3Client = s3.New(*opts)
	case VendorGCP:
		// The GCS client is built lazily on first upload via getGCSClient.
	case VendorAzure:
		return nil, fmt.Errorf("cdr: azure object store vendor is not wired (no azure-sdk-for-go dependency available)")
	default:
		return nil, fmt.Errorf("cdr: unknown s3-like vendor %q", vendor)
	}
	return s, nil
}

// s3OptionsFor resolves the s3.Options for a static-credential vendor. AWS
// proper falls back to the SDK's default credential chain (env vars, shared
// config file, IAM role) via config.LoadDefaultConfig when no access/secret
// key pair is configured, rather than requiring one explicitly; the other
// S3-compatible vendors always need an explicit key pair since they have no
// equivalent ambient credential chain.
func s3OptionsFor(vendor Vendor, region, accessKey, secretKey, endpoint string) (*s3.Options, error) {
	opts := s3.Options{Region: region}

	switch {
	case accessKey != "" && secretKey != "":
		opts.Credentials = credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
	case vendor == VendorAWS:
		cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("cdr: load default aws config: %w", err)
		}
		opts.Credentials = cfg.Credentials
	default:
		return nil, fmt.Errorf("cdr: vendor %q requires an explicit access/secret key pair", vendor)
	}

	if endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
	}
	if vendor != VendorAWS {
		// aliyun/tencent/minio/digitalocean are virtual-host-style
		// incompatible without a registered domain, mirroring the
		// Rust builder's with_virtual_hosted_style_request(false).
		opts.UsePathStyle = true
	}
	return &opts, nil
}

func (s *S3Like) Save(ctx context.Context, r *cdr.Record) error {
	body, err := s.Formatter.Format(r)
	if err != nil {
		return fmt.Errorf("cdr: format record: %w", err)
	}
	key := s.Formatter.FormatFileName(r)

	if err := s.put(ctx, key, body); err != nil {
		return fmt.Errorf("cdr: upload record: %w", err)
	}

	if s.WithMedia {
		for _, m := range r.Recorder {
			if err := s.uploadFile(ctx, s.Formatter.FormatMediaPath(r, m), m.Path); err != nil {
				return err
			}
		}
		if r.DumpEventFile != "" {
			if err := s.uploadFile(ctx, s.Formatter.FormatDumpEventsPath(r), r.DumpEventFile); err != nil {
				return err
			}
		}
	}

	if !s.KeepMediaCopy {
		for _, m := range r.Recorder {
			removeLocal(m.Path)
		}
	}
	return nil
}

func (s *S3Like) put(ctx context.Context, key string, body []byte) error {
	switch s.Vendor {
	case VendorGCP:
		return s.putGCS(ctx, key, body)
	default:
		_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.Bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(body),
		})
		return err
	}
}

func (s *S3Like) uploadFile(ctx context.Context, key, localPath string) error {
	data, err := readLocal(localPath)
	if err != nil {
		return nil // media file already gone; best-effort like the upstream implementation
	}
	if err := s.put(ctx, key, data); err != nil {
		return fmt.Errorf("cdr: upload %s: %w", key, err)
	}
	return nil
}
