package checkpoint

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tencentyun/cos-go-sdk-v5"
)

// cosConfig holds Tencent Cloud Object Storage connection parameters.
type cosConfig struct {
	Bucket    string
	Region    string
	SecretID  string
	SecretKey string
	Domain    string // e.g. "myqcloud.com"
	Scheme    string // "https" or "http"
}

// cosStore implements Store against Tencent Cloud COS, used when a run's
// checkpoints must survive past the lifetime of the worker's local disk.
type cosStore struct {
	client *cos.Client
	bucket string
	region string
}

func newCOSStore(cfg *cosConfig) (*cosStore, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, fmt.Errorf("checkpoint: bucket and region are required for cos backend")
	}
	if cfg.SecretID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("checkpoint: credentials are required for cos backend")
	}

	domain := cfg.Domain
	if domain == "" {
		domain = "myqcloud.com"
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "https"
	}

	bucketURL, err := url.Parse(fmt.Sprintf("%s://%s.cos.%s.%s", scheme, cfg.Bucket, cfg.Region, domain))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: parse bucket url: %w", err)
	}
	serviceURL, err := url.Parse(fmt.Sprintf("%s://cos.%s.%s", scheme, cfg.Region, domain))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: parse service url: %w", err)
	}

	client := cos.NewClient(&cos.BaseURL{
		BucketURL:  bucketURL,
		ServiceURL: serviceURL,
	}, &http.Client{
		Transport: &cos.AuthorizationTransport{
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
		},
	})

	return &cosStore{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

func (s *cosStore) Put(ctx context.Context, key string, r io.Reader) error {
	if _, err := s.client.Object.Put(ctx, key, r, nil); err != nil {
		return fmt.Errorf("checkpoint: put object to cos: %w", err)
	}
	return nil
}

func (s *cosStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.Object.Get(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: get object from cos: %w", err)
	}
	return resp.Body, nil
}

func (s *cosStore) Delete(ctx context.Context, key string) error {
	if _, err := s.client.Object.Delete(ctx, key, nil); err != nil {
		return fmt.Errorf("checkpoint: delete object from cos: %w", err)
	}
	return nil
}

func (s *cosStore) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.Object.IsExist(ctx, key)
	if err != nil {
		return false, fmt.Errorf("checkpoint: check existence in cos: %w", err)
	}
	return ok, nil
}
