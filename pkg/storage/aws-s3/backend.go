package awss3

import (
	"bytes"
	"errors"
	"net/url"
	"os"
	p "path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/ghzip/github-zip-server/pkg/e"
)

// Backend uploads archives to S3 or any S3-compatible store. Cloudflare R2
// works by pointing S3_ENDPOINT_URL at the account endpoint; credentials
// come from the usual AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY variables.
type Backend struct {
	BucketURL string
	Session   *session.Session
	Client    *s3.S3

	bucket    string
	prefix    string
	region    string
	endpoint  string
	publicURL string
}

func New(connectionString string) (*Backend, error) {
	region := os.Getenv("S3_REGION")
	if region == "" {
		region = "us-east-1"
	}
	endpoint := os.Getenv("S3_ENDPOINT_URL")

	cfg := aws.Config{Region: aws.String(region)}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return &Backend{}, err
	}

	backend := Backend{
		BucketURL: connectionString,
		Session:   sess,
		region:    region,
		endpoint:  endpoint,
		publicURL: strings.TrimSuffix(os.Getenv("S3_PUBLIC_URL"), "/"),
	}
	return &backend, nil
}

func (b *Backend) Setup() error {
	parsedURL, err := url.Parse(b.BucketURL)
	if err != nil {
		return err
	}

	if parsedURL.Scheme != "s3" {
		//goland:noinspection GoErrorStringFormat
		return errors.New("S3 url should be in the format of s3://bucket/prefix")
	}

	b.bucket = parsedURL.Host
	b.prefix = strings.TrimPrefix(parsedURL.Path, "/")

	b.Client = s3.New(b.Session)

	// Custom endpoints (R2, minio) report "auto" or nothing useful here, so
	// only real AWS gets its region resolved.
	if b.endpoint == "" {
		resp, err := b.Client.GetBucketLocation(&s3.GetBucketLocationInput{Bucket: aws.String(b.bucket)})
		if err != nil {
			return err
		}
		if resp.LocationConstraint != nil {
			b.region = *resp.LocationConstraint
			b.Session.Config.Region = resp.LocationConstraint
			b.Client = s3.New(b.Session, &aws.Config{Region: resp.LocationConstraint})
		}
	}

	return nil
}

func (b *Backend) Type() string {
	return "s3"
}

// Put uploads a sealed archive under key. The returned URL is the public
// base URL if one is configured, else a presigned GET.
func (b *Backend) Put(key string, data []byte, contentType string, ttl time.Duration) (string, error) {
	objectKey := p.Join(b.prefix, key)

	_, err := b.Client.PutObject(&s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Expires:     aws.Time(time.Now().Add(ttl)),
	})
	if err != nil {
		return "", err
	}

	if b.publicURL != "" {
		return b.publicURL + "/" + key, nil
	}
	return b.Presign(key, time.Hour)
}

func (b *Backend) Presign(key string, ttl time.Duration) (string, error) {
	objectKey := p.Join(b.prefix, key)

	req, _ := b.Client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	})
	return req.Presign(ttl)
}

func (b *Backend) Delete(key string) error {
	objectKey := p.Join(b.prefix, key)

	_, err := b.Client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	})
	return err
}

// ListOlderThan pages through the prefix and returns keys last modified
// before cutoff, relative to the backend prefix.
func (b *Backend) ListOlderThan(prefix string, cutoff time.Time) ([]string, error) {
	fullPrefix := p.Join(b.prefix, prefix)

	keys := make([]string, 0)
	err := b.Client.ListObjectsV2Pages(&s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(fullPrefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			if obj.LastModified != nil && obj.LastModified.Before(cutoff) {
				key := strings.TrimPrefix(strings.TrimPrefix(*obj.Key, b.prefix), "/")
				keys = append(keys, key)
			}
		}
		return true
	})
	return keys, err
}

func (b *Backend) GetFilePath(key string) (string, error) {
	return "", e.ErrNotImplemented
}
