// Package s3client builds AWS SDK clients pointed at the server under test
// and provides the smoke-test round trip used to verify a freshly started
// instance actually serves requests.
package s3client

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

// Client wraps an S3 client together with its HTTP transport so held
// connections can be released before the server shuts down.
type Client struct {
	S3 *s3.Client

	transport *http.Transport
}

// Options configures client construction.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string

	// InsecureTLS skips certificate verification, for servers running with
	// self-signed test certificates.
	InsecureTLS bool
}

// New builds a path-style S3 client against the given endpoint.
func New(ctx context.Context, opts Options) (*Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKey,
			opts.SecretKey,
			"",
		)),
		awsconfig.WithHTTPClient(&http.Client{Transport: transport}),
	)
	if err != nil {
		return nil, fmt.Errorf("s3client: load config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(opts.Endpoint)
		o.UsePathStyle = true
	})

	return &Client{S3: client, transport: transport}, nil
}

// Close releases idle connections held against the server. Satisfies the
// controller's linked-connection contract.
func (c *Client) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

// Smoke performs a full bucket round trip: create, put, get, delete object,
// delete bucket. It verifies the stored body came back intact.
func (c *Client) Smoke(ctx context.Context) error {
	bucket := "smoke-" + uuid.NewString()
	key := "smoke.txt"
	body := []byte("s3harness smoke test\n")

	if _, err := c.S3.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return fmt.Errorf("s3client: create bucket: %w", err)
	}

	if _, err := c.S3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}); err != nil {
		return fmt.Errorf("s3client: put object: %w", err)
	}

	out, err := c.S3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3client: get object: %w", err)
	}
	got, err := io.ReadAll(out.Body)
	_ = out.Body.Close()
	if err != nil {
		return fmt.Errorf("s3client: read object: %w", err)
	}
	if !bytes.Equal(got, body) {
		return fmt.Errorf("s3client: object body mismatch: got %d bytes, want %d", len(got), len(body))
	}

	if _, err := c.S3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("s3client: delete object: %w", err)
	}

	if _, err := c.S3.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return fmt.Errorf("s3client: delete bucket: %w", err)
	}

	return nil
}

// ErrorCode extracts the S3 error code from an SDK error, or "" when the
// error carries none.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
