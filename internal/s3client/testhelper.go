package s3client

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

// TestServer serves an in-memory bucket for the scratch artifact and
// returns the endpoint. It is closed with the test.
func TestServer(t testing.TB, bucketName string) string {
	t.Helper()

	backend := s3mem.New()
	faker := gofakes3.New(backend)
	ts := httptest.NewServer(faker.Server())
	t.Cleanup(ts.Close)

	client := newTestS3(t, ts.URL)
	_, err := client.CreateBucket(context.Background(), &s3.CreateBucketInput{
		Bucket: aws.String(bucketName),
	})
	if err != nil {
		t.Fatalf("failed to create test bucket: %v", err)
	}
	return ts.URL
}

// TestClient creates a Client backed by a fresh gofakes3 server.
func TestClient(t testing.TB, bucketName string) *Client {
	t.Helper()
	endpoint := TestServer(t, bucketName)
	return Wrap(newTestS3(t, endpoint), bucketName)
}

// TestConfig points a Config at a TestServer endpoint.
func TestConfig(endpoint, bucketName string) Config {
	return Config{
		Endpoint:        endpoint,
		Region:          "us-east-1",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		BucketName:      bucketName,
		UsePathStyle:    true,
	}
}

func newTestS3(t testing.TB, endpoint string) *s3.Client {
	t.Helper()

	sdkConfig, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test-key", "test-secret", ""),
		),
	)
	if err != nil {
		t.Fatalf("failed to load AWS config: %v", err)
	}
	return s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
}
