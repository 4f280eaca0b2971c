package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"

	"github.com/coursegraph/backend/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func NewS3Client(ctx context.Context) *s3.Client {
	region := util.GetEnv("AWS_REGION")
	endpoint := util.GetEnv("AWS_ENDPOINT")
	accessKey := util.GetEnv("AWS_ACCESS_KEY")
	secretKey := util.GetEnv("AWS_SECRET_KEY")
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(region),
		config.WithBaseEndpoint(endpoint),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)),
	)
	if err != nil {
		return nil
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client
}

// SourceKey is where a job's raw upload is staged between submission and
// processing.
func SourceKey(jobID string) string {
	return fmt.Sprintf("jobs/%s/source", jobID)
}

// StageSource uploads the raw submitted document for a job. The original
// filename is only used to derive a content type.
func StageSource(ctx context.Context, client *s3.Client, jobID string, name string, file io.ReadSeeker) (string, error) {
	bucket := util.GetEnv("AWS_BUCKET")
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	key := SourceKey(jobID)
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to stage source in S3: %v", err)
	}

	return key, nil
}

// FetchSource reads a job's staged document back for processing.
func FetchSource(ctx context.Context, client *s3.Client, jobID string) ([]byte, error) {
	bucket := util.GetEnv("AWS_BUCKET")
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(SourceKey(jobID)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get staged source from S3: %v", err)
	}
	defer result.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, result.Body); err != nil {
		return nil, fmt.Errorf("failed to read staged source: %v", err)
	}

	return buf.Bytes(), nil
}

// DeleteJobObjects removes everything staged under a job's prefix.
func DeleteJobObjects(ctx context.Context, client *s3.Client, jobID string) error {
	bucket := util.GetEnv("AWS_BUCKET")
	prefix := fmt.Sprintf("jobs/%s/", jobID)

	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}

	for {
		listOutput, err := client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return fmt.Errorf("failed to list objects for job %s: %w", jobID, err)
		}

		if len(listOutput.Contents) == 0 {
			break
		}

		var objectsToDelete []types.ObjectIdentifier
		for _, obj := range listOutput.Contents {
			objectsToDelete = append(objectsToDelete, types.ObjectIdentifier{
				Key: obj.Key,
			})
		}

		_, err = client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{
				Objects: objectsToDelete,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects for job %s: %w", jobID, err)
		}

		if listOutput.IsTruncated != nil && *listOutput.IsTruncated {
			listInput.ContinuationToken = listOutput.NextContinuationToken
		} else {
			break
		}
	}

	return nil
}

// Client wraps the raw S3 client with the job-scoped operations the HTTP
// routes use. The worker reads staged sources through FetchSource directly.
type Client struct {
	s3 *s3.Client
}

// NewClient creates a Client over the given S3 client.
func NewClient(s3Client *s3.Client) *Client {
	return &Client{s3: s3Client}
}

func (c *Client) StageSource(ctx context.Context, jobID string, name string, file io.ReadSeeker) (string, error) {
	return StageSource(ctx, c.s3, jobID, name, file)
}

func (c *Client) DeleteJobObjects(ctx context.Context, jobID string) error {
	return DeleteJobObjects(ctx, c.s3, jobID)
}
