package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// AWSServiceProvider stores rendered outfit images in an S3 compatible bucket
// (Cloudflare R2) through presigned links.
type AWSServiceProvider interface {
	InitPresignClient(ctx context.Context) error
	PresignLink(ctx context.Context, bucketName string, fileName string) (string, error)
	UploadToPresignedURL(ctx context.Context, bucketName, url string, fileContent []byte) (string, int, error)
	GetPresignedR2FileReadURL(ctx context.Context, bucketName, fileKey string) (string, error)
}

type AWSService struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	// overrides the R2 endpoint, used against local S3 fakes
	Endpoint string

	S3PresignClient *s3.PresignClient
	HTTPClient      *http.Client
}

var allowedRenderMimeTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

func (awsService *AWSService) endpoint() string {
	if awsService.Endpoint != "" {
		return awsService.Endpoint
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", awsService.AccountID)
}

func (awsService *AWSService) InitPresignClient(ctx context.Context) error {
	r2Resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: awsService.endpoint()}, nil
	})
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithEndpointResolverWithOptions(r2Resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(awsService.AccessKeyID, awsService.AccessKeySecret, "")),
	)
	if err != nil {
		return fmt.Errorf("unable to load SDK config: %w", err)
	}

	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	awsService.S3PresignClient = s3.NewPresignClient(s3Client)
	return nil
}

func (awsService *AWSService) PresignLink(ctx context.Context, bucketName string, fileName string) (string, error) {
	request, err := awsService.S3PresignClient.PresignPutObject(ctx, &s3.PutObjectInput{Bucket: &bucketName, Key: &fileName})
	if err != nil {
		return "", fmt.Errorf("failed to presign upload: %w", err)
	}
	return request.URL, nil
}

func (awsService *AWSService) GetPresignedR2FileReadURL(ctx context.Context, bucketName, fileKey string) (string, error) {
	presignedGetRequest, err := awsService.S3PresignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(fileKey),
	}, s3.WithPresignExpires(presignedURLExpiration))
	if err != nil {
		return "", fmt.Errorf("failed to presign request: %w", err)
	}
	return presignedGetRequest.URL, nil
}

// UploadToPresignedURL PUTs an image and returns the response body and status.
func (awsService *AWSService) UploadToPresignedURL(ctx context.Context, bucketName, url string, fileContent []byte) (string, int, error) {
	mimeType := http.DetectContentType(fileContent)
	if !allowedRenderMimeTypes[mimeType] {
		return "", 0, fmt.Errorf("unsupported file type: %s", mimeType)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(fileContent))
	if err != nil {
		return "", 0, fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)

	client := awsService.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("upload file: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("read upload response: %w", err)
	}
	zerolog.Ctx(ctx).Debug().Str("bucket", bucketName).Str("mime", mimeType).Int("status", resp.StatusCode).Msg("render uploaded")
	return string(respBody), resp.StatusCode, nil
}
