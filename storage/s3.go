package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3 is an implementation of BlobStore backed by AWS S3. Blob names are used
// as object keys verbatim.
type S3 struct {
	profile string
	region  string
	bucket  string

	mu       sync.Mutex
	client   *s3.S3
	uploader *s3manager.Uploader
}

func NewS3(profile, region, bucket string) *S3 {
	return &S3{
		profile: profile,
		region:  region,
		bucket:  bucket,
	}
}

func (s *S3) Put(ctx context.Context, name string, r io.Reader) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := s.ensureClient(); err != nil {
		return err
	}
	// The uploader streams in parts, so r need not be seekable.
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("could not upload %q: %w", name, err)
	}
	return nil
}

func (s *S3) Exists(ctx context.Context, name string) (bool, error) {
	if err := s.ensureClient(); err != nil {
		return false, err
	}
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("could not head %q: %w", name, err)
	}
	return true, nil
}

func (s *S3) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := s.ensureClient(); err != nil {
		return nil, err
	}
	output, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("could not get %q: %w", name, err)
	}
	return output.Body, nil
}

// Delete checks for the object first, since S3 happily deletes objects that
// do not exist.
func (s *S3) Delete(ctx context.Context, name string) error {
	ok, err := s.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("could not delete %q: %w", name, err)
	}
	return nil
}

func (s *S3) List(ctx context.Context) ([]string, error) {
	if err := s.ensureClient(); err != nil {
		return nil, err
	}
	var names []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			names = append(names, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("could not list bucket %q: %w", s.bucket, err)
	}
	return names, nil
}

func (s *S3) ensureClient() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return nil
	}
	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String(s.region),
		Credentials: credentials.NewSharedCredentials("", s.profile),
	})
	if err != nil {
		return err
	}
	s.client = s3.New(sess)
	s.uploader = s3manager.NewUploaderWithClient(s.client)
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if rfErr, ok := err.(awserr.RequestFailure); ok {
		return rfErr.StatusCode() == http.StatusNotFound
	}
	if aerr, ok := err.(awserr.Error); ok {
		return aerr.Code() == s3.ErrCodeNoSuchKey
	}
	return false
}
