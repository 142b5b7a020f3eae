// Package images stores uploaded marker pictures and returns the
// reference saved on the marker.
package images

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
)

type Storage interface {
	// Upload stores the picture and returns a path or URL reference.
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

type uploader interface {
	UploadImage(ctx context.Context, data []byte) (string, error)
}

// Remote stores pictures through the persistence service's image endpoint.
type Remote struct {
	store uploader
}

func NewRemote(store uploader) *Remote {
	return &Remote{store: store}
}

func (r *Remote) Upload(ctx context.Context, name string, data []byte) (string, error) {
	filePath, err := r.store.UploadImage(ctx, data)
	if err != nil {
		return "", errors.Wrap(err, "could not upload image")
	}
	return filePath, nil
}

// S3 stores pictures in an S3 bucket under uuid keys.
type S3 struct {
	uploader *s3manager.Uploader
	bucket   string
}

func NewS3(bucket, region string) (*S3, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not create aws session")
	}
	return &S3{
		uploader: s3manager.NewUploader(sess),
		bucket:   bucket,
	}, nil
}

func (s *S3) Upload(ctx context.Context, name string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	key := fmt.Sprintf("markers/%s%s", uuid.Must(uuid.NewV4()), ext)

	result, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mime.TypeByExtension(ext)),
	})
	if err != nil {
		return "", errors.Wrap(err, "could not upload image to s3")
	}

	return result.Location, nil
}
