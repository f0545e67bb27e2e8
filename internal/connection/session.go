package connection

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// SessionStore locates and wipes per-instance protocol auth material. The transport
// reads and writes the material itself; this package only decides where it lives
// and when it is destroyed.
type SessionStore interface {
	Location(instanceID string) string
	Exists(ctx context.Context, instanceID string) (bool, error)
	Wipe(ctx context.Context, instanceID string) error
}

// FileSessionStore keeps one directory per instance under Root.
type FileSessionStore struct {
	Root string
}

func NewFileSessionStore(root string) (*FileSessionStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("connection: session root required")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("connection: create session root: %w", err)
	}
	return &FileSessionStore{Root: root}, nil
}

func (s *FileSessionStore) Location(instanceID string) string {
	return filepath.Join(s.Root, sanitizeInstanceID(instanceID))
}

func (s *FileSessionStore) Exists(_ context.Context, instanceID string) (bool, error) {
	entries, err := os.ReadDir(s.Location(instanceID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("connection: read session dir: %w", err)
	}
	return len(entries) > 0, nil
}

func (s *FileSessionStore) Wipe(_ context.Context, instanceID string) error {
	if err := os.RemoveAll(s.Location(instanceID)); err != nil {
		return fmt.Errorf("connection: wipe session: %w", err)
	}
	return nil
}

// S3API is the subset of the S3 client the session store uses.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3SessionStore keeps session material under bucket/prefix/<instance>/.
type S3SessionStore struct {
	client S3API
	bucket string
	prefix string
}

func NewS3SessionStore(client S3API, bucket, prefix string) (*S3SessionStore, error) {
	if client == nil {
		return nil, errors.New("connection: s3 client required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("connection: session bucket required")
	}
	return &S3SessionStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (s *S3SessionStore) keyPrefix(instanceID string) string {
	id := sanitizeInstanceID(instanceID) + "/"
	if s.prefix == "" {
		return id
	}
	return s.prefix + "/" + id
}

func (s *S3SessionStore) Location(instanceID string) string {
	return "s3://" + s.bucket + "/" + s.keyPrefix(instanceID)
}

func (s *S3SessionStore) Exists(ctx context.Context, instanceID string) (bool, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.keyPrefix(instanceID)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("connection: list session objects: %w", err)
	}
	return len(out.Contents) > 0, nil
}

// Wipe deletes every object under the instance prefix, page by page.
func (s *S3SessionStore) Wipe(ctx context.Context, instanceID string) error {
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.keyPrefix(instanceID)),
			ContinuationToken: token,
		})
		if err != nil {
			return fmt.Errorf("connection: list session objects: %w", err)
		}
		if len(out.Contents) > 0 {
			ids := make([]s3types.ObjectIdentifier, 0, len(out.Contents))
			for _, obj := range out.Contents {
				ids = append(ids, s3types.ObjectIdentifier{Key: obj.Key})
			}
			if _, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(s.bucket),
				Delete: &s3types.Delete{Objects: ids, Quiet: aws.Bool(true)},
			}); err != nil {
				return fmt.Errorf("connection: delete session objects: %w", err)
			}
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			return nil
		}
		token = out.NextContinuationToken
	}
}

func sanitizeInstanceID(id string) string {
	id = strings.TrimSpace(id)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
