// Package workspace adapts an S3-compatible object store into per-session
// file workspaces.
//
// Every operation is scoped under a deterministic prefix derived solely
// from the session identifier, so no caller input can reach another
// session's objects.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/kaolin-io/kaolin/log"
	"github.com/kaolin-io/kaolin/types"
)

// DefaultPresignTTL is the default presigned URL lifetime. Short-lived
// on purpose: the capability is in the URL itself.
const DefaultPresignTTL = time.Hour

// ObjectAPI is the subset of the S3 client the gateway needs.
type ObjectAPI interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// PresignAPI is the subset of the S3 presign client the gateway needs.
type PresignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (string, error)
}

// S3Config holds configuration for the object store backend.
type S3Config struct {
	// Bucket is the bucket name (required).
	Bucket string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom endpoint URL for S3-compatible providers
	// (e.g. MinIO, Cloudflare R2). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not
	// subdomain). Required by most S3-compatible providers.
	UsePathStyle bool
	// PresignTTL is the presigned URL lifetime (default 1h).
	PresignTTL time.Duration
}

// Validate checks that required configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("workspace bucket is required")
	}
	return nil
}

// Gateway performs workspace file operations for sessions.
type Gateway struct {
	objects    ObjectAPI
	presigner  PresignAPI
	bucket     string
	presignTTL time.Duration
	logger     *log.Logger
}

// New creates a gateway from the given config using the AWS SDK default
// credential chain (env vars, shared config, IAM role).
func New(ctx context.Context, cfg S3Config, logger *log.Logger) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("workspace: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsConfig, s3Opts...)

	return NewWithClients(client, &urlPresigner{inner: s3.NewPresignClient(client)}, cfg, logger), nil
}

// NewWithClients creates a gateway over existing clients. Used by tests
// to substitute fakes.
func NewWithClients(objects ObjectAPI, presigner PresignAPI, cfg S3Config, logger *log.Logger) *Gateway {
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	if logger == nil {
		logger = log.NewLogger("workspace")
	}
	return &Gateway{
		objects:    objects,
		presigner:  presigner,
		bucket:     cfg.Bucket,
		presignTTL: ttl,
		logger:     logger,
	}
}

// urlPresigner adapts s3.PresignClient to the PresignAPI interface,
// reducing the presigned request to its URL.
type urlPresigner struct {
	inner *s3.PresignClient
}

func (p *urlPresigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (string, error) {
	req, err := p.inner.PresignGetObject(ctx, params, optFns...)
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// Prefix returns the object key prefix for a session. Derived solely
// from the session ID.
func Prefix(sessionID string) string {
	return "sessions/" + sessionID + "/"
}

// Key returns the full object key for a file in a session's workspace.
// The file name is reduced to its base name so callers cannot escape
// the session prefix.
func Key(sessionID, fileName string) string {
	return Prefix(sessionID) + path.Base(fileName)
}

// List returns a flat listing of the session's workspace, sorted by
// name. Sessions are bounded in size, so the listing paginates through
// the prefix without exposing pagination to callers.
func (g *Gateway) List(ctx context.Context, sessionID string) ([]types.WorkspaceFile, error) {
	prefix := Prefix(sessionID)

	var files []types.WorkspaceFile
	var continuation *string
	for {
		out, err := g.objects.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(g.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("workspace: list %s: %w", sessionID, err)
		}

		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			name := strings.TrimPrefix(key, prefix)
			if name == "" {
				continue
			}
			files = append(files, types.WorkspaceFile{
				Name: name,
				Key:  key,
				Size: aws.ToInt64(obj.Size),
			})
		}

		if out.NextContinuationToken == nil {
			break
		}
		continuation = out.NextContinuationToken
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Upload writes a file into the session's workspace and returns its
// listing entry.
func (g *Gateway) Upload(ctx context.Context, sessionID, fileName string, body io.Reader, size int64) (types.WorkspaceFile, error) {
	key := Key(sessionID, fileName)

	_, err := g.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(g.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return types.WorkspaceFile{}, fmt.Errorf("workspace: upload %s: %w", key, err)
	}

	return types.WorkspaceFile{Name: path.Base(fileName), Key: key, Size: size}, nil
}

// Download returns a reader over a workspace file's bytes. The caller
// must close it.
func (g *Gateway) Download(ctx context.Context, sessionID, fileName string) (io.ReadCloser, error) {
	key := Key(sessionID, fileName)

	out, err := g.objects.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("workspace: download %s: %w", key, err)
	}
	return out.Body, nil
}

// Delete removes one file from the session's workspace.
func (g *Gateway) Delete(ctx context.Context, sessionID, fileName string) error {
	key := Key(sessionID, fileName)

	_, err := g.objects.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("workspace: delete %s: %w", key, err)
	}
	return nil
}

// DeleteAll removes every file under the session's prefix, best effort.
// It attempts every file, logs individual failures, and returns the
// count actually removed. An error is returned only when the listing
// itself fails.
func (g *Gateway) DeleteAll(ctx context.Context, sessionID string) (int, error) {
	files, err := g.List(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, f := range files {
		_, err := g.objects.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(g.bucket),
			Key:    aws.String(f.Key),
		})
		if err != nil {
			g.logger.Warn("workspace delete failed", map[string]any{
				"session_id": sessionID,
				"key":        f.Key,
				"error":      err.Error(),
			})
			continue
		}
		removed++
	}
	return removed, nil
}

// PresignedURL returns a short-lived, read-only URL for a workspace
// file's bytes.
func (g *Gateway) PresignedURL(ctx context.Context, sessionID, fileName string) (string, error) {
	key := Key(sessionID, fileName)

	url, err := g.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	}, func(o *s3.PresignOptions) {
		o.Expires = g.presignTTL
	})
	if err != nil {
		return "", fmt.Errorf("workspace: presign %s: %w", key, err)
	}
	return url, nil
}
