// Package s3 provides an S3-compatible storage backend.
//
// Files are objects keyed by their path without the leading slash. A
// directory exists while any object lies under its prefix; empty directories
// are kept as zero-byte "dir/" marker objects.
package s3

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/fruitsalade/explorer/internal/logging"
	"github.com/fruitsalade/explorer/internal/pathmodel"
	"github.com/fruitsalade/explorer/internal/retry"
	"github.com/fruitsalade/explorer/internal/storage"
)

// Config is the JSON-serializable S3 backend configuration.
type Config struct {
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Region    string `json:"region"`
	UseSSL    bool   `json:"use_ssl"`
	Prefix    string `json:"prefix"` // optional key prefix inside the bucket
}

// Backend implements storage.Adapter on an S3 bucket.
type Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

// New creates a new S3 backend and makes sure the bucket exists.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := endpointURL(cfg.Endpoint, cfg.UseSSL)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	})

	b := &Backend{
		client: client,
		bucket: cfg.Bucket,
		prefix: normalizePrefix(cfg.Prefix),
	}
	if err := b.ensureBucket(ctx); err != nil {
		logging.Error("bucket check failed", zap.Error(err))
	}
	return b, nil
}

// NewFromJSON creates a Backend from raw JSON config.
func NewFromJSON(ctx context.Context, raw json.RawMessage) (*Backend, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse s3 config: %w", err)
	}
	return New(ctx, cfg)
}

func endpointURL(endpoint string, useSSL bool) string {
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func (b *Backend) ensureBucket(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err == nil {
		return nil
	}
	if _, createErr := b.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(b.bucket)}); createErr != nil {
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", b.bucket, createErr)
	}
	logging.Info("created S3 bucket", zap.String("bucket", b.bucket))
	return nil
}

// objectKey maps an adapter path to an object key ("" for the root).
func (b *Backend) objectKey(path string) string {
	p := storage.Clean(path)
	if p == "/" {
		return b.prefix
	}
	return b.prefix + strings.TrimPrefix(p, "/")
}

// dirPrefix is the listing prefix of a directory path.
func (b *Backend) dirPrefix(path string) string {
	key := b.objectKey(path)
	if key == "" || strings.HasSuffix(key, "/") {
		return key
	}
	return key + "/"
}

// pathOf maps an object key back to an adapter path.
func (b *Backend) pathOf(key string) string {
	return "/" + strings.TrimPrefix(key, b.prefix)
}

// classify turns SDK errors into storage errors: missing objects become
// ErrNotExist and throttling or server-side failures are marked retryable.
func classify(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return &fs.PathError{Op: op, Path: path, Err: storage.ErrNotExist}
	}
	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		code := status.HTTPStatusCode()
		if code == http.StatusNotFound {
			return &fs.PathError{Op: op, Path: path, Err: storage.ErrNotExist}
		}
		if code == http.StatusTooManyRequests || code >= 500 {
			return retry.Retryable(fmt.Errorf("%s %s: %w", op, path, err))
		}
	}
	return fmt.Errorf("%s %s: %w", op, path, err)
}

func (b *Backend) headObject(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	err = classify("head", key, err)
	if errors.Is(err, storage.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// listKeys returns every object key under prefix.
func (b *Backend) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classify("list", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (b *Backend) dirExists(ctx context.Context, path string) (bool, error) {
	prefix := b.dirPrefix(path)
	if prefix == b.prefix {
		return true, nil
	}
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, classify("list", path, err)
	}
	return len(out.Contents) > 0, nil
}

func (b *Backend) WriteFile(ctx context.Context, path, content string, opts storage.WriteOptions) error {
	if isDir, err := b.dirExists(ctx, path); err != nil {
		return err
	} else if isDir {
		return &fs.PathError{Op: "write", Path: path, Err: storage.ErrIsDir}
	}
	if !opts.CreateParents {
		ok, err := b.dirExists(ctx, storage.Parent(path))
		if err != nil {
			return err
		}
		if !ok {
			return &fs.PathError{Op: "write", Path: path, Err: storage.ErrNotExist}
		}
	}

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.objectKey(path)),
		Body:          strings.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
		ContentType:   aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return classify("write", path, err)
	}
	logging.Debug("S3 put object", zap.String("path", path), zap.Int("size", len(content)))
	return nil
}

func (b *Backend) ReadToString(ctx context.Context, path string) (string, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(path)),
	})
	if err != nil {
		return "", classify("read", path, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", retry.Retryable(fmt.Errorf("read %s: %w", path, err))
	}
	return string(data), nil
}

func (b *Backend) ReadDir(ctx context.Context, path string) ([]string, error) {
	prefix := b.dirPrefix(path)
	seen := make(map[string]struct{})
	found := prefix == b.prefix

	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classify("readdir", path, err)
		}
		for _, cp := range page.CommonPrefixes {
			found = true
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name != "" {
				seen[name] = struct{}{}
			}
		}
		for _, obj := range page.Contents {
			found = true
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name != "" {
				seen[name] = struct{}{}
			}
		}
	}
	if !found {
		return nil, &fs.PathError{Op: "readdir", Path: path, Err: storage.ErrNotExist}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (b *Backend) Stat(ctx context.Context, path string) (storage.Stat, error) {
	if storage.Clean(path) != "/" {
		ok, err := b.headObject(ctx, b.objectKey(path))
		if err != nil {
			return storage.Stat{}, err
		}
		if ok {
			return storage.Stat{IsFile: true}, nil
		}
	}
	ok, err := b.dirExists(ctx, path)
	if err != nil {
		return storage.Stat{}, err
	}
	if !ok {
		return storage.Stat{}, &fs.PathError{Op: "stat", Path: path, Err: storage.ErrNotExist}
	}
	return storage.Stat{IsDirectory: true}, nil
}

func (b *Backend) copyObject(ctx context.Context, srcKey, dstKey string) error {
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(b.bucket + "/" + srcKey),
	})
	return classify("copy", srcKey, err)
}

func (b *Backend) deleteKeys(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += 1000 {
		end := min(start+1000, len(keys))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return classify("delete", keys[start], err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("delete %s: %s", aws.ToString(e.Key), aws.ToString(e.Message))
		}
	}
	return nil
}

// Rename copies every object to its new key and deletes the originals.
// S3 has no atomic rename, so a failure can leave both copies behind.
func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	src, dst := storage.Clean(oldPath), storage.Clean(newPath)
	if src == dst {
		return nil
	}
	if storage.Under(src, dst) {
		return &fs.PathError{Op: "rename", Path: newPath, Err: fs.ErrInvalid}
	}
	if ok, err := b.dirExists(ctx, storage.Parent(dst)); err != nil {
		return err
	} else if !ok {
		return &fs.PathError{Op: "rename", Path: newPath, Err: storage.ErrNotExist}
	}

	isFile, err := b.headObject(ctx, b.objectKey(src))
	if err != nil {
		return err
	}
	if isFile {
		if err := b.copyObject(ctx, b.objectKey(src), b.objectKey(dst)); err != nil {
			return err
		}
		return b.deleteKeys(ctx, []string{b.objectKey(src)})
	}

	srcPrefix, dstPrefix := b.dirPrefix(src), b.dirPrefix(dst)
	keys, err := b.listKeys(ctx, srcPrefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return &fs.PathError{Op: "rename", Path: oldPath, Err: storage.ErrNotExist}
	}
	if ok, err := b.dirExists(ctx, dst); err != nil {
		return err
	} else if ok {
		return &fs.PathError{Op: "rename", Path: newPath, Err: storage.ErrExist}
	}

	for _, key := range keys {
		if err := b.copyObject(ctx, key, dstPrefix+strings.TrimPrefix(key, srcPrefix)); err != nil {
			return err
		}
	}
	return b.deleteKeys(ctx, keys)
}

func (b *Backend) RemoveFile(ctx context.Context, path string) error {
	ok, err := b.headObject(ctx, b.objectKey(path))
	if err != nil {
		return err
	}
	if !ok {
		if isDir, _ := b.dirExists(ctx, path); isDir {
			return &fs.PathError{Op: "remove", Path: path, Err: storage.ErrIsDir}
		}
		return &fs.PathError{Op: "remove", Path: path, Err: storage.ErrNotExist}
	}
	return b.deleteKeys(ctx, []string{b.objectKey(path)})
}

func (b *Backend) RemoveDir(ctx context.Context, path string, opts storage.RemoveOptions) error {
	if storage.Clean(path) == "/" {
		return &fs.PathError{Op: "rmdir", Path: path, Err: fs.ErrInvalid}
	}
	prefix := b.dirPrefix(path)
	keys, err := b.listKeys(ctx, prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		if ok, _ := b.headObject(ctx, b.objectKey(path)); ok {
			return &fs.PathError{Op: "rmdir", Path: path, Err: storage.ErrNotDir}
		}
		return &fs.PathError{Op: "rmdir", Path: path, Err: storage.ErrNotExist}
	}
	if !opts.Recursive {
		for _, k := range keys {
			if k != prefix {
				return &fs.PathError{Op: "rmdir", Path: path, Err: storage.ErrNotEmpty}
			}
		}
	}
	return b.deleteKeys(ctx, keys)
}

func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	if _, err := b.Stat(ctx, path); err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreateDir stores a marker object for the directory.
func (b *Backend) CreateDir(ctx context.Context, path string, recursive bool) error {
	if ok, err := b.headObject(ctx, b.objectKey(path)); err != nil {
		return err
	} else if ok {
		return &fs.PathError{Op: "mkdir", Path: path, Err: storage.ErrExist}
	}
	if !recursive {
		if ok, err := b.dirExists(ctx, path); err != nil {
			return err
		} else if ok {
			return &fs.PathError{Op: "mkdir", Path: path, Err: storage.ErrExist}
		}
		if ok, err := b.dirExists(ctx, storage.Parent(path)); err != nil {
			return err
		} else if !ok {
			return &fs.PathError{Op: "mkdir", Path: path, Err: storage.ErrNotExist}
		}
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.dirPrefix(path)),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
	})
	return classify("mkdir", path, err)
}

// Walk lists the subtree below dir with a single flat listing.
func (b *Backend) Walk(ctx context.Context, dir string) ([]string, error) {
	prefix := b.dirPrefix(dir)
	keys, err := b.listKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 && prefix != b.prefix {
		return nil, &fs.PathError{Op: "walk", Path: dir, Err: storage.ErrNotExist}
	}
	return walkKeys(b.pathOf(prefix), keys, b.pathOf), nil
}

// walkKeys expands object keys into file paths plus every intermediate
// directory path below base.
func walkKeys(base string, keys []string, pathOf func(string) string) []string {
	seen := make(map[string]struct{})
	for _, key := range keys {
		p := pathOf(key)
		if p != base {
			seen[p] = struct{}{}
		}
		for dir := pathmodel.ParentPath(p); len(dir) > len(base); dir = pathmodel.ParentPath(dir) {
			seen[dir] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Type returns "s3".
func (b *Backend) Type() string { return "s3" }

// Close is a no-op for S3 backends.
func (b *Backend) Close() error { return nil }

var _ storage.Walker = (*Backend)(nil)
