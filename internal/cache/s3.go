package cache

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	updatedAtMetaKey = "updated_at"
	headerMetaKey    = "header"
	bucketMarker     = ".bucket"

	// S3 caps user-defined metadata at 2 KB.
	maxMetadataBytes = 2048
)

var ErrHeaderTooLarge = errors.New("response headers exceed S3 metadata limit")

// S3Storage keeps every cache bucket under its own key prefix below root:
// "<root><name>/<escaped request key>". Nothing outside root is listed or
// deleted.
type S3Storage struct {
	bucket   string
	root     string
	client   *s3.Client
	uploader *manager.Uploader
}

func NewS3Storage(bucket, prefix string, client *s3.Client) *S3Storage {
	return &S3Storage{
		bucket:   bucket,
		root:     rootPrefix(prefix),
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

func rootPrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func (s *S3Storage) Open(ctx context.Context, name string) (Bucket, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("invalid bucket name %q", name)
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.root + name + "/" + bucketMarker),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", name, err)
	}
	return &s3Bucket{storage: s, name: name}, nil
}

func (s *S3Storage) Keys(ctx context.Context) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Delimiter: aws.String("/"),
	}
	if s.root != "" {
		input.Prefix = aws.String(s.root)
	}
	p := s3.NewListObjectsV2Paginator(s.client, input)
	var names []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list buckets: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			if name := bucketFromPrefix(s.root, aws.ToString(cp.Prefix)); name != "" {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

func bucketFromPrefix(root, prefix string) string {
	name, ok := strings.CutPrefix(prefix, root)
	if !ok {
		return ""
	}
	return strings.TrimSuffix(name, "/")
}

func (s *S3Storage) Delete(ctx context.Context, name string) (bool, error) {
	if name == "" || strings.Contains(name, "/") {
		return false, fmt.Errorf("invalid bucket name %q", name)
	}
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.root + name + "/"),
	})
	deleted := false
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return deleted, fmt.Errorf("list bucket %s: %w", name, err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		_, err = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return deleted, fmt.Errorf("delete bucket %s: %w", name, err)
		}
		deleted = true
	}
	return deleted, nil
}

type s3Bucket struct {
	storage *S3Storage
	name    string
}

func (b *s3Bucket) Name() string { return b.name }

func (b *s3Bucket) key(key string) string {
	return objectKey(b.storage.root, b.name, key)
}

func (b *s3Bucket) Match(ctx context.Context, key string) (Object, error) {
	out, err := b.storage.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.storage.bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return Object{}, ErrNotFound
		}
		return Object{}, err
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return Object{}, err
	}

	header, err := decodeHeader(out.Metadata)
	if err != nil {
		return Object{}, fmt.Errorf("decode %s: %w", key, err)
	}
	if ct := aws.ToString(out.ContentType); ct != "" {
		header.Set("Content-Type", ct)
	}
	if ce := aws.ToString(out.ContentEncoding); ce != "" {
		header.Set("Content-Encoding", ce)
	}

	return Object{
		Header:    header,
		Body:      body,
		UpdatedAt: parseUpdatedAt(out.Metadata),
	}, nil
}

func (b *s3Bucket) Put(ctx context.Context, key string, obj Object) error {
	meta, err := encodeHeader(obj.Header)
	if err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	if !obj.UpdatedAt.IsZero() {
		meta[updatedAtMetaKey] = strconv.FormatInt(obj.UpdatedAt.Unix(), 10)
	}

	input := &s3.PutObjectInput{
		Bucket:   aws.String(b.storage.bucket),
		Key:      aws.String(b.key(key)),
		Body:     bytes.NewReader(obj.Body),
		Metadata: meta,
	}
	if ct := obj.Header.Get("Content-Type"); ct != "" {
		input.ContentType = aws.String(ct)
	}
	if ce := obj.Header.Get("Content-Encoding"); ce != "" {
		input.ContentEncoding = aws.String(ce)
	}

	_, err = b.storage.uploader.Upload(ctx, input)
	return err
}

func (b *s3Bucket) Delete(ctx context.Context, key string) error {
	_, err := b.storage.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.storage.bucket),
		Key:    aws.String(b.key(key)),
	})
	return err
}

// encodeHeader packs the headers S3 has no native field for into one
// metadata value. Content-Type and Content-Encoding travel as S3 object
// properties.
func encodeHeader(h http.Header) (map[string]string, error) {
	meta := map[string]string{}
	rest := h.Clone()
	rest.Del("Content-Type")
	rest.Del("Content-Encoding")
	if len(rest) == 0 {
		return meta, nil
	}
	raw, err := json.Marshal(rest)
	if err != nil {
		return nil, err
	}
	blob := base64.RawURLEncoding.EncodeToString(raw)
	if len(headerMetaKey)+len(blob)+len(updatedAtMetaKey)+20 > maxMetadataBytes {
		return nil, ErrHeaderTooLarge
	}
	meta[headerMetaKey] = blob
	return meta, nil
}

func decodeHeader(meta map[string]string) (http.Header, error) {
	header := http.Header{}
	blob, ok := meta[headerMetaKey]
	if !ok || blob == "" {
		return header, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(blob)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, err
	}
	return header, nil
}

// objectKey escapes the request key so paths and query strings map onto a
// single S3 key segment below the bucket prefix.
func objectKey(root, bucket, key string) string {
	return root + bucket + "/" + url.QueryEscape(key)
}

func parseUpdatedAt(meta map[string]string) time.Time {
	if meta == nil {
		return time.Time{}
	}
	val, ok := meta[updatedAtMetaKey]
	if !ok {
		return time.Time{}
	}
	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	return errors.As(err, &nf)
}
