// Package s3 implements the S3-compatible object-store backend (C4,
// spec.md §4.4): PutContent (manifests, upload state, monolithic blob
// uploads) is a single PutObject. Writer always opens a multipart upload
// and cuts the buffered stream into minChunkSize parts, the remainder
// becoming the final part at commit, with parts sorted by part number.
// Parts do not correspond to upload chunks: each chunk of an upload
// session opens a new Writer in append mode, which reads the existing
// object back and re-uploads it with the new bytes. Repository and tag
// enumeration use a "/" delimiter over the manifests/ prefix.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	driver "github.com/ocistore/registry/registry/storage/driver"
	"github.com/ocistore/registry/registry/storage/driver/base"
	"github.com/ocistore/registry/registry/storage/driver/factory"
)

const driverName = "s3"

// minChunkSize is the S3 API's minimum multipart upload part size
// (excluding the final part).
const minChunkSize = 5 * 1024 * 1024

const listMax = 1000

func init() {
	factory.Register(driverName, factory.FuncFactory(func(_ context.Context, params map[string]any) (driver.StorageDriver, error) {
		return fromParameters(params)
	}))
}

// Params configures the S3 backend; field names mirror spec.md §6's
// "storage.s3" config block.
type Params struct {
	Endpoint   string
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	PathStyle  bool
}

func fromParameters(params map[string]any) (*Driver, error) {
	p := Params{}
	if v, ok := params["endpoint"].(string); ok {
		p.Endpoint = v
	}
	if v, ok := params["region"].(string); ok {
		p.Region = v
	}
	if v, ok := params["bucket"].(string); ok {
		p.Bucket = v
	}
	if v, ok := params["access_key"].(string); ok {
		p.AccessKey = v
	}
	if v, ok := params["secret_key"].(string); ok {
		p.SecretKey = v
	}
	if v, ok := params["path_style"].(bool); ok {
		p.PathStyle = v
	}
	if p.Bucket == "" {
		return nil, errors.New("s3: bucket parameter is required")
	}
	return New(p)
}

type s3Driver struct {
	client *s3.S3
	bucket string
}

type baseEmbed struct {
	base.Base
}

// Driver is a driver.StorageDriver backed by an S3-compatible bucket.
type Driver struct {
	baseEmbed
}

// New constructs a Driver from explicit parameters, following the shape
// of spec.md §6's "storage.s3" block.
func New(p Params) (*Driver, error) {
	cfg := aws.NewConfig().
		WithRegion(p.Region).
		WithS3ForcePathStyle(p.PathStyle).
		WithMaxRetries(1)
	if p.Endpoint != "" {
		cfg = cfg.WithEndpoint(p.Endpoint)
	}
	if p.AccessKey != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(p.AccessKey, p.SecretKey, ""))
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	return &Driver{baseEmbed{base.Base{StorageDriver: &s3Driver{
		client: s3.New(sess),
		bucket: p.Bucket,
	}}}}, nil
}

func (d *s3Driver) Name() string { return driverName }

func (d *s3Driver) key(p string) string {
	return strings.TrimPrefix(p, "/")
}

func (d *s3Driver) GetContent(ctx context.Context, p string) ([]byte, error) {
	rc, err := d.Reader(ctx, p, 0)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (d *s3Driver) PutContent(ctx context.Context, p string, content []byte) error {
	_, err := d.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(p)),
		Body:   bytes.NewReader(content),
	})
	return d.wrap(p, err)
}

func (d *s3Driver) Reader(ctx context.Context, p string, offset int64) (io.ReadCloser, error) {
	rangeHdr := fmt.Sprintf("bytes=%d-", offset)
	out, err := d.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(p)),
		Range:  aws.String(rangeHdr),
	})
	if err != nil {
		return nil, d.wrap(p, err)
	}
	return out.Body, nil
}

// Writer returns a multipart upload writer. Chunks smaller than
// minChunkSize are buffered until either minChunkSize bytes accumulate or
// Commit is called, matching the S3 API's part-size floor (spec.md §4.4).
// In append mode the object's current bytes are folded into the new
// multipart upload's first parts, so resumed upload sessions behave the
// same as on the filesystem backend.
func (d *s3Driver) Writer(ctx context.Context, p string, appendMode bool) (driver.FileWriter, error) {
	var existing []byte
	if appendMode {
		var err error
		existing, err = d.GetContent(ctx, p)
		if err != nil {
			var pnf driver.PathNotFoundError
			if !errors.As(err, &pnf) {
				return nil, err
			}
			existing = nil
		}
	}

	out, err := d.client.CreateMultipartUploadWithContext(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(p)),
	})
	if err != nil {
		return nil, d.wrap(p, err)
	}
	w := &multipartWriter{
		driver:   d,
		key:      d.key(p),
		uploadID: aws.StringValue(out.UploadId),
	}
	if len(existing) > 0 {
		if _, err := w.Write(existing); err != nil {
			w.Cancel(ctx)
			return nil, err
		}
	}
	return w, nil
}

func (d *s3Driver) Stat(ctx context.Context, p string) (driver.FileInfo, error) {
	head, err := d.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(p)),
	})
	if err == nil {
		return fileInfo{path: p, size: aws.Int64Value(head.ContentLength), modTime: aws.TimeValue(head.LastModified)}, nil
	}
	if !isNotFound(err) {
		return nil, d.wrap(p, err)
	}
	// Not an object; check whether it's a non-empty "directory" prefix.
	listOut, err := d.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(d.bucket),
		Prefix:  aws.String(strings.TrimSuffix(d.key(p), "/") + "/"),
		MaxKeys: aws.Int64(1),
	})
	if err != nil {
		return nil, d.wrap(p, err)
	}
	if len(listOut.Contents) == 0 && len(listOut.CommonPrefixes) == 0 {
		return nil, driver.PathNotFoundError{Path: p, DriverName: driverName}
	}
	return fileInfo{path: p, isDir: true}, nil
}

// List enumerates the direct children of p using a "/" delimiter, giving
// first-level repository names under manifests/ and first-level tags
// under manifests/<repo>/, per spec.md §4.4.
func (d *s3Driver) List(ctx context.Context, p string) ([]string, error) {
	prefix := strings.TrimSuffix(d.key(p), "/")
	if prefix != "" {
		prefix += "/"
	}

	var out []string
	err := d.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
		MaxKeys:   aws.Int64(listMax),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, cp := range page.CommonPrefixes {
			out = append(out, "/"+strings.TrimSuffix(aws.StringValue(cp.Prefix), "/"))
		}
		for _, obj := range page.Contents {
			k := aws.StringValue(obj.Key)
			if k == prefix {
				continue
			}
			out = append(out, "/"+k)
		}
		return true
	})
	if err != nil {
		return nil, d.wrap(p, err)
	}
	sort.Strings(out)
	return out, nil
}

func (d *s3Driver) Move(ctx context.Context, src, dst string) error {
	source := fmt.Sprintf("%s/%s", d.bucket, d.key(src))
	_, err := d.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(d.bucket),
		Key:        aws.String(d.key(dst)),
		CopySource: aws.String(source),
	})
	if err != nil {
		return d.wrap(src, err)
	}
	return d.Delete(ctx, src)
}

func (d *s3Driver) Delete(ctx context.Context, p string) error {
	key := d.key(p)
	// Delete the object itself, if present, plus everything under it as
	// a prefix (manifests/<repo>/... subtree deletes).
	var objects []*s3.ObjectIdentifier
	err := d.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(key),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			objects = append(objects, &s3.ObjectIdentifier{Key: obj.Key})
		}
		return true
	})
	if err != nil {
		return d.wrap(p, err)
	}
	if len(objects) == 0 {
		return nil // absent is success
	}
	for start := 0; start < len(objects); start += 1000 {
		end := start + 1000
		if end > len(objects) {
			end = len(objects)
		}
		_, err := d.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(d.bucket),
			Delete: &s3.Delete{Objects: objects[start:end]},
		})
		if err != nil {
			return d.wrap(p, err)
		}
	}
	return nil
}

func (d *s3Driver) URLFor(ctx context.Context, p string, options map[string]any) (string, error) {
	return "", nil
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound"
	}
	return false
}

func (d *s3Driver) wrap(p string, err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return driver.PathNotFoundError{Path: p, DriverName: driverName}
	}
	return driver.Error{DriverName: driverName, Enclosed: err}
}

type fileInfo struct {
	path    string
	size    int64
	modTime time.Time
	isDir   bool
}

func (fi fileInfo) Path() string       { return fi.path }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) IsDir() bool        { return fi.isDir }
func (fi fileInfo) ModTime() time.Time { return fi.modTime }

// multipartWriter accumulates bytes until minChunkSize is reached, then
// uploads a part; Commit flushes whatever remains as the final part and
// completes the multipart upload with parts sorted by part number, per
// spec.md §4.4.
type multipartWriter struct {
	driver   *s3Driver
	key      string
	uploadID string
	buf      []byte
	size     int64
	parts    []*s3.CompletedPart
	partNum  int64
	closed   bool
	aborted  bool
}

func (w *multipartWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("s3: writer already closed")
	}
	w.buf = append(w.buf, p...)
	w.size += int64(len(p))
	for len(w.buf) >= minChunkSize {
		if err := w.flushPart(context.Background(), w.buf[:minChunkSize]); err != nil {
			return 0, err
		}
		w.buf = append([]byte(nil), w.buf[minChunkSize:]...)
	}
	return len(p), nil
}

func (w *multipartWriter) flushPart(ctx context.Context, chunk []byte) error {
	w.partNum++
	out, err := w.driver.client.UploadPartWithContext(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(w.driver.bucket),
		Key:        aws.String(w.key),
		UploadId:   aws.String(w.uploadID),
		PartNumber: aws.Int64(w.partNum),
		Body:       bytes.NewReader(chunk),
	})
	if err != nil {
		return w.driver.wrap(w.key, err)
	}
	w.parts = append(w.parts, &s3.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int64(w.partNum),
	})
	return nil
}

func (w *multipartWriter) Size() int64 { return w.size }

func (w *multipartWriter) Close() error {
	w.closed = true
	return nil
}

func (w *multipartWriter) Cancel(ctx context.Context) error {
	w.aborted = true
	w.closed = true
	_, err := w.driver.client.AbortMultipartUploadWithContext(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(w.driver.bucket),
		Key:      aws.String(w.key),
		UploadId: aws.String(w.uploadID),
	})
	return err
}

func (w *multipartWriter) Commit(ctx context.Context) error {
	if len(w.buf) > 0 || len(w.parts) == 0 {
		if err := w.flushPart(ctx, w.buf); err != nil {
			return err
		}
		w.buf = nil
	}
	sort.Slice(w.parts, func(i, j int) bool {
		return aws.Int64Value(w.parts[i].PartNumber) < aws.Int64Value(w.parts[j].PartNumber)
	})
	_, err := w.driver.client.CompleteMultipartUploadWithContext(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(w.driver.bucket),
		Key:             aws.String(w.key),
		UploadId:        aws.String(w.uploadID),
		MultipartUpload: &s3.CompletedMultipartUpload{Parts: w.parts},
	})
	w.closed = true
	return w.driver.wrap(w.key, err)
}
