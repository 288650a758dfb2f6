package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker/v2"

	"github.com/trezcool/campus/core"
)

// OSS limits DeleteObjects to 1000 keys per request.
const ossDeleteBatch = 1000

type OSSStore struct {
	bucket  *oss.Bucket
	breaker *gobreaker.CircuitBreaker[interface{}]
	logger  core.Logger
}

var _ core.BlobStore = (*OSSStore)(nil) // interface compliance check

func NewOSSStore(conf core.StorageConfig, logger core.Logger) (*OSSStore, error) {
	if conf.OSSEndpoint == "" || conf.OSSAccessKey == "" || conf.OSSSecretKey == "" || conf.OSSBucket == "" {
		return nil, errors.New("OSS endpoint, access key, secret key & bucket are required")
	}

	var opts []oss.ClientOption
	if conf.OSSSecurityToken != "" {
		opts = append(opts, oss.SecurityToken(conf.OSSSecurityToken))
	}
	client, err := oss.New(normalizeEndpoint(conf.OSSEndpoint), conf.OSSAccessKey, conf.OSSSecretKey, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating OSS client")
	}
	bucket, err := client.Bucket(conf.OSSBucket)
	if err != nil {
		return nil, errors.Wrap(err, "getting OSS bucket")
	}

	store := &OSSStore{bucket: bucket, logger: logger}
	store.breaker = gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        "oss",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Cause(err) == core.ErrBlobNotFound
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn(fmt.Sprintf("circuit breaker %s: %s -> %s", name, from, to))
			}
		},
	})
	return store, nil
}

func normalizeEndpoint(ep string) string {
	ep = strings.TrimSpace(ep)
	if ep == "" || strings.HasPrefix(ep, "http://") || strings.HasPrefix(ep, "https://") {
		return ep
	}
	return "https://" + ep
}

func isNotFound(err error) bool {
	var svcErr oss.ServiceError
	return errors.As(err, &svcErr) && (svcErr.StatusCode == http.StatusNotFound || svcErr.Code == "NoSuchKey")
}

func (s *OSSStore) do(fn func() (interface{}, error)) (interface{}, error) {
	res, err := s.breaker.Execute(fn)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, errors.Wrap(err, "blob storage unavailable")
	}
	return res, err
}

func (s *OSSStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := s.do(func() (interface{}, error) {
		opts := []oss.Option{oss.WithContext(ctx), oss.ContentType(contentType)}
		if size > 0 {
			opts = append(opts, oss.ContentLength(size))
		}
		return nil, s.bucket.PutObject(key, r, opts...)
	})
	return errors.Wrapf(err, "putting object %s", key)
}

func (s *OSSStore) Get(ctx context.Context, key string) (io.ReadCloser, core.ObjectInfo, error) {
	res, err := s.do(func() (interface{}, error) {
		header, err := s.bucket.GetObjectDetailedMeta(key, oss.WithContext(ctx))
		if err != nil {
			if isNotFound(err) {
				return nil, core.ErrBlobNotFound
			}
			return nil, err
		}
		body, err := s.bucket.GetObject(key, oss.WithContext(ctx))
		if err != nil {
			if isNotFound(err) {
				return nil, core.ErrBlobNotFound
			}
			return nil, err
		}

		info := core.ObjectInfo{Key: key, ContentType: header.Get("Content-Type")}
		info.Size, _ = strconv.ParseInt(header.Get("Content-Length"), 10, 64)
		info.LastModified, _ = http.ParseTime(header.Get("Last-Modified"))
		return getResult{body: body, info: info}, nil
	})
	if err != nil {
		if errors.Cause(err) == core.ErrBlobNotFound {
			return nil, core.ObjectInfo{}, core.ErrBlobNotFound
		}
		return nil, core.ObjectInfo{}, errors.Wrapf(err, "getting object %s", key)
	}
	got := res.(getResult)
	return got.body, got.info, nil
}

type getResult struct {
	body io.ReadCloser
	info core.ObjectInfo
}

// Move copies src to dst then deletes src; OSS has no rename.
func (s *OSSStore) Move(ctx context.Context, src, dst string) error {
	_, err := s.do(func() (interface{}, error) {
		if _, err := s.bucket.CopyObject(src, dst, oss.WithContext(ctx)); err != nil {
			if isNotFound(err) {
				return nil, core.ErrBlobNotFound
			}
			return nil, err
		}
		return nil, s.bucket.DeleteObject(src, oss.WithContext(ctx))
	})
	if errors.Cause(err) == core.ErrBlobNotFound {
		return core.ErrBlobNotFound
	}
	return errors.Wrapf(err, "moving object %s", src)
}

func (s *OSSStore) Delete(ctx context.Context, keys ...string) error {
	for i := 0; i < len(keys); i += ossDeleteBatch {
		end := i + ossDeleteBatch
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[i:end]
		_, err := s.do(func() (interface{}, error) {
			return s.bucket.DeleteObjects(batch, oss.DeleteObjectsQuiet(true), oss.WithContext(ctx))
		})
		if err != nil {
			return errors.Wrapf(err, "deleting objects %d-%d", i, end)
		}
	}
	return nil
}

func (s *OSSStore) List(ctx context.Context, prefix string, olderThan time.Time) ([]core.ObjectInfo, error) {
	var (
		objects []core.ObjectInfo
		marker  = oss.Marker("")
	)
	for {
		res, err := s.do(func() (interface{}, error) {
			return s.bucket.ListObjects(oss.Prefix(prefix), marker, oss.MaxKeys(1000), oss.WithContext(ctx))
		})
		if err != nil {
			return nil, errors.Wrapf(err, "listing objects under %s", prefix)
		}
		lor := res.(oss.ListObjectsResult)
		for _, obj := range lor.Objects {
			if obj.Key == "" || (!olderThan.IsZero() && !obj.LastModified.Before(olderThan)) {
				continue
			}
			objects = append(objects, core.ObjectInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified.UTC()})
		}
		if !lor.IsTruncated {
			return objects, nil
		}
		marker = oss.Marker(lor.NextMarker)
	}
}
