package blob

import (
	"context"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
)

// LocalStore keeps blobs as files under a directory; used in development and tests.
type LocalStore struct {
	dir string
}

var _ core.BlobStore = (*LocalStore)(nil) // interface compliance check

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrap(err, "creating storage directory")
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", errors.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.dir, filepath.FromSlash(clean)), nil
}

func (s *LocalStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return errors.Wrap(err, "creating blob directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	defer os.Remove(tmp.Name()) // no-op once renamed

	if _, err = io.Copy(tmp, r); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing blob")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "closing blob")
	}
	return errors.Wrap(os.Rename(tmp.Name(), p), "saving blob")
}

func (s *LocalStore) Get(_ context.Context, key string) (io.ReadCloser, core.ObjectInfo, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, core.ObjectInfo{}, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ObjectInfo{}, core.ErrBlobNotFound
		}
		return nil, core.ObjectInfo{}, errors.Wrap(err, "opening blob")
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, core.ObjectInfo{}, errors.Wrap(err, "reading blob info")
	}
	return f, core.ObjectInfo{
		Key:          key,
		Size:         fi.Size(),
		ContentType:  mime.TypeByExtension(path.Ext(key)),
		LastModified: fi.ModTime().UTC(),
	}, nil
}

func (s *LocalStore) Move(_ context.Context, src, dst string) error {
	srcPath, err := s.path(src)
	if err != nil {
		return err
	}
	dstPath, err := s.path(dst)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(dstPath), 0o750); err != nil {
		return errors.Wrap(err, "creating blob directory")
	}
	if err = os.Rename(srcPath, dstPath); err != nil {
		if os.IsNotExist(err) {
			return core.ErrBlobNotFound
		}
		return errors.Wrap(err, "moving blob")
	}
	// rename keeps the upload mtime; List filters on the move time
	now := time.Now()
	if err = os.Chtimes(dstPath, now, now); err != nil {
		return errors.Wrap(err, "touching moved blob")
	}
	return nil
}

func (s *LocalStore) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		p, err := s.path(key)
		if err != nil {
			return err
		}
		if err = os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "deleting blob %s", key)
		}
	}
	return nil
}

func (s *LocalStore) List(_ context.Context, prefix string, olderThan time.Time) ([]core.ObjectInfo, error) {
	var objects []core.ObjectInfo
	err := filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(s.dir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if !olderThan.IsZero() && !fi.ModTime().Before(olderThan) {
			return nil
		}
		objects = append(objects, core.ObjectInfo{Key: key, Size: fi.Size(), LastModified: fi.ModTime().UTC()})
		return nil
	})
	return objects, errors.Wrap(err, "listing blobs")
}
