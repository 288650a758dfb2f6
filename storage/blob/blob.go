// Package blob provides the document BlobStore implementations.
package blob

import (
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
)

// Open returns the blob store selected by conf.Driver.
func Open(conf core.StorageConfig, logger core.Logger) (core.BlobStore, error) {
	switch conf.Driver {
	case "oss":
		return NewOSSStore(conf, logger)
	case "local", "":
		return NewLocalStore(conf.LocalDir)
	default:
		return nil, errors.Errorf("unknown storage driver %q", conf.Driver)
	}
}
