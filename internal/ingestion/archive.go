package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Locator resolves the tick archive of a day to a local file. release must
// be called once the archive has been read.
type Locator interface {
	Locate(ctx context.Context, day time.Time) (path string, release func(), err error)
}

// Naming builds archive file names such as STOCK_TICK_04042022.zip.
type Naming struct {
	Prefix string
	Ext    string
}

func DefaultNaming() Naming {
	return Naming{Prefix: "STOCK_TICK_", Ext: "zip"}
}

func (n Naming) ArchiveName(day time.Time) string {
	return n.Prefix + day.Format("02012006") + "." + n.Ext
}

// LocalLocator finds archives in a directory.
type LocalLocator struct {
	Root string
	Naming
}

func NewLocalLocator(root string, naming Naming) *LocalLocator {
	return &LocalLocator{Root: root, Naming: naming}
}

func (l *LocalLocator) Locate(ctx context.Context, day time.Time) (string, func(), error) {
	path := filepath.Join(l.Root, l.ArchiveName(day))

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, path)
	case err != nil:
		return "", nil, fmt.Errorf("failed to stat archive %s: %w", path, err)
	case info.IsDir():
		return "", nil, fmt.Errorf("%w: %s is a directory", ErrArchiveNotFound, path)
	}
	return path, func() {}, nil
}
