// Package blob uploads files and returns their durable public URLs.
package blob

import (
	"context"
	"errors"
	"io"
)

var ErrEmptyName = errors.New("blob name is empty")

type Store interface {
	Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error)
}
