package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// ByteClient provides a []byte-oriented interface for storage operations.
// The variable store and pipeline repository work with whole files and use
// this instead of streams.
type ByteClient interface {
	// Upload stores data at the given path.
	Upload(ctx context.Context, path string, data []byte) error

	// Download retrieves data from the given path.
	Download(ctx context.Context, path string) ([]byte, error)

	// Delete removes the object at the given path.
	Delete(ctx context.Context, path string) error

	// DeletePrefix removes every object under prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Exists checks whether an object exists at the given path.
	Exists(ctx context.Context, path string) (bool, error)

	// List returns metadata for all objects whose path starts with prefix.
	List(ctx context.Context, prefix string) ([]FileInfo, error)
}

// byteAdapter wraps a streaming Storage and implements ByteClient.
type byteAdapter struct {
	storage Storage
}

// NewByteClient wraps a streaming Storage implementation with []byte convenience methods.
func NewByteClient(s Storage) ByteClient {
	return &byteAdapter{storage: s}
}

func (a *byteAdapter) Upload(ctx context.Context, path string, data []byte) error {
	return a.storage.Upload(ctx, path, bytes.NewReader(data))
}

func (a *byteAdapter) Download(ctx context.Context, path string) ([]byte, error) {
	rc, err := a.storage.Download(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (a *byteAdapter) Delete(ctx context.Context, path string) error {
	return a.storage.Delete(ctx, path)
}

func (a *byteAdapter) DeletePrefix(ctx context.Context, prefix string) error {
	return DeletePrefix(ctx, a.storage, prefix)
}

func (a *byteAdapter) Exists(ctx context.Context, path string) (bool, error) {
	return a.storage.Exists(ctx, path)
}

func (a *byteAdapter) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	return a.storage.List(ctx, prefix)
}

// WriteJSON marshals v and uploads it to path.
func WriteJSON(ctx context.Context, c ByteClient, path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", path, err)
	}
	return c.Upload(ctx, path, data)
}

// ReadJSON downloads path and unmarshals it into v. A missing object
// returns an error matching ErrNotFound.
func ReadJSON(ctx context.Context, c ByteClient, path string, v any) error {
	data, err := c.Download(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("storage: decode %s: %w", path, err)
	}
	return nil
}
