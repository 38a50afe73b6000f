package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"
)

// mockStorage implements Storage for testing.
type mockStorage struct {
	data   map[string][]byte
	failOn string // method name to fail on
}

func newMockStorage() *mockStorage {
	return &mockStorage{data: make(map[string][]byte)}
}

func (m *mockStorage) Upload(_ context.Context, path string, reader io.Reader) error {
	if m.failOn == "upload" {
		return fmt.Errorf("mock upload error")
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.data[path] = data
	return nil
}

func (m *mockStorage) Download(_ context.Context, path string) (io.ReadCloser, error) {
	data, ok := m.data[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockStorage) Delete(_ context.Context, path string) error {
	if m.failOn == "delete" {
		return fmt.Errorf("mock delete error")
	}
	delete(m.data, path)
	return nil
}

func (m *mockStorage) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.data[path]
	return ok, nil
}

func (m *mockStorage) List(_ context.Context, prefix string) ([]FileInfo, error) {
	var files []FileInfo
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			files = append(files, FileInfo{Path: k, Size: int64(len(v))})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func TestDeletePrefix_FallsBackToListAndDelete(t *testing.T) {
	ctx := context.Background()
	m := newMockStorage()
	m.data["a/1"] = []byte("x")
	m.data["a/2"] = []byte("y")
	m.data["b/1"] = []byte("z")

	if err := DeletePrefix(ctx, m, "a/"); err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	if len(m.data) != 1 {
		t.Errorf("expected only b/1 to remain, got %v", m.data)
	}
}

func TestDeletePrefix_PropagatesError(t *testing.T) {
	m := newMockStorage()
	m.data["a/1"] = []byte("x")
	m.failOn = "delete"
	if err := DeletePrefix(context.Background(), m, "a/"); err == nil {
		t.Error("expected delete error")
	}
}

func TestByteClient_JSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewByteClient(newMockStorage())

	in := map[string]any{"type": "dataframe", "length": float64(3)}
	if err := WriteJSON(ctx, c, "v/type.json", in); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var out map[string]any
	if err := ReadJSON(ctx, c, "v/type.json", &out); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if out["type"] != "dataframe" || out["length"] != float64(3) {
		t.Errorf("unexpected: %v", out)
	}

	if err := ReadJSON(ctx, c, "v/missing.json", &out); !IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestByteClient_UploadError(t *testing.T) {
	m := newMockStorage()
	m.failOn = "upload"
	if err := NewByteClient(m).Upload(context.Background(), "x", []byte("1")); err == nil {
		t.Error("expected upload error")
	}
}

func TestConfig_DefaultsAndValidate(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	if cfg.Provider != ProviderLocal || cfg.BasePath != DefaultBasePath {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}

	s3 := Config{Provider: ProviderS3}
	s3.ApplyDefaults()
	if s3.Region != DefaultRegion {
		t.Errorf("expected default region, got %q", s3.Region)
	}
	if err := s3.Validate(); err == nil {
		t.Error("expected missing bucket error")
	}
	s3.Bucket = "b"
	s3.AccessKey = "only-key"
	if err := s3.Validate(); err == nil {
		t.Error("expected credential pair error")
	}

	bad := Config{Provider: "ftp"}
	if err := bad.Validate(); err == nil {
		t.Error("expected unsupported provider error")
	}
}
