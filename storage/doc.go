// Package storage provides the object storage abstraction that backs the
// variable store and the pipeline repository.
//
// Backends register themselves with RegisterFactory and are selected by
// Config.Provider:
//
//   - storage/local: local filesystem, the default
//   - storage/s3: Amazon S3 and S3-compatible storage
//
// # Configuration
//
//	storage:
//	  provider: "s3"
//	  bucket: "blockflow"
//	  prefix: "prod"
//	  region: "us-east-1"
//
// Download reports a missing object with an error matching ErrNotFound.
package storage
