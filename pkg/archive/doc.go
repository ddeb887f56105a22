// Package archive stores exported billing reports in Amazon S3 or an
// S3-compatible service such as MinIO.
//
// Objects are written under a configurable prefix and keys are validated
// against path traversal. S3 errors are classified into package sentinels so
// callers can tell a missing bucket from throttling or a timeout:
//
//	a, err := archive.NewS3Archive(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	obj, err := a.Put(ctx, "2025/03.json", body, "application/json")
//
// Configuration is read from ARCHIVE_S3_* environment variables through
// pkg/config. Tests inject a Client with WithClient.
package archive
