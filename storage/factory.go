package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// BackendFactory creates storage backends from location URI strings.
type BackendFactory struct {
	log *slog.Logger
}

// NewBackendFactory creates a factory instance.
func NewBackendFactory(log *slog.Logger) *BackendFactory {
	return &BackendFactory{log: log}
}

// BackendFor creates a storage backend from a location URI.
//
// Supported schemes:
//   - memory:// for in-process storage (development and tests)
//   - file:///var/lib/custodian for local filesystem storage
//   - vault://token@vault.example.com:8200/secret/custodian for Vault KV v2
//   - s3://access:secret@bucket/prefix?region=us-east-1&endpoint=... for S3
func (f *BackendFactory) BackendFor(locationURI string) (Backend, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid storage location URI: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "memory":
		return NewMemoryBackend(), nil
	case "file":
		return NewFileBackend(u.Path, f.log)
	case "vault":
		return f.createVaultBackend(u)
	case "s3":
		return f.createS3Backend(u)
	default:
		return nil, fmt.Errorf("unsupported storage backend scheme: %s", u.Scheme)
	}
}

func (f *BackendFactory) createVaultBackend(u *url.URL) (Backend, error) {
	token := ""
	if u.User != nil {
		token = u.User.Username()
	}
	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("vault URI path must be /<mount>/<data path>")
	}
	scheme := "https"
	if u.Query().Get("insecure") == "true" {
		scheme = "http"
	}
	address := fmt.Sprintf("%s://%s", scheme, u.Host)
	return NewVaultBackend(address, token, parts[0], parts[1], f.log)
}

func (f *BackendFactory) createS3Backend(u *url.URL) (Backend, error) {
	accessKey, secretKey := "", ""
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}
	region := u.Query().Get("region")
	if region == "" {
		region = "us-east-1"
	}
	return NewS3Backend(u.Host, strings.Trim(u.Path, "/"), region, u.Query().Get("endpoint"), accessKey, secretKey, f.log)
}
