package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/vault/api"

	"github.com/ruteri/custodian-auth-backend/interfaces"
)

// VaultBackend stores records in HashiCorp Vault's KV v2 engine. A
// custodian deployment typically points this at a Vault instance local to
// the node so share records never leave the node's trust boundary.
type VaultBackend struct {
	client    *api.Client
	mountPath string
	dataPath  string
	log       *slog.Logger
}

// NewVaultBackend creates a Vault storage backend.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: Vault token with read/write access to the mount
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: path prefix within the mount (e.g. "custodian")
//   - log: structured logger for operational insight
func NewVaultBackend(address, token, mountPath, dataPath string, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	return &VaultBackend{
		client:    client,
		mountPath: strings.TrimSuffix(mountPath, "/"),
		dataPath:  strings.Trim(dataPath, "/"),
		log:       log,
	}, nil
}

func (b *VaultBackend) path(user interfaces.UserID, kind RecordKind) string {
	return fmt.Sprintf("%s/data/%s/%s/%s", b.mountPath, b.dataPath, kind, user)
}

// Fetch reads a record from Vault (KV v2 response format).
func (b *VaultBackend) Fetch(ctx context.Context, user interfaces.UserID, kind RecordKind) ([]byte, error) {
	path := b.path(user, kind)
	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read from Vault", slog.String("path", path), "err", err)
		return nil, fmt.Errorf("vault read: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrShareNotFound
	}

	inner, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected Vault response format at %s", path)
	}
	encoded, ok := inner["record"].(string)
	if !ok {
		return nil, interfaces.ErrShareNotFound
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("corrupt Vault record at %s: %w", path, err)
	}
	return data, nil
}

// Store writes a record to Vault.
func (b *VaultBackend) Store(ctx context.Context, user interfaces.UserID, kind RecordKind, data []byte) error {
	path := b.path(user, kind)
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"record": base64.StdEncoding.EncodeToString(data),
		},
	}
	if _, err := b.client.Logical().WriteWithContext(ctx, path, payload); err != nil {
		b.log.Error("Failed to write to Vault", slog.String("path", path), "err", err)
		return fmt.Errorf("vault write: %w", err)
	}
	return nil
}

// Name identifies the backend in logs.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s", b.dataPath)
}
