package gcs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storageConfig "github.com/tigerroll/feedpipe/pkg/batch/adapter/storage/config"
	config "github.com/tigerroll/feedpipe/pkg/batch/core/config"
)

func TestClientOptions(t *testing.T) {
	assert.Empty(t, ClientOptions(storageConfig.StorageConfig{}), "application default credentials")
	assert.Len(t, ClientOptions(storageConfig.StorageConfig{CredentialsFile: "/secrets/sa.json"}), 1)
	assert.Len(t, ClientOptions(storageConfig.StorageConfig{Endpoint: "http://localhost:4443/storage/v1/", CredentialsFile: "ignored"}), 2)
}

func TestAdapter_BucketDefaultsToConfiguredName(t *testing.T) {
	ctx := context.Background()
	conn, err := NewGCSAdapter(ctx, storageConfig.StorageConfig{Type: ProviderType, Endpoint: "http://localhost:4443/storage/v1/", BucketName: "reports"}, "report")
	require.NoError(t, err)
	defer conn.Close()

	a := conn.(*gcsAdapter)
	b, err := a.bucket("")
	require.NoError(t, err)
	assert.Equal(t, "reports", b.BucketName())

	a.cfg.BucketName = ""
	_, err = a.bucket("")
	assert.Error(t, err)
	assert.Equal(t, "gcs", conn.Type())
}

func TestProvider_TypeMismatch(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Feedpipe.StorageConfigs["report"] = map[string]interface{}{"type": "local", "base_dir": t.TempDir()}

	_, err := NewGCSProvider(cfg).GetConnection(context.Background(), "report")
	assert.ErrorContains(t, err, "type mismatch")
}
