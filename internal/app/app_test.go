package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dunamismax/cropflow/internal/compress"
	"github.com/dunamismax/cropflow/internal/config"
	"github.com/dunamismax/cropflow/internal/pipeline"
	"github.com/dunamismax/cropflow/internal/storage"
	"github.com/dunamismax/cropflow/internal/store"
)

func memoryConfig() config.Config {
	return config.Config{
		Storage:     storage.Config{Backend: storage.BackendMemory, PublicBaseURL: "https://cdn.example.com"},
		Compression: compress.DefaultConfig(),
		Pipeline:    pipeline.DefaultConfig(),
	}
}

func TestBuildInMemory(t *testing.T) {
	rt, err := Build(context.Background(), memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	defer rt.Close()

	assert.NotNil(t, rt.Processor)
	assert.IsType(t, &store.MemoryJobStore{}, rt.Jobs)
	assert.Same(t, rt.Jobs, rt.Usage)

	staging, err := rt.Staging()
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/staging/a/source", staging.PublicURL("staging/a/source"))

	families, err := rt.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestBuildRejectsBadCompression(t *testing.T) {
	cfg := memoryConfig()
	cfg.Compression.QualityStep = 0

	_, err := Build(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
