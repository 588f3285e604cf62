package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "https://pncp.gov.br/api/consulta", cfg.Source.BaseURL)
	require.Equal(t, 4, cfg.Harvest.Workers)
	require.Equal(t, 300, cfg.Harvest.LeaseSeconds)
	require.Equal(t, 5*time.Minute, cfg.Lease())
	require.Equal(t, 30*time.Second, cfg.SourceTimeout())
	require.NotEmpty(t, cfg.Plan.Catalog, "built-in endpoint catalog applies when none configured")
	require.Equal(t, []string{"contratacoes-publicacao"}, cfg.Plan.Endpoints)
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9090
harvest:
  workers: 2
  lease_seconds: 60
plan:
  start_date: "2024-01-01"
  end_date: "2024-01-02"
  endpoints: ["contratacoes-publicacao", "atas"]
  modalities: [6]
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 2, cfg.Harvest.Workers)
	require.Equal(t, time.Minute, cfg.Lease())
	require.Equal(t, []string{"contratacoes-publicacao", "atas"}, cfg.Plan.Endpoints)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Server.Port = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Source.BaseURL = ""
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Harvest.Workers = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Harvest.LeaseSeconds = -1
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.PubSub.Enabled = true
	cfg.PubSub.ProjectID = ""
	require.Error(t, cfg.Validate())
}
