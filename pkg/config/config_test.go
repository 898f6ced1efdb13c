package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: sqlite
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultWorkers, cfg.Ingest.Workers)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "defectoor.sqlite", cfg.Database.SQLite.Path)
	assert.Nil(t, cfg.Server)
	assert.Nil(t, cfg.Export)
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
global:
  log_level: debug
database:
  driver: postgres
  postgres:
    host: db.example.com
    port: 5432
    user: defectoor
    password: secret
    database: defects
ingest:
  workers: 8
  suppress_file: /etc/defectoor/suppress
  skip_paths:
    - "/usr/include/**"
server:
  listen: ":9090"
  auth:
    enabled: true
    anonymous_read: true
    users:
      - username: admin
        password: hunter2
        role: admin
export:
  enabled: true
  bucket: results
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.Global.LogLevel)
	assert.Equal(t, 8, cfg.Ingest.Workers)
	assert.Equal(t, "/etc/defectoor/suppress", cfg.Ingest.SuppressFile)
	assert.Equal(t, []string{"/usr/include/**"}, cfg.Ingest.SkipPaths)
	assert.Equal(t, "db.example.com", cfg.Database.Postgres.Host)

	require.NotNil(t, cfg.Server)
	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, DefaultSessionTTL, cfg.Server.Auth.SessionTTL)
	assert.True(t, cfg.Server.Auth.AnonymousRead)
	require.Len(t, cfg.Server.Auth.Users, 1)

	require.NotNil(t, cfg.Export)
	assert.Equal(t, "results", cfg.Export.Bucket)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:   "valid sqlite defaults",
			mutate: func(cfg *Config) {},
		},
		{
			name: "unsupported driver",
			mutate: func(cfg *Config) {
				cfg.Database.Driver = "oracle"
			},
			wantErr: "unsupported database driver",
		},
		{
			name: "postgres requires host",
			mutate: func(cfg *Config) {
				cfg.Database.Driver = "postgres"
				cfg.Database.Postgres.Database = "defects"
			},
			wantErr: "postgres host is required",
		},
		{
			name: "postgres requires database",
			mutate: func(cfg *Config) {
				cfg.Database.Driver = "postgres"
				cfg.Database.Postgres.Host = "db"
			},
			wantErr: "postgres database is required",
		},
		{
			name: "enabled export requires bucket",
			mutate: func(cfg *Config) {
				cfg.Export = &ExportConfig{Enabled: true}
			},
			wantErr: "export bucket is required",
		},
		{
			name: "auth enabled without users",
			mutate: func(cfg *Config) {
				cfg.Server = &ServerConfig{
					Auth: AuthConfig{Enabled: true},
				}
				cfg.Server.applyDefaults()
			},
			wantErr: "no users are configured",
		},
		{
			name: "duplicate usernames",
			mutate: func(cfg *Config) {
				cfg.Server = &ServerConfig{
					Auth: AuthConfig{
						Enabled: true,
						Users: []AuthUser{
							{Username: "a", Password: "x"},
							{Username: "a", Password: "y"},
						},
					},
				}
				cfg.Server.applyDefaults()
			},
			wantErr: "duplicate username",
		},
		{
			name: "invalid session ttl",
			mutate: func(cfg *Config) {
				cfg.Server = &ServerConfig{
					Auth: AuthConfig{SessionTTL: "soon"},
				}
			},
			wantErr: "invalid session_ttl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Database: DatabaseConfig{
					Driver: "sqlite",
					SQLite: SQLiteConfig{Path: ":memory:"},
				},
			}
			cfg.applyDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
