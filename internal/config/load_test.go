package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFlagSet_Precedence(t *testing.T) {
	cfgPath := writeFile(t, "resource-orm.yaml", `
database:
  driver: postgres
  database: orm
server:
  port: 7000
  read_timeout: 3s
orm:
  manifest_file: /etc/app/resources.yaml
  max_filter_depth: 4
events:
  websocket_enabled: true
`)
	t.Setenv("RORM_SERVER_PORT", "7100")
	t.Setenv("RORM_ORM_DEFAULT_LIMIT", "20")

	cfg, err := LoadFlagSet(newFlagSet(t, "--config", cfgPath, "--orm.max_filter_depth=6"))
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5432, cfg.Database.Port, "driver default port")
	assert.Equal(t, 7100, cfg.Server.Port, "env overrides file")
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "/etc/app/resources.yaml", cfg.ORM.ManifestFile)
	assert.Equal(t, 20, cfg.ORM.DefaultLimit)
	assert.Equal(t, 6, cfg.ORM.MaxFilterDepth, "flag overrides file")
	assert.True(t, cfg.Events.WebsocketEnabled)
	assert.Equal(t, 64, cfg.Events.Buffer)
	assert.Equal(t, "resource-orm", cfg.Observability.ServiceName)
}

func TestLoadFlagSet_Defaults(t *testing.T) {
	cfg, err := LoadFlagSet(newFlagSet(t, "--config", writeFile(t, "empty.yaml", "{}\n")))
	require.NoError(t, err)

	assert.Equal(t, DriverMySQL, cfg.Database.Driver)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, "resources.yaml", cfg.ORM.ManifestFile)
	assert.Equal(t, 8, cfg.ORM.MaxFilterDepth)
	assert.Equal(t, 2*time.Minute, cfg.Server.Auth.OIDCClockSkew)
	assert.Equal(t, []string{"Authorization", "Content-Type", "X-Request-ID"}, cfg.Server.CORSAllowedHeaders)
}

func TestLoadFlagSet_SecretFiles(t *testing.T) {
	dsnFile := writeFile(t, "dsn", "  app:pw@tcp(db:3306)/orm \n")
	keyFile := writeFile(t, "key", "0123456789abcdef0123456789abcdef\n")

	cfg, err := LoadFlagSet(newFlagSet(t,
		"--config", writeFile(t, "c.yaml", "{}\n"),
		"--database.dsn_file", dsnFile,
		"--orm.encryption_key_file", keyFile,
	))
	require.NoError(t, err)
	assert.Equal(t, "app:pw@tcp(db:3306)/orm", cfg.Database.ConnectionString)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.ORM.EncryptionKey)
	assert.False(t, cfg.Validate().HasErrors(), cfg.Validate().Error())
}

func TestLoadFlagSet_EmptyAdminTokenFile(t *testing.T) {
	_, err := LoadFlagSet(newFlagSet(t,
		"--config", writeFile(t, "c.yaml", "{}\n"),
		"--server.admin.auth_token_file", writeFile(t, "token", "\n"),
	))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin auth token file")
}

func TestLoadFlagSet_RejectsUnknownKeys(t *testing.T) {
	_, err := LoadFlagSet(newFlagSet(t, "--config", writeFile(t, "c.yaml", "server:\n  graphiql_enabled: true\n")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal config")
}

func TestLoadFlagSet_MissingExplicitConfigFile(t *testing.T) {
	_, err := LoadFlagSet(newFlagSet(t, "--config", filepath.Join(t.TempDir(), "absent.yaml")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadFlagSet_NilFlagSet(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("RORM_DATABASE_DRIVER", "sqlite")
	t.Setenv("RORM_DATABASE_DATABASE", "app.db")

	cfg, err := LoadFlagSet(nil)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 0, cfg.Database.Port)
	assert.Equal(t, "app.db?_pragma=foreign_keys(1)", cfg.Database.DSN())
}

func TestLoadFlagSet_RejectsSecondStdinSecret(t *testing.T) {
	fs := newFlagSet(t,
		"--database.dsn_file=@-",
		"--orm.encryption_key_file= @- ",
		"--server.admin.auth_token_file=@-",
	)
	_, err := LoadFlagSet(fs)
	require.Error(t, err)
	for _, key := range []string{"database.dsn_file", "orm.encryption_key_file", "server.admin.auth_token_file"} {
		assert.Contains(t, err.Error(), key)
	}
	assert.NotContains(t, err.Error(), "database.password_file")
}

func TestValidateSingleStdinFileSource(t *testing.T) {
	cases := map[string]struct {
		settings map[string]string
		wantErr  bool
	}{
		"no stdin": {settings: map[string]string{
			"database.dsn_file":      "/run/secrets/dsn",
			"database.password_file": "/run/secrets/password",
		}},
		"one stdin": {settings: map[string]string{
			"database.password_file":  "@-",
			"orm.encryption_key_file": "/run/secrets/key",
		}},
		"two stdin": {settings: map[string]string{
			"database.password_file":  "@-",
			"orm.encryption_key_file": "@-",
		}, wantErr: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			v := viper.New()
			for k, val := range tc.settings {
				v.Set(k, val)
			}
			err := validateSingleStdinFileSource(v)
			if tc.wantErr {
				assert.ErrorContains(t, err, "only one @- source is allowed")
				return
			}
			assert.NoError(t, err)
		})
	}
}
