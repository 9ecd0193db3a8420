package main

import (
	"testing"

	"store_audit_backend/internal/model"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func TestInferLegacyRole(t *testing.T) {
	cases := []struct {
		name, email string
		want        model.UserRole
	}{
		{"Ana Supervisor", "ana@example.com", model.Supervisor},
		{"Bruno", "bruno.manager@example.com", model.Manager},
		{"Gerente Loja 3", "loja3@example.com", model.Manager},
		{"Root", "admin@example.com", model.Admin},
		{"Carla", "carla@example.com", model.Auditor},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, inferLegacyRole(tc.name, tc.email), tc.name)
	}
}

func TestScriptConfigReadsDatabaseSection(t *testing.T) {
	raw := []byte(`
server:
  mode: release
database:
  driver: sqlite
  sqlite_path: data/x.db
`)
	var sc scriptConfig
	assert.NoError(t, yaml.Unmarshal(raw, &sc))
	cfg := sc.toConfig()
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "data/x.db", cfg.Database.SQLitePath)
}
