package config_test

import (
	"strings"
	"testing"

	"combinados/internal/config"
	"combinados/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default("default")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Workspace.ID != "default" {
		t.Fatalf("unexpected workspace id %q", cfg.Workspace.ID)
	}
	if cfg.ApproachingHours() != 24 || cfg.SignedURLTTL() != 3600 {
		t.Fatalf("unexpected defaults %d %d", cfg.ApproachingHours(), cfg.SignedURLTTL())
	}
}

func TestGeneratedTemplateParses(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault("ws-1")))
	if err != nil {
		t.Fatalf("template must parse: %v", err)
	}
	if cfg.Workspace.CreationPolicy != config.CreationAnyAuthenticated {
		t.Fatalf("unexpected policy %q", cfg.Workspace.CreationPolicy)
	}
}

func TestValidatePolicies(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "unknown policy",
			mutate:  func(c *config.Config) { c.Workspace.CreationPolicy = "open" },
			wantErr: "creation_policy",
		},
		{
			name: "role gated without roles",
			mutate: func(c *config.Config) {
				c.Workspace.CreationPolicy = config.CreationRoleGated
				c.Workspace.CreationRoles = nil
			},
			wantErr: "creation_roles",
		},
		{
			name: "role gated with unknown role",
			mutate: func(c *config.Config) {
				c.Workspace.CreationPolicy = config.CreationRoleGated
				c.Workspace.CreationRoles = []string{"SUPERVISOR"}
			},
			wantErr: "unknown role",
		},
		{
			name: "roles on open policy",
			mutate: func(c *config.Config) {
				c.Workspace.CreationRoles = []string{domain.RoleGestor}
			},
			wantErr: "creation_roles",
		},
		{
			name:    "webhook without url",
			mutate:  func(c *config.Config) { c.Webhooks = []config.WebhookConfig{{ID: "h1"}} },
			wantErr: "empty url",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default("default")
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestCanCreateAgreements(t *testing.T) {
	cfg := config.Default("default")
	if !cfg.CanCreateAgreements(nil) {
		t.Fatalf("open policy must allow everyone")
	}
	cfg.Workspace.CreationPolicy = config.CreationRoleGated
	cfg.Workspace.CreationRoles = []string{domain.RoleGestor, domain.RoleAdmin}
	if cfg.CanCreateAgreements([]string{domain.RoleColaborador}) {
		t.Fatalf("colaborador must be gated")
	}
	if !cfg.CanCreateAgreements([]string{domain.RoleColaborador, domain.RoleGestor}) {
		t.Fatalf("gestor must pass the gate")
	}
}
