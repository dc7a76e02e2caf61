package config

import (
	"fmt"
	"os"
	"strings"
)

// Environment variables holding secrets. Each may instead be supplied as a
// file path in <NAME>_FILE.
const (
	EnvMQTTPassword = "LINKSTAGE_MQTT_PASSWORD"
	EnvPGPassword   = "PGPASSWORD"
	EnvAdminUser    = "LINKSTAGE_ADMIN_USER"
	EnvAdminPass    = "LINKSTAGE_ADMIN_PASS"
	EnvOperatorUser = "LINKSTAGE_OPERATOR_USER"
	EnvOperatorPass = "LINKSTAGE_OPERATOR_PASS"
)

// ResolveSecret reads envName using the *_FILE convention. The file variant
// wins; its content is trimmed. An unset secret is "", not an error.
func ResolveSecret(envName string) (string, error) {
	fileEnv := envName + "_FILE"
	if filePath := os.Getenv(fileEnv); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from %s=%s: %w", fileEnv, filePath, err)
		}
		return strings.TrimSpace(string(content)), nil
	}
	return os.Getenv(envName), nil
}

// Secrets are the credentials the process needs at startup.
type Secrets struct {
	MQTTPassword string
	PGPassword   string
	AdminUser    string
	AdminPass    string
	OperatorUser string
	OperatorPass string
}

// LoadSecrets resolves every secret, failing on the first unreadable file.
func LoadSecrets() (Secrets, error) {
	var s Secrets
	targets := []struct {
		env string
		dst *string
	}{
		{EnvMQTTPassword, &s.MQTTPassword},
		{EnvPGPassword, &s.PGPassword},
		{EnvAdminUser, &s.AdminUser},
		{EnvAdminPass, &s.AdminPass},
		{EnvOperatorUser, &s.OperatorUser},
		{EnvOperatorPass, &s.OperatorPass},
	}
	for _, t := range targets {
		v, err := ResolveSecret(t.env)
		if err != nil {
			return Secrets{}, err
		}
		*t.dst = v
	}
	return s, nil
}

// ExportPGPassword copies a file-supplied Postgres password into PGPASSWORD
// so lib/pq connection setup sees it.
func (s Secrets) ExportPGPassword() error {
	if s.PGPassword == "" || os.Getenv(EnvPGPassword) == s.PGPassword {
		return nil
	}
	return os.Setenv(EnvPGPassword, s.PGPassword)
}
