package database

import (
	"fmt"
	"net/url"

	"github.com/statusdeck/streamgate/internal/config"
)

// BuildConnString assembles the postgres:// connection URL for pgx.
// Credentials go through url.UserPassword, which escapes reserved
// characters.
func BuildConnString(cfg config.DatabaseConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: url.Values{"sslmode": []string{sslMode}}.Encode(),
	}
	return u.String()
}
