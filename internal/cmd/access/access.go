// Package access parses access command flags and composes the service
// entrypoint.
package access

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/louisbranch/gathering.space/internal/platform/cmd"
	server "github.com/louisbranch/gathering.space/internal/services/access/app"
)

// Config holds access command configuration.
type Config struct {
	HTTPAddr          string `env:"GATHERING_SPACE_ACCESS_HTTP_ADDR" envDefault:":8080"`
	DBPath            string `env:"GATHERING_SPACE_ACCESS_DB_PATH"   envDefault:"access.db"`
	IdentityIssuer    string `env:"GATHERING_SPACE_IDENTITY_ISSUER"  envDefault:"gathering.space"`
	IdentityPublicKey string `env:"GATHERING_SPACE_IDENTITY_PUBLIC_KEY"`
	SweepOnStart      bool   `env:"GATHERING_SPACE_ACCESS_SWEEP_ON_START" envDefault:"true"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "access HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "access sqlite database path")
	fs.StringVar(&cfg.IdentityIssuer, "identity-issuer", cfg.IdentityIssuer, "expected identity token issuer")
	fs.StringVar(&cfg.IdentityPublicKey, "identity-public-key", cfg.IdentityPublicKey, "base64 ed25519 identity token public key")
	fs.BoolVar(&cfg.SweepOnStart, "sweep-on-start", cfg.SweepOnStart, "force all presence offline and reconcile orphans at startup")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the access app and serves it until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceAccess, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:          cfg.HTTPAddr,
			DBPath:            cfg.DBPath,
			IdentityIssuer:    cfg.IdentityIssuer,
			IdentityPublicKey: cfg.IdentityPublicKey,
			SweepOnStart:      cfg.SweepOnStart,
		}); err != nil {
			return fmt.Errorf("serve access: %w", err)
		}
		return nil
	})
}
