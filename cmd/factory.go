package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/propflow/handoff/internal/cliconfig"
	"github.com/propflow/handoff/pkg/client"
)

type Factory struct {
	// RemoteAddr is the address of the handoff server to connect to.
	RemoteAddr string
}

func NewFactory() *Factory {
	return &Factory{}
}

// GetRemoteAddr resolves the server address from flag or config/env.
func (f *Factory) GetRemoteAddr() (string, error) {
	server := f.RemoteAddr // prio 1: command-line flag
	if server == "" {
		server = viper.GetString(ServerAddrKey) // prio 2: config/env
	}
	if server == "" {
		return "", fmt.Errorf("server address not configured (use --server or set HANDOFF_ADDR)")
	}
	return server, nil
}

// GetClient returns an authenticated HTTP client for remote operations.
func (f *Factory) GetClient() (*client.Client, error) {
	server, err := f.GetRemoteAddr()
	if err != nil {
		return nil, err
	}

	var token string
	if cfg, err := cliconfig.Load(); err == nil {
		if cred, err := cfg.GetCredential(server); err == nil { // token prio 1: saved credential
			token = cred.Token
		}
	}

	if envToken := os.Getenv("HANDOFF_TOKEN"); envToken != "" { // token prio 2: env var
		token = envToken
	}

	return client.New(server, client.WithAuthToken(token)), nil
}
