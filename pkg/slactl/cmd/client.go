package cmd

import (
	"errors"

	"github.com/telekom/sla-escalation/pkg/slactl/client"
)

func buildClient(rt *runtimeState) (*client.Client, error) {
	if rt.server == "" {
		return nil, errors.New("server is required; use --server or " + EnvServer)
	}
	return client.New(
		client.WithServer(rt.server),
		client.WithToken(rt.token),
		client.WithTimeout(rt.timeout),
		client.WithTLSConfig(rt.caFile, rt.insecure),
	)
}
