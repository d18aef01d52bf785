package ldp

import (
	"context"
	"net"
	"net/http"

	"github.com/openziti/sdk-golang/ziti"
)

// ZitiTransport builds an HTTP transport that dials the repository through
// an OpenZiti overlay service instead of the plain network. The identity
// file is the enrolled Ziti identity JSON.
func ZitiTransport(identityFile, serviceName string) (*http.Transport, error) {
	cfg, err := ziti.NewConfigFromFile(identityFile)
	if err != nil {
		return nil, err
	}
	zitiContext, err := ziti.NewContext(cfg)
	if err != nil {
		return nil, err
	}
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return zitiContext.Dial(serviceName)
		},
	}, nil
}
