package mcphub

import (
	"context"
	"fmt"

	"github.com/viant/mcphub/auth"
	"github.com/viant/mcphub/client"
	"github.com/viant/mcphub/transport"
)

const clientVersion = "0.1.0"

// defaultFactory builds the transport matching the spec variant and wraps
// it in a protocol client.
func (c *Coordinator) defaultFactory(ctx context.Context, spec *ServerSpec) (ToolClient, error) {
	aTransport, err := c.buildTransport(spec)
	if err != nil {
		return nil, err
	}
	return client.New(spec.DisplayName(), clientVersion, aTransport, client.WithLogger(c.logger)), nil
}

func (c *Coordinator) buildTransport(spec *ServerSpec) (transport.Transport, error) {
	switch spec.Type {
	case SpecStdio:
		return transport.NewStdio(spec.Command, spec.Args, transport.WithEnv(spec.Env)), nil
	case SpecHTTP:
		return transport.NewStreamable(spec.URL,
			transport.WithHeaders(spec.Headers),
			transport.WithSSE(spec.SSE),
			transport.WithLogger(c.logger)), nil
	case SpecOAuth:
		return transport.NewOAuth(spec.ID, spec.URL, spec.OAuth, c.store, c.router,
			transport.WithAuthLogger(c.logger),
			transport.WithFlowOptions(auth.WithOpener(c.opener)),
			transport.WithStreamableOptions(
				transport.WithHeaders(spec.Headers),
				transport.WithSSE(spec.SSE))), nil
	case SpecAutoAuth:
		return transport.NewAutoAuth(spec.ID, spec.URL, spec.RedirectScheme, spec.ClientName, c.store, c.router,
			transport.WithAuthLogger(c.logger),
			transport.WithFlowOptions(auth.WithOpener(c.opener)),
			transport.WithStreamableOptions(
				transport.WithHeaders(spec.Headers),
				transport.WithSSE(spec.SSE))), nil
	default:
		return nil, fmt.Errorf("server %s has unknown type %q", spec.ID, spec.Type)
	}
}
