// Package mdns advertises the panel's control surface on the local network
// so clients can find the device by its stable derived hostname.
package mdns

import (
	"context"
	"fmt"
	"net"

	"github.com/efm-project/paneld/internal/logctx"
	"github.com/libp2p/zeroconf/v2"
)

const (
	serviceName   = "_efm._tcp"
	serviceDomain = "local."
)

// Service is a registered mDNS presence.
type Service struct {
	server *zeroconf.Server
}

// Register announces the control surface under the given instance name. The
// hardware address travels in a TXT record so clients can verify which
// device answered.
func Register(ctx context.Context, instance string, port int, mac net.HardwareAddr) (*Service, error) {
	logger := logctx.LoggerFromContext(ctx)

	txt := []string{"mac=" + mac.String()}

	server, err := zeroconf.Register(instance, serviceName, serviceDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mdns service: %w", err)
	}

	logger.Info("registered mdns service",
		"instance", instance,
		"service", serviceName,
		"port", port,
	)

	return &Service{server: server}, nil
}

// Shutdown withdraws the announcement.
func (s *Service) Shutdown() {
	s.server.Shutdown()
}
