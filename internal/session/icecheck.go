package session

import (
	"context"
	"strings"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// probeStunServers fires a binding request at every configured STUN URL and
// logs the outcome. Best effort only: an unreachable server is a warning,
// never a failure, since ICE may still succeed through the others.
func probeStunServers(ctx context.Context, servers []webrtc.ICEServer, logger *zap.Logger) {
	for _, server := range servers {
		for _, url := range server.URLs {
			if !strings.HasPrefix(url, "stun:") {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			addr := strings.TrimPrefix(url, "stun:")
			if !strings.Contains(addr, ":") {
				addr += ":3478"
			}

			c, err := stun.Dial("udp4", addr)
			if err != nil {
				logger.Warn("STUN server unreachable",
					zap.String("server", addr), zap.Error(err))
				continue
			}

			message := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
			if err := c.Do(message, func(res stun.Event) {
				if res.Error != nil {
					logger.Warn("STUN binding request failed",
						zap.String("server", addr), zap.Error(res.Error))
					return
				}
				var xorAddr stun.XORMappedAddress
				if err := xorAddr.GetFrom(res.Message); err != nil {
					logger.Warn("STUN response missing mapped address",
						zap.String("server", addr), zap.Error(err))
					return
				}
				logger.Debug("STUN server responded",
					zap.String("server", addr),
					zap.String("mapped_address", xorAddr.String()))
			}); err != nil {
				logger.Warn("STUN binding request failed",
					zap.String("server", addr), zap.Error(err))
			}
			c.Close()
		}
	}
}
