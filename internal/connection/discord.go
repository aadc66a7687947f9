package connection

import (
	"context"

	"github.com/ashureev/botdash/internal/discord"
)

// DiscordConnector adapts the gateway client to Connector.
type DiscordConnector struct {
	Client *discord.Client
}

// Connect logs in to the Discord gateway.
func (d DiscordConnector) Connect(ctx context.Context, token string) (Conn, error) {
	s, err := d.Client.Connect(ctx, token)
	if err != nil {
		return nil, err
	}
	return s, nil
}
