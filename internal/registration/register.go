// Package registration publishes the command catalog to Discord as global
// application commands.
package registration

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"github.com/tjfontaine/interactions-gateway/internal/apperr"
	"github.com/tjfontaine/interactions-gateway/internal/discord"
	"github.com/tjfontaine/interactions-gateway/internal/responses"
)

const (
	// DefaultDescription is used for entries without one; Discord rejects
	// chat commands with an empty description.
	DefaultDescription = "Replies with a configured message."

	maxDescription = 100
)

// API is the subset of the Discord client used for provisioning.
type API interface {
	GetApplication(ctx context.Context) (*discord.Application, error)
	RegisterCommands(ctx context.Context, applicationID string, commands []discord.CommandDescriptor) ([]discord.ApplicationCommand, error)
}

// Descriptors converts table entries, in catalog order, into registration
// payloads. Commands are user-installable and usable in guilds, DMs with the
// bot and private channels.
func Descriptors(table *responses.Table) []discord.CommandDescriptor {
	entries := table.Entries()
	out := make([]discord.CommandDescriptor, 0, len(entries))
	for _, e := range entries {
		out = append(out, discord.CommandDescriptor{
			Name:             e.Name,
			Description:      description(e.Description),
			IntegrationTypes: []discord.IntegrationType{discord.IntegrationTypeUserInstall},
			Contexts: []discord.InteractionContext{
				discord.InteractionContextGuild,
				discord.InteractionContextBotDM,
				discord.InteractionContextPrivateChannel,
			},
		})
	}
	return out
}

func description(s string) string {
	if s == "" {
		return DefaultDescription
	}
	if utf8.RuneCountInString(s) <= maxDescription {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxDescription])
}

// Register overwrites the application's global commands with the table.
// When applicationID is empty it is discovered from the bot token. It
// returns the application id used.
func Register(ctx context.Context, api API, applicationID string, table *responses.Table, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if applicationID == "" {
		app, err := api.GetApplication(ctx)
		if err != nil {
			return "", apperr.Provisioning(err, "fetch application")
		}
		applicationID = app.ID
		logger.Info("resolved application", slog.String("application_id", app.ID), slog.String("name", app.Name))
	}

	registered, err := api.RegisterCommands(ctx, applicationID, Descriptors(table))
	if err != nil {
		return applicationID, apperr.Provisioning(err, "register commands")
	}

	names := make([]string, 0, len(registered))
	for _, c := range registered {
		names = append(names, c.Name)
	}
	logger.Info("registered application commands",
		slog.String("application_id", applicationID),
		slog.Int("count", len(registered)),
		slog.Any("commands", names),
	)
	return applicationID, nil
}
