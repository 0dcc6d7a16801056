package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ashureev/clario/internal/client"
	"github.com/ashureev/clario/internal/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the agents about a project",
	Long: `Start (or resume) a conversation on a project and chat in the terminal.
Replies stream over a WebSocket; while it is down messages go over HTTP.
Type /quit to end the conversation.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := GetLogger()
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		c, err := client.New(client.Config{
			BaseURL:              viper.GetString("server"),
			ClientID:             viper.GetString("client-id"),
			MaxReconnectAttempts: viper.GetInt("max-reconnect-attempts"),
			Logger:               logger,
		})
		if err != nil {
			return err
		}

		res, err := c.Start(ctx, viper.GetString("project"), viper.GetString("message"))
		if err != nil {
			logger.Error("failed to start conversation", "error", err)
			return err
		}
		logger.Info("conversation started", "session_id", res.SessionID, "project_id", res.ProjectID)

		go func() {
			err := c.Run(ctx)
			switch {
			case err == nil, errors.Is(err, context.Canceled):
			case errors.Is(err, client.ErrReconnectExhausted):
				logger.Warn("live updates unavailable, continuing over HTTP", "error", err)
			default:
				logger.Warn("live connection ended", "error", err)
			}
		}()

		return tui.Run(ctx, c, c.OnStateChange)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().String("server", "http://localhost:8080", "Clario server URL")
	chatCmd.Flags().String("project", "", "project id to resume (a new project when empty)")
	chatCmd.Flags().String("message", "", "first message to send")
	chatCmd.Flags().String("client-id", "", "client identity (generated when empty)")
	chatCmd.Flags().Int("max-reconnect-attempts", 3, "consecutive failed reconnects before falling back to HTTP only")
	for _, name := range []string{"server", "project", "message", "client-id", "max-reconnect-attempts"} {
		_ = viper.BindPFlag(name, chatCmd.Flags().Lookup(name))
	}
	_ = viper.BindEnv("max-reconnect-attempts", "CLARIO_MAX_RECONNECT_ATTEMPTS", "MAX_RECONNECT_ATTEMPTS")
}
