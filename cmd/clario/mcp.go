package main

import (
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ashureev/clario/internal/app"
	"github.com/ashureev/clario/internal/config"
	"github.com/ashureev/clario/internal/identity"
	"github.com/ashureev/clario/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve conversations as MCP tools over stdio",
	Long: `Run the conversation stack in process and expose it to an MCP client
(an editor or agent) over stdio. Configuration is read from the same
environment variables as the server.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := GetLogger()
		_ = godotenv.Load()

		cfg, err := config.Load()
		if err != nil {
			logger.Error("failed to load configuration", "error", err)
			return err
		}

		stack, err := app.New(cmd.Context(), cfg, logger)
		if err != nil {
			logger.Error("failed to initialize conversation stack", "error", err)
			return err
		}
		defer stack.Close()

		clientID := viper.GetString("client-id")
		if !identity.IsValidClientID(clientID) {
			if clientID, err = identity.NewClientID(); err != nil {
				return err
			}
		}

		logger.Info("serving MCP over stdio", "client_id", clientID, "llm_enabled", stack.LLMEnabled)
		return server.ServeStdio(mcpserver.New(stack.Sessions, clientID))
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
