package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teemow/ash/internal/assistant"
)

func newChatCmd() *cobra.Command {
	var (
		userID     string
		account    string
		sessionID  string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Run a single conversational turn",
		Long: `Send one message to the assistant and print its reply.

The turn is stored like any other: pass --session with the ID printed by a
previous call to continue that conversation.

Example:
  ash chat "find me an hour with nothing on tomorrow afternoon"
  ash chat --session 6f1c... "book the first one, call it Focus time"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(os.Stderr)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			a, err := newApp(ctx, cfg, logger, appOptions{requireModel: true})
			if err != nil {
				return err
			}
			defer a.close()

			if account == "" {
				account = cfg.Account
			}
			if userID == "" {
				userID = account
			}
			resp, err := a.assistant.Chat(ctx, assistant.Request{
				UserID:    userID,
				Account:   account,
				SessionID: sessionID,
				Text:      strings.Join(args, " "),
			})
			if err != nil {
				return err
			}
			return printChatResponse(cmd.OutOrStdout(), cmd.ErrOrStderr(), resp, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID the conversation belongs to (default: the account)")
	cmd.Flags().StringVar(&account, "account", "", "Calendar account (default: ASH_ACCOUNT)")
	cmd.Flags().StringVar(&sessionID, "session", "", "Continue an existing session")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the full response as JSON")

	return cmd
}

func printChatResponse(out, errOut io.Writer, resp *assistant.Response, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Fprintln(out, resp.Reply)
	for _, m := range resp.Mutations {
		status := "ok"
		if !m.Success {
			status = "failed: " + m.Error
		}
		fmt.Fprintf(errOut, "  %s %s\n", m.Tool, status)
	}
	fmt.Fprintf(errOut, "session: %s\n", resp.SessionID)
	return nil
}
