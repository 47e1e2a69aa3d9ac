package google_tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/ash/internal/server"
	"github.com/teemow/ash/internal/tools/common"
)

// Authorizer runs the Google OAuth code flow for an account.
type Authorizer interface {
	AuthCodeURL(account string) (string, error)
	Exchange(ctx context.Context, account, code string) error
	HasToken(account string) bool
}

// RegisterGoogleTools registers the Google OAuth tools with the MCP server.
// onAuthorized runs after a token is stored, so cached clients can pick it up.
func RegisterGoogleTools(s *mcpserver.MCPServer, sc *server.ServerContext, auth Authorizer, onAuthorized func(account string)) error {
	if auth == nil {
		return fmt.Errorf("authorizer is required")
	}

	getAuthURLTool := mcp.NewTool("google_get_auth_url",
		mcp.WithDescription("Get the OAuth URL to authorize calendar and mail access for a Google account"),
		mcp.WithString("account",
			mcp.Description("Account name (default: the configured account). Used to manage multiple Google accounts."),
		),
	)
	s.AddTool(getAuthURLTool, mcpserver.ToolHandlerFunc(common.InstrumentedToolHandler("google_get_auth_url", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleGetAuthURL(ctx, request, sc, auth)
		})))

	saveAuthCodeTool := mcp.NewTool("google_save_auth_code",
		mcp.WithDescription("Save the OAuth authorization code to complete Google authentication for an account"),
		mcp.WithString("account",
			mcp.Description("Account name (default: the configured account). Used to manage multiple Google accounts."),
		),
		mcp.WithString("authCode",
			mcp.Required(),
			mcp.Description("The authorization code from Google OAuth"),
		),
	)
	s.AddTool(saveAuthCodeTool, mcpserver.ToolHandlerFunc(common.InstrumentedToolHandler("google_save_auth_code", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSaveAuthCode(ctx, request, sc, auth, onAuthorized)
		})))

	return nil
}

func handleGetAuthURL(_ context.Context, request mcp.CallToolRequest, sc *server.ServerContext, auth Authorizer) (*mcp.CallToolResult, error) {
	account := common.GetAccountFromArgs(request.GetArguments(), sc.Account())

	authURL, err := auth.AuthCodeURL(account)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to build authorization URL for account %s: %v", account, err)), nil
	}

	status := "not yet authorized"
	if auth.HasToken(account) {
		status = "already authorized; authorizing again replaces the stored token"
	}

	result := fmt.Sprintf(`Account "%s" is %s.

To authorize calendar and mail access:

1. Visit this URL in your browser:
   %s

2. Sign in with your Google account
3. Grant access to Calendar and Gmail (send only)
4. Copy the authorization code

5. Call the google_save_auth_code tool with the code and account name to complete authentication`, account, status, authURL)

	return mcp.NewToolResultText(result), nil
}

func handleSaveAuthCode(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext, auth Authorizer, onAuthorized func(string)) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	account := common.GetAccountFromArgs(args, sc.Account())

	authCode, ok := args["authCode"].(string)
	if !ok || authCode == "" {
		return mcp.NewToolResultError("authCode is required"), nil
	}

	if err := auth.Exchange(ctx, account, authCode); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to save authorization code for account %s: %v", account, err)), nil
	}
	if onAuthorized != nil {
		onAuthorized(account)
	}

	return mcp.NewToolResultText(fmt.Sprintf("Authorization successful for account '%s'. Calendar and mail tools can now use this account.", account)), nil
}
