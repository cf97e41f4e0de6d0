package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/foliosync/foliosync/internal/config"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store and verify the content service API key",
		Long: `Store the API key used to authenticate with the content service.

The key is read from --api-key, the FOLIOSYNC_API_KEY environment variable,
or an interactive prompt, in that order. Once entered, it is verified with
a status check and persisted to the config file.`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runLogin,
	}

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "logout",
		Short:       "Remove the stored API key",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "whoami",
		Short:       "Display the authenticated user and server info",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runWhoami,
	}
}

// promptAPIKey reads an API key from the controlling terminal without
// echoing it, falling back to a plain line read when stdin isn't a TTY
// (e.g. piped input in scripted/CI use).
func promptAPIKey() (string, error) {
	fmt.Fprint(os.Stderr, "API key: ")

	if term.IsTerminal(int(os.Stdin.Fd())) {
		data, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)

		if err != nil {
			return "", fmt.Errorf("reading API key: %w", err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	reader := bufio.NewReader(os.Stdin)

	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading API key: %w", err)
	}

	return strings.TrimSpace(line), nil
}

// runLogin resolves the API key from flag/env/prompt, verifies it against
// the content service, and persists it to the config file.
func runLogin(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := buildLogger(nil)

	path := flagConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	apiKey := flagAPIKey
	if apiKey == "" {
		apiKey = os.Getenv(config.EnvAPIKey)
	}

	if apiKey == "" {
		apiKey, err = promptAPIKey()
		if err != nil {
			return err
		}
	}

	if apiKey == "" {
		return fmt.Errorf("no API key provided")
	}

	baseURL := cfg.Server.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultBaseURL
	}

	client := newAPIClient(&config.ResolvedConfig{BaseURL: baseURL, APIKey: apiKey}, logger)

	result, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("verifying API key: %w", err)
	}

	cfg.Server.APIKey = apiKey
	cfg.Server.Username = result.Username

	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("Signed in as %s.\n", result.Username)

	return nil
}

// runLogout clears the stored API key from the config file.
func runLogout(cmd *cobra.Command, _ []string) error {
	path := flagConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if cfg.Server.APIKey == "" {
		fmt.Println("Not signed in.")

		return nil
	}

	cfg.Server.APIKey = ""
	cfg.Server.Username = ""

	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Println("API key removed.")
	fmt.Println("Sync directory untouched — your files remain on disk.")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Username string `json:"username"`
	BaseURL  string `json:"base_url"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := buildLogger(nil)

	path := flagConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	apiKey := flagAPIKey
	if apiKey == "" {
		apiKey = os.Getenv(config.EnvAPIKey)
	}

	if apiKey == "" {
		apiKey = cfg.Server.APIKey
	}

	if apiKey == "" {
		return fmt.Errorf("not logged in — run 'foliosync login' first")
	}

	baseURL := cfg.Server.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultBaseURL
	}

	client := newAPIClient(&config.ResolvedConfig{BaseURL: baseURL, APIKey: apiKey}, logger)

	result, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("checking status: %w", err)
	}

	if flagJSON {
		return printWhoamiJSON(result.Username, baseURL)
	}

	fmt.Printf("User:   %s\n", result.Username)
	fmt.Printf("Server: %s\n", baseURL)

	return nil
}

func printWhoamiJSON(username, baseURL string) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(whoamiOutput{Username: username, BaseURL: baseURL})
}
