package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ivf-outcome-server/internal/setup"
)

var (
	clientConfigPath string
	serverBinary     string
	serverLogLevel   string
)

// setupCmd registers the MCP server with Claude Desktop
var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Register the MCP server with Claude Desktop",
	RunE:  runSetupRegister,
}

var setupRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Add or update the server entry",
	RunE:  runSetupRegister,
}

var setupUnregisterCmd = &cobra.Command{
	Use:   "unregister",
	Short: "Remove the server entry",
	RunE:  runSetupUnregister,
}

var setupStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show registration status and any problems",
	RunE:  runSetupStatus,
}

func init() {
	setupCmd.PersistentFlags().StringVar(&clientConfigPath, "client-config", "", "Path to claude_desktop_config.json (default: platform location)")
	for _, cmd := range []*cobra.Command{setupCmd, setupRegisterCmd} {
		cmd.Flags().StringVar(&serverBinary, "binary", "", "Path to "+setup.BinaryName+" (default: search PATH)")
		cmd.Flags().StringVar(&serverLogLevel, "log-level", "", "Log level passed to the server")
	}

	setupCmd.AddCommand(setupRegisterCmd)
	setupCmd.AddCommand(setupUnregisterCmd)
	setupCmd.AddCommand(setupStatusCmd)
}

func runSetupRegister(cmd *cobra.Command, args []string) error {
	path, err := setup.Register(setup.Options{
		ConfigPath: clientConfigPath,
		BinaryPath: serverBinary,
		DataDir:    dataDir,
		LogLevel:   serverLogLevel,
	})
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Registered %q in %s\n", setup.ServerName, path)
	fmt.Fprintln(out, "Restart Claude Desktop to load the server.")
	return nil
}

func runSetupUnregister(cmd *cobra.Command, args []string) error {
	removed, err := setup.Unregister(clientConfigPath)
	if err != nil {
		return fmt.Errorf("unregister failed: %w", err)
	}
	if !removed {
		fmt.Fprintf(cmd.OutOrStdout(), "%q was not registered\n", setup.ServerName)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %q\n", setup.ServerName)
	return nil
}

func runSetupStatus(cmd *cobra.Command, args []string) error {
	status, err := setup.GetStatus(clientConfigPath)
	if err != nil {
		return fmt.Errorf("failed to read status: %w", err)
	}

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		return printJSON(out, status)
	}
	fmt.Fprintf(out, "Config:     %s\n", status.ConfigPath)
	fmt.Fprintf(out, "Registered: %t\n", status.Registered)
	if status.ServerPath != "" {
		fmt.Fprintf(out, "Server:     %s\n", status.ServerPath)
	}
	fmt.Fprintf(out, "Data dir:   %s\n", status.DataDir)
	for _, issue := range status.Issues {
		fmt.Fprintf(out, "  - %s\n", issue)
	}
	return nil
}
