package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/gridstage/globus-go/internal/globus"
	"github.com/gridstage/globus-go/internal/tokenfile"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate with Globus using the native app flow",
		Long: `Authenticate with Globus Auth.

Prints an authorization URL to visit in a browser; after approving access,
paste the displayed authorization code back into the terminal. Tokens are
cached on disk and refreshed automatically on later runs.`,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved credential bundle",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display cached credentials and their expiry",
		RunE:  runWhoami,
	}
}

// stdinIsTerminal reports whether an interactive login prompt can work.
func stdinIsTerminal() bool {
	fd := os.Stdin.Fd()

	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func runLogin(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := context.Background()

	if !stdinIsTerminal() {
		return fmt.Errorf("login requires an interactive terminal to read the auth code")
	}

	path, err := bundlePath()
	if err != nil {
		return err
	}

	logger.Info("login started", "path", path)

	_, err = globus.Login(ctx, globus.LoginOptions{
		ClientID:   clientID(),
		BundlePath: path,
	}, logger)
	if err != nil {
		return err
	}

	statusf("Login successful.\n")

	return nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	path, err := bundlePath()
	if err != nil {
		return err
	}

	if err := tokenfile.Remove(path); err != nil {
		return err
	}

	logger.Info("logout successful", "path", path)
	statusf("Logged out.\n")

	return nil
}

// whoamiEntry is the JSON schema for `whoami --json`.
type whoamiEntry struct {
	ResourceServer string `json:"resource_server"`
	Scope          string `json:"scope,omitempty"`
	ExpiresAt      string `json:"expires_at"`
	Expired        bool   `json:"expired"`
}

func runWhoami(_ *cobra.Command, _ []string) error {
	path, err := bundlePath()
	if err != nil {
		return err
	}

	bundle, err := tokenfile.Load(path)
	if err != nil {
		return err
	}

	if bundle == nil {
		return globus.ErrNotLoggedIn
	}

	entries := make([]whoamiEntry, 0, len(bundle))
	for rs, rec := range bundle {
		expiry := time.Unix(rec.ExpiresAtSeconds, 0)
		entries = append(entries, whoamiEntry{
			ResourceServer: rs,
			Scope:          rec.Scope,
			ExpiresAt:      expiry.UTC().Format(time.RFC3339),
			Expired:        expiry.Before(time.Now()),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ResourceServer < entries[j].ResourceServer
	})

	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(entries)
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		state := "valid"
		if e.Expired {
			state = "expired"
		}

		rows = append(rows, []string{e.ResourceServer, state, e.ExpiresAt})
	}

	printTable(os.Stdout, []string{"RESOURCE SERVER", "STATE", "EXPIRES"}, rows)

	return nil
}
