package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/cartouche/internal/trust"
	"github.com/cartouche/internal/tui"
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Manage remembered certificates",
}

var trustListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remembered hosts",
	Args:  cobra.NoArgs,
	RunE:  runTrustList,
}

var trustForgetCmd = &cobra.Command{
	Use:   "forget <host>...",
	Short: "Forget the certificates remembered for hosts",
	Long: `Forget every certificate remembered for the given hosts. The next
connection to them is treated as a first visit.

Example:
  cartouche trust forget example.org`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTrustForget,
}

func init() {
	trustCmd.AddCommand(trustListCmd)
	trustCmd.AddCommand(trustForgetCmd)
	rootCmd.AddCommand(trustCmd)
}

func runTrustList(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	entries, err := a.store.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list trust store: %w", err)
	}
	printEntries(cmd.OutOrStdout(), entries, storePath(a.store), time.Now())
	return nil
}

func runTrustForget(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()
	for _, host := range args {
		if err := a.store.Forget(cmd.Context(), host); err != nil {
			return fmt.Errorf("failed to forget %s: %w", host, err)
		}
		fmt.Fprintln(out, tui.SuccessStyle.Render(fmt.Sprintf("%s forgot %s", tui.CheckMark, host)))
	}
	return nil
}

func printEntries(w io.Writer, entries []trust.Entry, path string, now time.Time) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, tui.TitleStyle.Render(" trusted hosts "))
	if path != "" {
		fmt.Fprintln(w, tui.DimStyle.Render(" "+path))
	}
	fmt.Fprintln(w, tui.Divider(50))

	if len(entries) == 0 {
		fmt.Fprintln(w, tui.DimStyle.Render("  No hosts remembered yet"))
		fmt.Fprintln(w)
		return
	}

	hostCol := lipgloss.NewStyle().Width(longestHost(entries) + 2)
	for _, e := range entries {
		kind := tui.ValueStyle.Render("always")
		if !e.Persistent {
			kind = tui.DimStyle.Render("once  ")
		}

		expiry := tui.DimStyle.Render("expires " + e.NotAfter.UTC().Format(time.DateOnly))
		if !e.NotAfter.IsZero() && now.After(e.NotAfter) {
			expiry = tui.WarningStyle.Render(tui.WarningSign + " expired " + e.NotAfter.UTC().Format(time.DateOnly))
		}

		fmt.Fprintf(w, "%s %s  %s\n", hostCol.Render(tui.HighlightStyle.Render(e.Host)), kind, expiry)
		fmt.Fprintf(w, "%s %s\n", hostCol.Render(""), tui.DimStyle.Render(e.Fingerprint.String()))
	}
	fmt.Fprintln(w)
}

func longestHost(entries []trust.Entry) int {
	n := 0
	for _, e := range entries {
		n = max(n, len(e.Host))
	}
	return n
}

// storePath names where a store keeps its data, for messages.
func storePath(s trust.Store) string {
	if f, ok := s.(*trust.File); ok {
		return f.Path()
	}
	return ""
}
