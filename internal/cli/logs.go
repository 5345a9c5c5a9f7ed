package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cartouche/internal/config"
	"github.com/cartouche/internal/tui"
)

var (
	logsFollow bool
	logsTail   int
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View cartouche logs",
	Long: `View the log file named by log.file in the configuration.

Examples:
  cartouche logs          Show recent logs
  cartouche logs -f       Follow logs in real-time
  cartouche logs -n 50    Show last 50 lines`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 20, "Number of lines to show")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	logPath := cfg.Log.File
	if logPath == "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, tui.WarningStyle.Render("  No log file configured"))
		fmt.Fprintln(out, tui.DimStyle.Render("  Set log.file or CARTOUCHE_LOG_FILE"))
		fmt.Fprintln(out)
		return nil
	}

	file, err := os.Open(logPath)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(out)
		fmt.Fprintln(out, tui.WarningStyle.Render("  No logs found"))
		fmt.Fprintln(out, tui.DimStyle.Render("  "+logPath+" does not exist yet"))
		fmt.Fprintln(out)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	fmt.Fprintln(out)
	fmt.Fprintln(out, tui.TitleStyle.Render(" cartouche logs "))
	fmt.Fprintln(out, tui.DimStyle.Render(fmt.Sprintf(" %s", logPath)))
	fmt.Fprintln(out, tui.Divider(50))
	fmt.Fprintln(out)

	if err := tailLogs(out, file, logsTail); err != nil {
		return err
	}
	if logsFollow {
		fmt.Fprintln(out, tui.DimStyle.Render("Waiting for new logs... (Ctrl+C to exit)"))
		return followLogs(cmd.Context(), out, file)
	}
	return nil
}

// tailLogs prints the last n lines of r.
func tailLogs(w io.Writer, r io.Reader, n int) error {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read log file: %w", err)
	}

	for _, line := range lines {
		fmt.Fprintln(w, styleLogLine(line))
	}
	return nil
}

// followLogs prints lines appended to file until ctx is done.
func followLogs(ctx context.Context, w io.Writer, file *os.File) error {
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	reader := bufio.NewReader(file)

	var partial string
	for {
		line, err := reader.ReadString('\n')
		partial += line
		switch {
		case err == nil:
			fmt.Fprintln(w, styleLogLine(strings.TrimRight(partial, "\n")))
			partial = ""
		case errors.Is(err, io.EOF):
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
		default:
			return err
		}
	}
}

// styleLogLine colors a slog text or JSON line by its level.
func styleLogLine(line string) string {
	switch {
	case strings.Contains(line, "level=ERROR"), strings.Contains(line, `"level":"ERROR"`):
		return tui.ErrorStyle.Render(line)
	case strings.Contains(line, "level=WARN"), strings.Contains(line, `"level":"WARN"`):
		return tui.WarningStyle.Render(line)
	case strings.Contains(line, "trust decision"):
		return tui.InfoStyle.Render(line)
	case strings.Contains(line, "capsule is up"):
		return tui.SuccessStyle.Render(line)
	default:
		return tui.DimStyle.Render(line)
	}
}
