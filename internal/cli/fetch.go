package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cartouche/internal/config"
	"github.com/cartouche/internal/logger"
	"github.com/cartouche/internal/tui"
	"github.com/cartouche/pkg/gemini"
)

var (
	fetchFollow  int
	fetchTrust   string
	fetchHeaders bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Fetch a gemini:// URL and print the body",
	Long: `Fetch a URL and write the response body to stdout.

Redirects are followed up to --follow hops. On a terminal, input requests
are asked for and the URL is requested again with the answer as its query.
Any other status is printed to
stderr and the exit code is the first digit of the status: 1 for input,
4 or 5 for failures, 6 for client certificate requests.

Examples:
  cartouche fetch gemini://geminiprotocol.net/
  cartouche fetch --trust once gemini://example.org/
  cartouche fetch -i --follow 0 gemini://example.org/old`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().IntVar(&fetchFollow, "follow", -1, "Maximum redirects to follow (default from config)")
	fetchCmd.Flags().StringVar(&fetchTrust, "trust", "", "Trust policy override (prompt, abort, once, always, script)")
	fetchCmd.Flags().BoolVarP(&fetchHeaders, "include", "i", false, "Print the response header to stderr")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	kind := a.cfg.Trust.Policy
	if fetchTrust != "" {
		kind = config.PolicyKind(fetchTrust)
	}
	delegate, err := a.delegate(cmd.Context(), kind, interactive())
	if err != nil {
		return err
	}

	f := &fetcher{
		client:       a.client(delegate),
		out:          cmd.OutOrStdout(),
		errOut:       cmd.ErrOrStderr(),
		maxRedirects: a.cfg.Client.MaxRedirects,
		headers:      fetchHeaders,
		logger:       a.logger,
	}
	if fetchFollow >= 0 {
		f.maxRedirects = fetchFollow
	}
	if interactive() {
		f.ask = func(ctx context.Context, prompt string, sensitive bool) (string, error) {
			return tui.Ask(ctx, os.Stdin, os.Stderr, prompt, sensitive)
		}
	}
	return f.fetch(cmd.Context(), args[0])
}

// fetcher applies the command line's handling of each status category.
type fetcher struct {
	client       *gemini.Client
	out          io.Writer
	errOut       io.Writer
	maxRedirects int
	headers      bool

	// ask answers input requests. Nil makes them fail.
	ask    func(ctx context.Context, prompt string, sensitive bool) (string, error)
	logger *slog.Logger
}

func (f *fetcher) fetch(ctx context.Context, rawURL string) error {
	if !strings.Contains(rawURL, "://") {
		rawURL = "gemini://" + rawURL
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	redirects := 0
	for {
		if target.Scheme != "gemini" {
			return fmt.Errorf("unsupported scheme %q", target.Scheme)
		}

		next, redirect, err := f.fetchOnce(ctx, target)
		if err != nil || next == nil {
			return err
		}
		if redirect {
			if redirects >= f.maxRedirects {
				return &exitError{code: int(gemini.CategoryRedirect), err: fmt.Errorf("too many redirects, last to %s", next)}
			}
			redirects++
			f.logger.Info("following redirect", logger.URL(next.String()))
		}
		target = next
	}
}

// fetchOnce performs one request. It returns the URL to request next, if any,
// and whether that is a redirect.
func (f *fetcher) fetchOnce(ctx context.Context, target *url.URL) (*url.URL, bool, error) {
	resp, err := f.client.Perform(ctx, target.String())
	if err != nil {
		if errors.Is(err, gemini.ErrCertificateRejected) {
			return nil, false, fmt.Errorf("certificate for %s was not trusted", target.Hostname())
		}
		return nil, false, err
	}
	defer resp.Close()

	err = resp.ReadHeader()
	if f.headers && resp.Status() != 0 {
		fmt.Fprintf(f.errOut, "%02d %s\n", uint8(resp.Status()), resp.Meta())
	}

	var statusErr *gemini.StatusError
	if errors.As(err, &statusErr) {
		return f.handleStatus(ctx, target, statusErr)
	}
	if err != nil {
		return nil, false, err
	}

	if _, err := io.Copy(f.out, resp.Body()); err != nil {
		return nil, false, fmt.Errorf("failed to read body: %w", err)
	}
	return nil, false, nil
}

func (f *fetcher) handleStatus(ctx context.Context, target *url.URL, s *gemini.StatusError) (*url.URL, bool, error) {
	category := s.Status.Category()
	switch category {
	case gemini.CategoryRedirect:
		ref, err := url.Parse(s.Meta)
		if err != nil {
			return nil, false, fmt.Errorf("invalid redirect %q: %w", s.Meta, err)
		}
		return target.ResolveReference(ref), true, nil
	case gemini.CategoryInput:
		if f.ask == nil {
			return nil, false, &exitError{code: int(category), err: fmt.Errorf("input required: %s", s.Meta)}
		}
		answer, err := f.ask(ctx, s.Meta, s.Status == gemini.StatusSensitiveInput)
		if err != nil {
			return nil, false, &exitError{code: int(category), err: err}
		}
		next := *target
		next.RawQuery = escapeQuery(answer)
		next.Fragment = ""
		return &next, false, nil
	case gemini.CategoryClientCertRequired:
		return nil, false, &exitError{code: int(category), err: fmt.Errorf("client certificates are not supported (%s)", s)}
	default:
		return nil, false, &exitError{code: int(category), err: s}
	}
}

// escapeQuery percent-encodes an input answer, spaces included.
func escapeQuery(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
