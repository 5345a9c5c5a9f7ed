package cli

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/cartouche/internal/tui"
	"github.com/cartouche/pkg/gemini"
)

var certCmd = &cobra.Command{
	Use:   "cert <host[:port]>",
	Short: "Show the certificate a host presents",
	Long: `Connect to a host, print its certificate and what the trust store thinks
of it. Nothing is recorded.

Examples:
  cartouche cert geminiprotocol.net
  cartouche cert example.org:1966`,
	Args: cobra.ExactArgs(1),
	RunE: runCert,
}

func init() {
	rootCmd.AddCommand(certCmd)
}

func runCert(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	req, err := parseTarget(args[0])
	if err != nil {
		return err
	}

	report, err := inspect(cmd.Context(), req, a.store, nil, time.Now())
	if err != nil {
		return err
	}
	printCertReport(cmd.OutOrStdout(), report)
	return nil
}

// parseTarget accepts a bare host, host:port or a full URL.
func parseTarget(arg string) (*gemini.Request, error) {
	if !strings.Contains(arg, "://") {
		arg = "gemini://" + arg
	}
	return gemini.ParseRequest(arg)
}

// certReport is what cert prints.
type certReport struct {
	Host    string
	Port    int
	Cert    *x509.Certificate
	State   gemini.TrustState
	Issue   *gemini.VerificationIssue
	Matcher error
}

// capture records what the verifier saw and always aborts.
type capture struct {
	mu    sync.Mutex
	cert  *x509.Certificate
	issue gemini.VerificationIssue
	asked bool
}

func (c *capture) DecideTrust(cert *x509.Certificate, _ string, issue gemini.VerificationIssue) gemini.TrustDecision {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cert, c.issue, c.asked = cert, issue, true
	return gemini.DecisionAbort
}

// inspect handshakes with the target without recording trust.
func inspect(ctx context.Context, req *gemini.Request, cache gemini.TrustCache, dialer gemini.Dialer, now time.Time) (*certReport, error) {
	c := &capture{}
	verifier := gemini.NewCertificateVerifier(c, cache, gemini.WithClock(func() time.Time { return now }))

	report := &certReport{Host: req.Host, Port: req.Port}
	stream, err := gemini.Establish(ctx, req.Host, req.Port, verifier, gemini.WithDialer(dialer))
	switch {
	case err == nil:
		state := stream.ConnectionState()
		_ = stream.Close()
		if len(state.PeerCertificates) == 0 {
			return nil, gemini.ErrNoCertificatesPresented
		}
		report.Cert = state.PeerCertificates[0]
		report.State = gemini.TrustTrusted
	case errors.Is(err, gemini.ErrCertificateRejected) && c.asked:
		issue := c.issue
		report.Cert = c.cert
		report.Issue = &issue
		if issue.Kind == gemini.IssueFingerprintMismatch {
			report.State = gemini.TrustFingerprintMismatch
		}
	default:
		return nil, err
	}

	report.Matcher = gemini.CheckCertificateForDomain(report.Cert, req.Host, now)
	return report, nil
}

func printCertReport(w io.Writer, r *certReport) {
	cert := r.Cert

	fmt.Fprintln(w)
	fmt.Fprintln(w, tui.TitleStyle.Render(fmt.Sprintf(" %s:%d ", r.Host, r.Port)))
	fmt.Fprintln(w, tui.Divider(50))
	fmt.Fprintln(w, tui.Field("Subject", cert.Subject.String()))
	fmt.Fprintln(w, tui.Field("Issuer", cert.Issuer.String()))
	if len(cert.DNSNames) > 0 {
		fmt.Fprintln(w, tui.Field("DNS names", strings.Join(cert.DNSNames, ", ")))
	}
	if len(cert.IPAddresses) > 0 {
		ips := make([]string, len(cert.IPAddresses))
		for i, ip := range cert.IPAddresses {
			ips[i] = ip.String()
		}
		fmt.Fprintln(w, tui.Field("IP addresses", strings.Join(ips, ", ")))
	}
	fmt.Fprintln(w, tui.Field("Not before", cert.NotBefore.UTC().Format(time.RFC3339)))
	fmt.Fprintln(w, tui.Field("Not after", cert.NotAfter.UTC().Format(time.RFC3339)))
	fmt.Fprintln(w, tui.Field("Fingerprint", gemini.NewFingerprint(cert.Raw).String()))
	fmt.Fprintln(w)

	if r.Matcher != nil {
		fmt.Fprintln(w, tui.ErrorStyle.Render(fmt.Sprintf("  %s %v", tui.CrossMark, r.Matcher)))
	} else {
		fmt.Fprintln(w, tui.SuccessStyle.Render(fmt.Sprintf("  %s valid for %s", tui.CheckMark, r.Host)))
	}

	switch {
	case r.State == gemini.TrustTrusted:
		fmt.Fprintln(w, tui.SuccessStyle.Render(fmt.Sprintf("  %s trusted", tui.CheckMark)))
	case r.State == gemini.TrustFingerprintMismatch:
		fmt.Fprintln(w, tui.ErrorStyle.Render(fmt.Sprintf("  %s does not match the remembered certificate", tui.WarningSign)))
	case r.Issue != nil && r.Issue.Kind == gemini.IssueUnknownCertificate:
		fmt.Fprintln(w, tui.WarningStyle.Render(fmt.Sprintf("  %s not seen before", tui.InfoSign)))
	}
	fmt.Fprintln(w)
}
