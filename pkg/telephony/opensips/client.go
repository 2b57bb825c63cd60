// Package opensips drives the OpenSIPS management interface through opensipsctl.
package opensips

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"unicode"

	"github.com/alessio/shellescape"

	"github.com/harunnryd/voicegate/pkg/errorsx"
	"github.com/harunnryd/voicegate/pkg/metrics"
	"github.com/harunnryd/voicegate/pkg/telephony"
)

const (
	verbBridge       = "dlg_bridge"
	verbCreateDialog = "dlg_create_dialog"
	verbList         = "dlg_list"
	verbGet          = "dlg_list_dialog"
	verbEnd          = "dlg_end_dialog"
)

type Config struct {
	// Binary is the management tool, opensipsctl by default.
	Binary string
	// Prefix precedes every MI verb: ["fifo"] for opensipsctl (the default),
	// ["-x", "mi"] for opensips-cli.
	Prefix []string
	// SSHHost runs the tool on a remote proxy host when set.
	SSHHost   string
	SSHBinary string
	SSHArgs   []string
	Advisory  []string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Binary) == "" {
		c.Binary = "opensipsctl"
	}
	if len(c.Prefix) == 0 {
		c.Prefix = []string{"fifo"}
	}
	if strings.TrimSpace(c.SSHBinary) == "" {
		c.SSHBinary = "ssh"
	}
	if len(c.Advisory) == 0 {
		c.Advisory = telephony.DefaultAdvisoryMarkers
	}
	return c
}

// Runner executes one process and captures its output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (telephony.Result, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (telephony.Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return telephony.Result{Stdout: stdout.String(), Stderr: stderr.String()}, err
}

type Client struct {
	cfg        Config
	runner     Runner
	classifier telephony.Classifier
	obs        metrics.Observer
	logger     *slog.Logger
}

func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:        cfg,
		runner:     execRunner{},
		classifier: telephony.Classifier{Advisory: cfg.Advisory},
		obs:        metrics.NoopObserver{},
		logger:     slog.Default().With("component", "telephony.opensips"),
	}
}

// WithRunner replaces process execution, used by tests.
func (c *Client) WithRunner(r Runner) *Client {
	if r != nil {
		c.runner = r
	}
	return c
}

func (c *Client) SetObserver(obs metrics.Observer) {
	if obs != nil {
		c.obs = obs
	}
}

func (c *Client) Name() string { return "opensips" }

func (c *Client) Bridge(ctx context.Context, origin, destination, audioPath string) (string, error) {
	out, err := c.fifo(ctx, verbBridge, origin, destination, audioPath)
	if err != nil {
		return "", err
	}
	return out.Payload, nil
}

func (c *Client) CreateDialog(ctx context.Context, origin, destination, audioPath string) (string, error) {
	out, err := c.fifo(ctx, verbCreateDialog, origin, destination, audioPath)
	if err != nil {
		return "", err
	}
	return out.Payload, nil
}

func (c *Client) ListDialogs(ctx context.Context) ([]string, error) {
	out, err := c.fifo(ctx, verbList)
	if err != nil {
		return nil, err
	}
	return telephony.SplitLines(out.Payload), nil
}

func (c *Client) GetDialog(ctx context.Context, dialogID string) (string, error) {
	out, err := c.fifo(ctx, verbGet, dialogID)
	if err != nil {
		return "", err
	}
	return out.Payload, nil
}

func (c *Client) EndDialog(ctx context.Context, dialogID string) (string, error) {
	out, err := c.fifo(ctx, verbEnd, dialogID)
	if err != nil {
		return "", err
	}
	return out.Payload, nil
}

func (c *Client) fifo(ctx context.Context, verb string, args ...string) (telephony.Outcome, error) {
	for _, a := range args {
		if err := checkArg(a); err != nil {
			return telephony.Outcome{}, err
		}
	}
	argv := append(append(append([]string{}, c.cfg.Prefix...), verb), args...)
	name, argv := c.command(argv)
	res, err := c.runner.Run(ctx, name, argv...)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return telephony.Outcome{}, errorsx.Telephony(fmt.Errorf("%s: %w", verb, ctxErr))
	}
	if err != nil {
		diag := strings.TrimSpace(res.Stderr)
		if diag == "" {
			diag = err.Error()
		}
		return telephony.Outcome{}, errorsx.Telephony(errors.New(diag))
	}
	out, err := c.classifier.Classify(res)
	if err != nil {
		return telephony.Outcome{}, err
	}
	if out.Advisory != "" {
		c.logger.Warn("opensips_advisory", "verb", verb, "stderr", out.Advisory)
		c.obs.RecordEvent(metrics.MetricsEvent{
			Name:  metrics.EventAdvisoryDiagnosis,
			Value: 1,
			Tags:  map[string]string{"verb": verb},
		})
	}
	return out, nil
}

// command builds the argv, wrapping it for ssh when a remote host is configured.
func (c *Client) command(args []string) (string, []string) {
	if c.cfg.SSHHost == "" {
		return c.cfg.Binary, args
	}
	remote := shellescape.QuoteCommand(append([]string{c.cfg.Binary}, args...))
	argv := append([]string{}, c.cfg.SSHArgs...)
	argv = append(argv, c.cfg.SSHHost, "--", remote)
	return c.cfg.SSHBinary, argv
}

func checkArg(a string) error {
	if strings.TrimSpace(a) == "" {
		return errorsx.Validation("empty control argument")
	}
	if strings.HasPrefix(a, "-") {
		return errorsx.Validation("control argument %q must not start with '-'", a)
	}
	for _, r := range a {
		if unicode.IsControl(r) {
			return errorsx.Validation("control argument contains control characters")
		}
	}
	return nil
}

var _ telephony.ControlClient = (*Client)(nil)
