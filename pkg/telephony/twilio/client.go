// Package twilio implements the control client on top of the Twilio REST API.
package twilio

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/harunnryd/voicegate/pkg/classify"
	"github.com/harunnryd/voicegate/pkg/errorsx"
	"github.com/harunnryd/voicegate/pkg/telephony"
)

type Config struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	// MediaBaseURL is the public URL under which stored audio is served, e.g. https://gw.example.com/media.
	MediaBaseURL      string `mapstructure:"media_base_url"`
	StatusCallbackURL string `mapstructure:"status_callback_url"`
}

// callAPI is the subset of the Twilio REST client the control client uses.
type callAPI interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
	FetchCall(sid string, params *api.FetchCallParams) (*api.ApiV2010Call, error)
	UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error)
	ListCall(params *api.ListCallParams) ([]api.ApiV2010Call, error)
}

// Client drives calls through the Twilio REST API. The REST client is built
// once, on first use, and shared by concurrent requests.
type Client struct {
	cfg     Config
	once    sync.Once
	client  callAPI
	initErr error
}

func New(cfg Config) *Client {
	cfg.MediaBaseURL = strings.TrimRight(cfg.MediaBaseURL, "/")
	return &Client{cfg: cfg}
}

func (c *Client) Name() string { return "twilio" }

func (c *Client) api() (callAPI, error) {
	c.once.Do(func() {
		if c.client != nil {
			return
		}
		if c.cfg.AccountSID == "" || c.cfg.AuthToken == "" {
			c.initErr = errorsx.Telephony(errors.New("missing twilio credentials"))
			return
		}
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: c.cfg.AccountSID,
			Password: c.cfg.AuthToken,
		})
		c.client = rest.Api
	})
	return c.client, c.initErr
}

func (c *Client) Bridge(ctx context.Context, origin, destination, audioPath string) (string, error) {
	return c.create(ctx, origin, destination, audioPath)
}

func (c *Client) CreateDialog(ctx context.Context, origin, destination, audioPath string) (string, error) {
	return c.create(ctx, origin, classify.SIPURI(destination), audioPath)
}

func (c *Client) create(ctx context.Context, from, to, audioPath string) (string, error) {
	if to == "" || from == "" {
		return "", errorsx.Validation("to/from required")
	}
	client, err := c.api()
	if err != nil {
		return "", err
	}
	twiml, err := c.playTwiML(audioPath)
	if err != nil {
		return "", err
	}
	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetTwiml(twiml)
	if c.cfg.StatusCallbackURL != "" {
		params.SetStatusCallback(c.cfg.StatusCallbackURL)
	}
	resp, err := do(ctx, func() (*api.ApiV2010Call, error) { return client.CreateCall(params) })
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Sid == nil {
		return "", errorsx.Telephony(errors.New("missing call sid"))
	}
	return *resp.Sid, nil
}

func (c *Client) ListDialogs(ctx context.Context) ([]string, error) {
	client, err := c.api()
	if err != nil {
		return nil, err
	}
	params := &api.ListCallParams{}
	params.SetStatus("in-progress")
	params.SetLimit(100)
	list, err := do(ctx, func() ([]api.ApiV2010Call, error) { return client.ListCall(params) })
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(list))
	for _, call := range list {
		if call.Sid == nil {
			continue
		}
		out = append(out, fmt.Sprintf("%s %s -> %s", *call.Sid, str(call.From), str(call.To)))
	}
	return out, nil
}

// GetDialog reports the call as "status: <twilio status>" plus its duration.
func (c *Client) GetDialog(ctx context.Context, dialogID string) (string, error) {
	client, err := c.api()
	if err != nil {
		return "", err
	}
	call, err := do(ctx, func() (*api.ApiV2010Call, error) { return client.FetchCall(dialogID, &api.FetchCallParams{}) })
	if err != nil {
		return "", err
	}
	if call == nil {
		return "", errorsx.Telephony(fmt.Errorf("call %s not found", dialogID))
	}
	text := "status: " + str(call.Status)
	if d := str(call.Duration); d != "" {
		text += "\nduration: " + d
	}
	return text, nil
}

func (c *Client) EndDialog(ctx context.Context, dialogID string) (string, error) {
	client, err := c.api()
	if err != nil {
		return "", err
	}
	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	call, err := do(ctx, func() (*api.ApiV2010Call, error) { return client.UpdateCall(dialogID, params) })
	if err != nil {
		return "", err
	}
	if call == nil {
		return "", nil
	}
	return "status: " + str(call.Status), nil
}

// playTwiML builds a <Play> document for the public URL of audioPath.
func (c *Client) playTwiML(audioPath string) (string, error) {
	if c.cfg.MediaBaseURL == "" {
		return "", errorsx.Validation("twilio media_base_url is required to play audio")
	}
	name := path.Base(strings.ReplaceAll(audioPath, "\\", "/"))
	mediaURL := c.cfg.MediaBaseURL + "/" + url.PathEscape(name)

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<Response><Play>")
	if err := xml.EscapeText(&buf, []byte(mediaURL)); err != nil {
		return "", err
	}
	buf.WriteString("</Play></Response>")
	return buf.String(), nil
}

// do runs a blocking REST call and gives up when ctx ends.
func do[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return r.v, errorsx.Telephony(r.err)
		}
		return r.v, nil
	case <-ctx.Done():
		var zero T
		return zero, errorsx.Telephony(ctx.Err())
	}
}

func str[T any](p *T) string {
	if p == nil {
		return ""
	}
	return fmt.Sprint(*p)
}

var _ telephony.ControlClient = (*Client)(nil)
