package twilio

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/harunnryd/voicegate/pkg/errorsx"
)

type stubAPI struct {
	created   *api.CreateCallParams
	updated   string
	sid       string
	createErr error
	updateErr error
	calls     []api.ApiV2010Call
	fetched   *api.ApiV2010Call
}

func (s *stubAPI) CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error) {
	s.created = params
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &api.ApiV2010Call{Sid: &s.sid}, nil
}

func (s *stubAPI) FetchCall(sid string, params *api.FetchCallParams) (*api.ApiV2010Call, error) {
	return s.fetched, nil
}

func (s *stubAPI) UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error) {
	s.updated = sid
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	return &api.ApiV2010Call{Sid: &sid}, nil
}

func (s *stubAPI) ListCall(params *api.ListCallParams) ([]api.ApiV2010Call, error) {
	return s.calls, nil
}

func newClient(stub *stubAPI) *Client {
	c := New(Config{AccountSID: "AC1", AuthToken: "token", MediaBaseURL: "https://gw.example.com/media/"})
	c.client = stub
	return c
}

func TestBridgePlaysPublicAudioURL(t *testing.T) {
	stub := &stubAPI{sid: "CA123"}
	c := newClient(stub)

	sid, err := c.Bridge(context.Background(), "+15550001111", "+15551234567", "/var/lib/voicegate/audio/tts_1_ab.mp3")
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	if sid != "CA123" {
		t.Fatalf("expected sid CA123, got %s", sid)
	}
	if stub.created == nil || stub.created.To == nil || *stub.created.To != "+15551234567" {
		t.Fatalf("expected To param")
	}
	if stub.created.Twiml == nil || !strings.Contains(*stub.created.Twiml, "<Play>https://gw.example.com/media/tts_1_ab.mp3</Play>") {
		t.Fatalf("unexpected twiml")
	}
}

func TestCreateDialogAddsSIPScheme(t *testing.T) {
	stub := &stubAPI{sid: "CA9"}
	c := newClient(stub)
	if _, err := c.CreateDialog(context.Background(), "+15550001111", "bob@example.com", "a.mp3"); err != nil {
		t.Fatalf("create dialog: %v", err)
	}
	if stub.created.To == nil || *stub.created.To != "sip:bob@example.com" {
		t.Fatalf("expected sip destination")
	}
}

func TestCreateFailureIsTelephonyError(t *testing.T) {
	c := newClient(&stubAPI{createErr: errors.New("Status: 400 - invalid To")})
	_, err := c.Bridge(context.Background(), "+15550001111", "+15551234567", "a.mp3")
	if !errorsx.HasKind(err, errorsx.KindTelephony) || !strings.Contains(err.Error(), "invalid To") {
		t.Fatalf("expected telephony error, got %v", err)
	}
}

func TestEndDialogCompletesCall(t *testing.T) {
	stub := &stubAPI{}
	c := newClient(stub)
	if _, err := c.EndDialog(context.Background(), "CA5"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if stub.updated != "CA5" {
		t.Fatalf("expected update of CA5, got %q", stub.updated)
	}
}

func TestListDialogsFormatsCalls(t *testing.T) {
	sid, from, to := "CA1", "+1", "+2"
	c := newClient(&stubAPI{calls: []api.ApiV2010Call{{Sid: &sid, From: &from, To: &to}, {}}})
	list, err := c.ListDialogs(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0] != "CA1 +1 -> +2" {
		t.Fatalf("unexpected list %q", list)
	}
}

func TestMissingMediaBaseURL(t *testing.T) {
	c := New(Config{AccountSID: "AC1", AuthToken: "token"})
	c.client = &stubAPI{}
	_, err := c.Bridge(context.Background(), "+1", "+15551234567", "a.mp3")
	if !errorsx.HasKind(err, errorsx.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRESTClientBuiltOnceUnderConcurrency(t *testing.T) {
	c := New(Config{AccountSID: "AC1", AuthToken: "token", MediaBaseURL: "https://gw.example.com/media"})
	got := make([]callAPI, 8)
	var wg sync.WaitGroup
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			client, err := c.api()
			if err != nil {
				t.Errorf("api: %v", err)
			}
			got[i] = client
		}(i)
	}
	wg.Wait()
	for i := range got {
		if got[i] == nil || got[i] != got[0] {
			t.Fatalf("expected one shared client, got %v at %d", got[i], i)
		}
	}
}

func TestMissingCredentialsIsTelephonyError(t *testing.T) {
	c := New(Config{MediaBaseURL: "https://gw.example.com/media"})
	_, err := c.ListDialogs(context.Background())
	if !errorsx.HasKind(err, errorsx.KindTelephony) {
		t.Fatalf("expected telephony error, got %v", err)
	}
}
