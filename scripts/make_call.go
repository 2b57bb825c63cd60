package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/harunnryd/voicegate/pkg/gateway"
)

type initiateBody struct {
	FromNumber string `json:"fromNumber"`
	ToNumber   string `json:"toNumber"`
	AudioFile  string `json:"audioFile,omitempty"`
	Text       string `json:"text,omitempty"`
}

func main() {
	configPath := flag.String("config", "examples/gateway/config.yaml", "")
	envFile := flag.String("env", ".env", "")
	baseURL := flag.String("url", "", "gateway base url (default derived from server.addr)")
	key := flag.String("key", "", "api key (default auth.api_key)")
	from := flag.String("from", "", "")
	to := flag.String("to", "", "")
	text := flag.String("text", "", "")
	audio := flag.String("audio", "", "")
	flag.Parse()
	if *from == "" || *to == "" {
		fmt.Println("usage: make_call -from=alice -to=+15551234567 [-text=...|-audio=...] [-config=...]")
		os.Exit(1)
	}
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Println("env error:", err)
		os.Exit(1)
	}

	url, apiKey := *baseURL, *key
	if url == "" || apiKey == "" {
		cfg, err := gateway.LoadConfig(*configPath)
		if err != nil {
			fmt.Println("config error:", err)
			os.Exit(1)
		}
		if url == "" {
			url = "http://" + localAddr(cfg.Server.Addr)
		}
		if apiKey == "" {
			apiKey = cfg.Auth.APIKey
		}
	}

	body, _ := json.Marshal(initiateBody{FromNumber: *from, ToNumber: *to, AudioFile: *audio, Text: *text})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(url, "/")+"/api/calls/initiate", bytes.NewReader(body))
	if err != nil {
		fmt.Println("request error:", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Println("call error:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		fmt.Printf("call error: %s: %s\n", resp.Status, strings.TrimSpace(string(out)))
		os.Exit(1)
	}
	var res struct {
		CallID   string `json:"callId"`
		DialogID string `json:"dialogId"`
	}
	_ = json.Unmarshal(out, &res)
	fmt.Println("call_id:", res.CallID)
	fmt.Println("dialog_id:", res.DialogID)
}

func localAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
