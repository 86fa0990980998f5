package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/protocol"
)

var paths = map[string]string{
	"health":   "/healthz",
	"room":     "/api/v1/room",
	"profiles": "/api/v1/profiles",
	"events":   "/api/v1/events",
}

func getCmd(name string, args []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	agentID := fs.String("agent", "", "profiles: single agent id")
	limit := fs.Int("limit", 0, "events: max events")
	kind := fs.String("type", "", "events: type filter")
	_ = fs.Parse(args)

	q := url.Values{}
	if *agentID != "" {
		q.Set("agentId", *agentID)
	}
	if *limit > 0 {
		q.Set("limit", fmt.Sprint(*limit))
	}
	if *kind != "" {
		q.Set("type", *kind)
	}
	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + paths[name]
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	printResponse(resp)
}

func submitCmd(args []string) {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	command := fs.String("command", "", "join|leave|move|action|chat|emote")
	agentID := fs.String("agent", "", "agent id")
	rawArgs := fs.String("args", "{}", "command args as JSON")
	_ = fs.Parse(args)

	if *command == "" || *agentID == "" {
		fmt.Fprintln(os.Stderr, "missing -command or -agent")
		os.Exit(2)
	}
	var a map[string]any
	if err := json.Unmarshal([]byte(*rawArgs), &a); err != nil {
		fmt.Fprintln(os.Stderr, "args:", err)
		os.Exit(2)
	}
	body, _ := json.Marshal(protocol.SubmitRequest{Command: *command, AgentID: *agentID, Args: a})

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/api/v1/command"
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Post(u, "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	printResponse(resp)
}

func printResponse(resp *http.Response) {
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
