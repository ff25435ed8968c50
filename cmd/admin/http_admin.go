package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// The commands below talk to a running server's loopback admin endpoints.

func baseURLFlag(fs *flag.FlagSet) *string {
	return fs.String("url", "http://127.0.0.1:8080", "server base url")
}

func adminRequest(method, base, path string, q url.Values) {
	u := strings.TrimRight(strings.TrimSpace(base), "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		die(2, "request:", err)
	}
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		die(1, "request:", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Print(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

func onlineCmd(args []string) {
	fs := flag.NewFlagSet("online", flag.ExitOnError)
	baseURL := baseURLFlag(fs)
	_ = fs.Parse(args)
	adminRequest(http.MethodGet, *baseURL, "/admin/v1/users", nil)
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := baseURLFlag(fs)
	history := fs.Int("history", -1, "history records to include (-1 for all)")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		die(2, "usage: admin state [-url u] <uuid>")
	}
	q := url.Values{}
	if *history >= 0 {
		q.Set("history", fmt.Sprint(*history))
	}
	adminRequest(http.MethodGet, *baseURL, "/admin/v1/users/"+url.PathEscape(fs.Arg(0)), q)
}

func forceCmd(args []string) {
	fs := flag.NewFlagSet("force", flag.ExitOnError)
	baseURL := baseURLFlag(fs)
	mode := fs.String("mode", "", "SURVIVAL or CREATIVE (required)")
	admin := fs.String("admin", "Console", "name recorded as the forcing admin")
	reason := fs.String("reason", "", "optional reason")
	_ = fs.Parse(args)
	if fs.NArg() != 1 || strings.TrimSpace(*mode) == "" {
		die(2, "usage: admin force -mode MODE [-admin name] [-reason text] <uuid>")
	}
	q := url.Values{"mode": {*mode}, "admin": {*admin}}
	if *reason != "" {
		q.Set("reason", *reason)
	}
	adminRequest(http.MethodPost, *baseURL, "/admin/v1/users/"+url.PathEscape(fs.Arg(0))+"/mode", q)
}
