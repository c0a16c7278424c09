package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gorilla/websocket"

	"poolguard/internal/auth"
)

func main() {
	var (
		addrF    = flag.String("url", "http://localhost:8080", "URL to poolguard service host")
		tokenF   = flag.String("token", os.Getenv("POOLGUARD_TOKEN"), "Bearer token for authenticated servers")
		verboseF = flag.Bool("verbose", false, "Print request and response details")
		vF       = flag.Bool("v", false, "Print request and response details")
		timeoutF = flag.Int("timeout", 30, "Maximum number of seconds to wait for response")
	)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(1)
	}

	// Local commands
	if flag.Arg(0) == "hash-password" {
		if flag.NArg() != 2 {
			fmt.Fprintln(os.Stderr, "usage: hash-password PASSWORD")
			os.Exit(1)
		}
		hash, err := auth.HashPassword(flag.Arg(1))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	c, err := newClient(*addrF, *tokenF, *timeoutF, *verboseF || *vF)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "analysis":
		err = printJSON(ctx, c, "/analysis", nil)
	case "status":
		err = printJSON(ctx, c, "/status", nil)
	case "health":
		err = printJSON(ctx, c, "/readyz", nil)
	case "alerts":
		err = alerts(ctx, c, args)
	case "snapshot":
		err = snapshot(ctx, c, args)
	case "login":
		err = login(ctx, c, args)
	case "watch":
		err = watch(ctx, c)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func printJSON(ctx context.Context, c *client, path string, query url.Values) error {
	var data any
	if err := c.getJSON(ctx, path, query, &data); err != nil {
		return err
	}
	m, _ := json.MarshalIndent(data, "", "    ")
	fmt.Println(string(m))
	return nil
}

func alerts(ctx context.Context, c *client, args []string) error {
	fs := flag.NewFlagSet("alerts", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Maximum number of alerts")
	level := fs.String("level", "", "Minimum warning level (low, medium, high)")
	since := fs.String("since", "", "Only alerts after this RFC3339 time")
	fs.Parse(args)

	q := url.Values{"limit": {strconv.Itoa(*limit)}}
	if *level != "" {
		q.Set("level", *level)
	}
	if *since != "" {
		q.Set("since", *since)
	}
	return printJSON(ctx, c, "/alerts", q)
}

func snapshot(ctx context.Context, c *client, args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	out := fs.String("o", "snapshot.jpg", "Output file, - for stdout")
	fs.Parse(args)

	req, err := c.newRequest(ctx, http.MethodGet, "/snapshot", nil, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if *out == "-" {
		_, err = io.Copy(os.Stdout, resp.Body)
		return err
	}
	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %d bytes to %s\n", n, *out)
	return nil
}

func login(ctx context.Context, c *client, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	user := fs.String("user", "admin", "Username")
	pass := fs.String("password", os.Getenv("POOLGUARD_PASSWORD"), "Password")
	fs.Parse(args)

	body, err := json.Marshal(map[string]string{"username": *user, "password": *pass})
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/login", nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	fmt.Println(result.Token)
	return nil
}

// watch prints risk transitions as they arrive on the event channel
func watch(ctx context.Context, c *client) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL("/ws/events"), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to event channel: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	for {
		var msg struct {
			ID        string `json:"id"`
			Previous  string `json:"previous"`
			Current   string `json:"current"`
			FrameSeq  uint64 `json:"frame_seq"`
			Timestamp string `json:"timestamp"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		fmt.Printf("%s  %-6s -> %-6s  frame=%d  id=%s\n", msg.Timestamp, msg.Previous, msg.Current, msg.FrameSeq, msg.ID)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `%s is a command line client for the poolguard API.

Usage:
    %s [-url URL][-token TOKEN][-timeout SECONDS][-verbose|-v] COMMAND [flags]

Commands:
    analysis                         latest hazard analysis
    status                           pipeline and client status
    health                           readiness probe
    alerts [-limit N][-level L]      stored risk transitions
    snapshot [-o FILE]               latest published frame as JPEG
    login [-user U][-password P]     obtain a bearer token
    watch                            follow risk transitions live
    hash-password PASSWORD           bcrypt hash for AUTH_PASSWORD

Example:
    %s -url http://pool.local:8080 alerts -level high
`, os.Args[0], os.Args[0], os.Args[0])
}
