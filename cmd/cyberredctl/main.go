// Command cyberredctl is the thin operator CLI: it dials the daemon's
// Unix socket, sends one request, prints the response, and exits — the
// same one-shot-request-per-invocation shape as the teacher's own
// CLI-to-daemon tools (no client-side state, every decision lives behind
// the socket).
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"cyberredd/internal/ipc"

	"github.com/google/uuid"
)

func main() {
	socketPath := flag.String("socket", "/run/cyberredd/control.sock", "daemon control socket path")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}
	command := args[0]
	params, err := parseParams(args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "cyberredctl:", err)
		os.Exit(2)
	}

	resp, err := send(*socketPath, *timeout, command, params)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cyberredctl:", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(resp)
	if resp.Status != "ok" {
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: cyberredctl [-socket path] [-timeout d] <command> [key=value ...]

commands mirror the daemon's IPC table, e.g.:
  cyberredctl sessions.list
  cyberredctl engagement.start config_path=/etc/cyberredd/engagements/op1.yaml ignore_warnings=false
  cyberredctl engagement.stop engagement_id=op1-20260730-120000-ab12cd
  cyberredctl daemon.stop
  cyberredctl daemon.config.reload
`)
}

// parseParams turns "key=value" CLI args into the command's JSON params
// object, converting "true"/"false" into booleans so flags like
// ignore_warnings round-trip without extra quoting.
func parseParams(kvs []string) (json.RawMessage, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid param %q, want key=value", kv)
		}
		key, raw := parts[0], parts[1]
		switch raw {
		case "true":
			out[key] = true
		case "false":
			out[key] = false
		default:
			out[key] = raw
		}
	}
	return json.Marshal(out)
}

func send(socketPath string, timeout time.Duration, command string, params json.RawMessage) (ipc.Response, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return ipc.Response{}, fmt.Errorf("connecting to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	req := ipc.Request{Command: command, Params: params, RequestID: uuid.NewString()}
	body, err := json.Marshal(req)
	if err != nil {
		return ipc.Response{}, fmt.Errorf("encoding request: %w", err)
	}
	if err := ipc.WriteMessage(conn, body); err != nil {
		return ipc.Response{}, fmt.Errorf("writing request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var resp ipc.Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			return ipc.Response{}, fmt.Errorf("decoding response: %w", err)
		}
		if resp.RequestID != req.RequestID {
			// A stale stream event or a prior request's late response;
			// keep reading for the one that matches.
			continue
		}
		return resp, nil
	}
	if err := scanner.Err(); err != nil {
		return ipc.Response{}, fmt.Errorf("reading response: %w", err)
	}
	return ipc.Response{}, fmt.Errorf("connection closed before a response arrived")
}
