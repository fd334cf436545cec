package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// testctl drives a running loom admin endpoint end to end: spawn a
// thread, dispatch entries, drain with join, dispose. It is a smoke
// harness for deployed looms, not a substitute for the package tests.

type options struct {
	mode  string
	addr  string
	token string
	entry string
	param string
	wait  int64
	count int
}

type threadStatus struct {
	ID      uint64 `json:"thread_id"`
	Mode    string `json:"mode"`
	Pending int    `json:"pending"`
	Dead    bool   `json:"dead"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Loom    string `json:"loom"`
	Uptime  string `json:"uptime"`
	Threads int    `json:"threads"`
	Pending int    `json:"pending"`
	Dead    int    `json:"dead"`
}

type spawnResponse struct {
	Status string       `json:"status"`
	Thread threadStatus `json:"thread"`
}

type dispatchResponse struct {
	Status string          `json:"status"`
	TaskID uint64          `json:"task_id"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type joinResponse struct {
	Status  string `json:"status"`
	Pending int    `json:"pending"`
	Error   string `json:"error"`
}

type checkResult struct {
	name    string
	err     error
	elapsed time.Duration
}

func main() {
	opts := parseFlags()
	client := &adminClient{
		base:  "http://" + strings.TrimPrefix(opts.addr, "http://"),
		token: opts.token,
		http:  &http.Client{Timeout: 60 * time.Second},
	}

	var results []checkResult
	var err error
	switch opts.mode {
	case "smoke":
		results, err = runSmoke(client, opts)
	case "load":
		results, err = runLoad(client, opts)
	default:
		fatalf("unknown mode %q (supported: smoke, load)", opts.mode)
	}
	if err != nil {
		fatalf("%v", err)
	}
	os.Exit(printSummary(results))
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.mode, "mode", "smoke", "mode: smoke | load")
	flag.StringVar(&opts.addr, "addr", "127.0.0.1:9200", "loom admin address")
	flag.StringVar(&opts.token, "token", "", "admin bearer token")
	flag.StringVar(&opts.entry, "entry", "std.echo", "entry id for dispatch checks")
	flag.StringVar(&opts.param, "param", `{"ping":true}`, "entry param (json)")
	flag.Int64Var(&opts.wait, "wait", 2000, "per-dispatch wait budget in ms")
	flag.IntVar(&opts.count, "count", 25, "dispatch rounds (load mode)")
	flag.Parse()
	return opts
}

func runSmoke(client *adminClient, opts options) ([]checkResult, error) {
	runner := &checkRunner{}

	var health healthResponse
	runner.check("health", func() error {
		code, err := client.do(http.MethodGet, "/health", nil, &health)
		if err != nil {
			return err
		}
		if code != http.StatusOK || health.Status != "ok" {
			return fmt.Errorf("health code=%d status=%q", code, health.Status)
		}
		fmt.Printf("  | loom=%s uptime=%s threads=%d\n", health.Loom, health.Uptime, health.Threads)
		return nil
	})

	var spawned spawnResponse
	runner.check("spawn thread", func() error {
		code, err := client.do(http.MethodPost, "/threads", nil, &spawned)
		if err != nil {
			return err
		}
		if code != http.StatusOK {
			return fmt.Errorf("spawn code=%d", code)
		}
		fmt.Printf("  | thread_id=%d mode=%s\n", spawned.Thread.ID, spawned.Thread.Mode)
		return nil
	})
	if spawned.Thread.ID == 0 {
		return runner.results, nil
	}
	threadPath := fmt.Sprintf("/threads/%d", spawned.Thread.ID)

	runner.check("dispatch "+opts.entry, func() error {
		var out dispatchResponse
		req := map[string]any{
			"entry":   opts.entry,
			"param":   json.RawMessage(opts.param),
			"wait_ms": opts.wait,
		}
		code, err := client.do(http.MethodPost, threadPath+"/dispatch", req, &out)
		if err != nil {
			return err
		}
		if code != http.StatusOK || out.Status != "done" {
			return fmt.Errorf("dispatch code=%d status=%q error=%q", code, out.Status, out.Error)
		}
		fmt.Printf("  | task_id=%d result=%s\n", out.TaskID, compactJSON(out.Result))
		return nil
	})

	runner.check("fire-and-forget std.sleep", func() error {
		var out dispatchResponse
		req := map[string]any{
			"entry": "std.sleep",
			"param": json.RawMessage(`{"ms":50}`),
		}
		code, err := client.do(http.MethodPost, threadPath+"/dispatch", req, &out)
		if err != nil {
			return err
		}
		if code != http.StatusAccepted || out.Status != "accepted" {
			return fmt.Errorf("dispatch code=%d status=%q error=%q", code, out.Status, out.Error)
		}
		fmt.Printf("  | task_id=%d\n", out.TaskID)
		return nil
	})

	runner.check("join drains pending", func() error {
		var out joinResponse
		path := fmt.Sprintf("%s/join?max_wait_ms=%d", threadPath, opts.wait)
		code, err := client.do(http.MethodGet, path, nil, &out)
		if err != nil {
			return err
		}
		if code != http.StatusOK || out.Pending != 0 {
			return fmt.Errorf("join code=%d pending=%d error=%q", code, out.Pending, out.Error)
		}
		return nil
	})

	runner.check("dispose thread", func() error {
		var out spawnResponse
		code, err := client.do(http.MethodPost, threadPath+"/dispose", nil, &out)
		if err != nil {
			return err
		}
		if code != http.StatusOK || !out.Thread.Dead {
			return fmt.Errorf("dispose code=%d dead=%v", code, out.Thread.Dead)
		}
		return nil
	})

	runner.check("dispatch after dispose conflicts", func() error {
		var out dispatchResponse
		req := map[string]any{
			"entry":   opts.entry,
			"param":   json.RawMessage(opts.param),
			"wait_ms": opts.wait,
		}
		code, err := client.do(http.MethodPost, threadPath+"/dispatch", req, &out)
		if err != nil {
			return err
		}
		if code != http.StatusConflict {
			return fmt.Errorf("expected conflict, got code=%d status=%q", code, out.Status)
		}
		return nil
	})

	return runner.results, nil
}

func runLoad(client *adminClient, opts options) ([]checkResult, error) {
	runner := &checkRunner{}

	var spawned spawnResponse
	runner.check("spawn thread", func() error {
		code, err := client.do(http.MethodPost, "/threads", nil, &spawned)
		if err != nil {
			return err
		}
		if code != http.StatusOK {
			return fmt.Errorf("spawn code=%d", code)
		}
		return nil
	})
	if spawned.Thread.ID == 0 {
		return runner.results, nil
	}
	threadPath := fmt.Sprintf("/threads/%d", spawned.Thread.ID)

	name := fmt.Sprintf("dispatch %s x%d", opts.entry, opts.count)
	runner.check(name, func() error {
		var minL, maxL, total time.Duration
		req := map[string]any{
			"entry":   opts.entry,
			"param":   json.RawMessage(opts.param),
			"wait_ms": opts.wait,
		}
		for i := 0; i < opts.count; i++ {
			var out dispatchResponse
			start := time.Now()
			code, err := client.do(http.MethodPost, threadPath+"/dispatch", req, &out)
			elapsed := time.Since(start)
			if err != nil {
				return fmt.Errorf("round %d: %w", i+1, err)
			}
			if code != http.StatusOK || out.Status != "done" {
				return fmt.Errorf("round %d: code=%d status=%q error=%q", i+1, code, out.Status, out.Error)
			}
			if minL == 0 || elapsed < minL {
				minL = elapsed
			}
			if elapsed > maxL {
				maxL = elapsed
			}
			total += elapsed
		}
		avg := total / time.Duration(opts.count)
		fmt.Printf("  | rounds=%d min=%s avg=%s max=%s\n",
			opts.count,
			minL.Round(time.Microsecond),
			avg.Round(time.Microsecond),
			maxL.Round(time.Microsecond),
		)
		return nil
	})

	runner.check("dispose thread", func() error {
		var out spawnResponse
		code, err := client.do(http.MethodPost, threadPath+"/dispose", nil, &out)
		if err != nil {
			return err
		}
		if code != http.StatusOK {
			return fmt.Errorf("dispose code=%d", code)
		}
		return nil
	})

	return runner.results, nil
}

type checkRunner struct {
	results []checkResult
}

func (r *checkRunner) check(name string, fn func() error) {
	fmt.Printf("[RUN ] %s\n", name)
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	if err != nil {
		fmt.Printf("[FAIL] %s (%s): %v\n", name, elapsed.Round(time.Millisecond), err)
	} else {
		fmt.Printf("[ OK ] %s (%s)\n", name, elapsed.Round(time.Millisecond))
	}
	r.results = append(r.results, checkResult{name: name, err: err, elapsed: elapsed})
}

func printSummary(results []checkResult) int {
	passed := 0
	failed := make([]string, 0)
	var total time.Duration
	for _, res := range results {
		total += res.elapsed
		if res.err == nil {
			passed++
			continue
		}
		failed = append(failed, res.name)
	}

	fmt.Println()
	fmt.Println("Summary")
	fmt.Printf("  Checks:   total=%d pass=%d fail=%d\n", len(results), passed, len(failed))
	fmt.Printf("  Duration: %s\n", total.Round(time.Millisecond))
	if len(failed) > 0 {
		fmt.Println("  Failed Checks:")
		for _, name := range failed {
			fmt.Printf("    - %s\n", name)
		}
		return 1
	}
	return 0
}

type adminClient struct {
	base  string
	token string
	http  *http.Client
}

// do issues one admin request and decodes the response body into out
// when provided. Non-2xx codes are returned for the caller to judge;
// only transport failures are errors.
func (c *adminClient) do(method string, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(c.token) != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "testctl: "+format+"\n", args...)
	os.Exit(1)
}
