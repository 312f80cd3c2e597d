package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"ghoulrush.io/internal/sim/world"
)

type stateResponse struct {
	WorldID string             `json:"world_id"`
	Frame   uint64             `json:"frame"`
	Metrics world.WorldMetrics `json:"metrics"`
}

// stateCmd asks a running server (loopback only) for its world metrics.
func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	raw := fs.Bool("raw", false, "print the JSON body unchanged")
	_ = fs.Parse(args)

	st, body, err := fetchState(&http.Client{Timeout: 5 * time.Second}, *baseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "state:", err)
		os.Exit(1)
	}
	if *raw {
		fmt.Println(strings.TrimSpace(string(body)))
		return
	}
	fmt.Println(formatState(st))
}

func fetchState(cl *http.Client, baseURL string) (stateResponse, []byte, error) {
	var st stateResponse
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/admin/v1/state"
	resp, err := cl.Get(u)
	if err != nil {
		return st, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return st, nil, err
	}
	if resp.StatusCode/100 != 2 {
		return st, body, fmt.Errorf("%s: status %d: %s", u, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, &st); err != nil {
		return st, body, fmt.Errorf("decode: %w", err)
	}
	return st, body, nil
}

func formatState(st stateResponse) string {
	m := st.Metrics
	phase := "lobby"
	if m.Running {
		phase = "running"
	}
	return fmt.Sprintf("world=%s frame=%d phase=%s conns=%d players=%d monsters=%d missiles=%d net_ids=%d next_net_id=%d pending_spawns=%d step_ms=%.3f levels=%d kills=%d",
		st.WorldID, st.Frame, phase, m.Connections, m.Players, m.Monsters, m.Missiles, m.NetIDs, m.NextNetID,
		m.PendingSpawns, m.StepMS, m.Counters.Levels, m.Counters.Kills)
}
