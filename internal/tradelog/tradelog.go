// Package tradelog appends signals and position transitions to daily JSONL
// files so every decision the bot makes stays auditable after the fact.
package tradelog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var mu sync.Mutex

// SignalEntry records one fused signal.
type SignalEntry struct {
	Time       string   `json:"time"`
	Ticker     string   `json:"ticker"`
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources"`
}

// TransitionEntry records one position lifecycle transition.
type TransitionEntry struct {
	Time   string         `json:"time"`
	Ticker string         `json:"ticker"`
	From   string         `json:"from"`
	To     string         `json:"to"`
	Price  string         `json:"price,omitempty"`
	PnlPct string         `json:"pnl_pct,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

func logDir() string {
	if v := os.Getenv("BOT_LOG_DIR"); v != "" {
		return v
	}
	return "logs"
}

func dailyFilepath(sub string, t time.Time) string {
	d := t.UTC().Format("2006-01-02")
	return filepath.Join(logDir(), sub, d+".jsonl")
}

func appendLine(path string, v any) error {
	mu.Lock()
	defer mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, _ := json.Marshal(v)
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// AppendSignal writes a signal entry to today's signal log.
func AppendSignal(e SignalEntry) error {
	now := time.Now().UTC()
	e.Time = now.Format("2006-01-02 15:04:05")
	return appendLine(dailyFilepath("signals", now), e)
}

// AppendTransition writes a transition entry to today's transition log.
func AppendTransition(e TransitionEntry) error {
	now := time.Now().UTC()
	e.Time = now.Format("2006-01-02 15:04:05")
	return appendLine(dailyFilepath("transitions", now), e)
}
