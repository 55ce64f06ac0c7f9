// Package pooltop is a terminal dashboard for operators: it polls the admin
// API and renders the live token pool, per-alias availability and open claim
// sessions.
package pooltop

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type Options struct {
	BaseURL      string
	ServiceToken string
	Interval     time.Duration
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	heldStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	freeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	expiredStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
)

type tokenRow struct {
	Value     string     `json:"value"`
	Alias     string     `json:"alias"`
	OwnerID   string     `json:"owner_id"`
	Shared    bool       `json:"shared"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type sourceRow struct {
	Alias    string `json:"alias"`
	Kind     string `json:"kind"`
	Location string `json:"location"`
}

type sessionRow struct {
	Alias string `json:"alias"`
	Open  bool   `json:"open"`
}

type snapshot struct {
	sources  []sourceRow
	tokens   []tokenRow
	sessions []sessionRow
	err      error
	at       time.Time
}

type tickMsg time.Time

type model struct {
	opts Options
	snap snapshot
}

func Run(opts Options) error {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	m := model{opts: opts, snap: fetch(opts)}
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

func (m model) Init() tea.Cmd {
	return tick(m.opts.Interval)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.snap = fetch(m.opts)
			return m, nil
		}
	case tickMsg:
		m.snap = fetch(m.opts)
		return m, tick(m.opts.Interval)
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("tokengate pool"))
	b.WriteString(faintStyle.Render(fmt.Sprintf("  %s  (q quit, r refresh)\n\n", m.snap.at.Format("15:04:05"))))

	if m.snap.err != nil {
		b.WriteString(expiredStyle.Render("error: " + m.snap.err.Error()))
		b.WriteString("\n")
		return b.String()
	}

	open := make(map[string]bool, len(m.snap.sessions))
	for _, s := range m.snap.sessions {
		open[s.Alias] = s.Open
	}

	now := time.Now()
	byAlias := make(map[string][]tokenRow)
	for _, tok := range m.snap.tokens {
		byAlias[tok.Alias] = append(byAlias[tok.Alias], tok)
	}

	for _, src := range m.snap.sources {
		state := "closed"
		if open[src.Alias] {
			state = "open"
		}
		b.WriteString(headerStyle.Render(fmt.Sprintf("%s (%s, session %s)", src.Alias, src.Kind, state)))
		b.WriteString("\n")

		rows := byAlias[src.Alias]
		sort.Slice(rows, func(i, j int) bool { return rows[i].Value < rows[j].Value })
		if len(rows) == 0 {
			b.WriteString(faintStyle.Render("  (empty)\n"))
		}
		for _, tok := range rows {
			b.WriteString("  " + renderToken(tok, now) + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderToken(tok tokenRow, now time.Time) string {
	label := mask(tok.Value)
	switch {
	case tok.ExpiresAt != nil && tok.ExpiresAt.Before(now):
		return expiredStyle.Render(fmt.Sprintf("%s expired (%s)", label, tok.OwnerID))
	case tok.OwnerID != "":
		left := ""
		if tok.ExpiresAt != nil {
			left = " " + tok.ExpiresAt.Sub(now).Round(time.Minute).String()
		}
		return heldStyle.Render(fmt.Sprintf("%s held by %s%s", label, tok.OwnerID, left))
	default:
		kind := "dedicated"
		if tok.Shared {
			kind = "shared"
		}
		return freeStyle.Render(fmt.Sprintf("%s available (%s)", label, kind))
	}
}

func mask(value string) string {
	if len(value) <= 8 {
		return value
	}
	return value[:4] + "…" + value[len(value)-4:]
}

func fetch(opts Options) snapshot {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap := snapshot{at: time.Now()}
	if err := getJSON(ctx, opts, "/api/v1/admin/sources", &snap.sources); err != nil {
		snap.err = err
		return snap
	}
	if err := getJSON(ctx, opts, "/api/v1/sessions", &snap.sessions); err != nil {
		snap.err = err
		return snap
	}
	for _, src := range snap.sources {
		var tokens []tokenRow
		if err := getJSON(ctx, opts, "/api/v1/admin/tokens?alias="+src.Alias, &tokens); err != nil {
			snap.err = err
			return snap
		}
		snap.tokens = append(snap.tokens, tokens...)
	}
	return snap
}

func getJSON(ctx context.Context, opts Options, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.BaseURL+path, nil)
	if err != nil {
		return err
	}
	if opts.ServiceToken != "" {
		req.Header.Set("Authorization", "Bearer "+opts.ServiceToken)
	}
	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", path, resp.Status)
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return err
	}
	return json.Unmarshal(envelope.Data, dst)
}
