package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ryoh/typerank/internal/realtime"
)

var (
	watchServer string
	watchToken  string
)

var leaderboardWatchCmd = &cobra.Command{
	Use:   "watch <contestID>",
	Short: "Follow a contest's leaderboard live",
	Long: `Follow a contest's leaderboard in a live terminal view.

Unlike the other commands, watch talks to a running typerankd over its
WebSocket endpoint, so it needs a server address and an access token.
The token can also come from $TYPERANK_TOKEN.

Examples:
  typerankctl leaderboard watch 4f7c... --server localhost:8480 --token $TOKEN
  typerankctl leaderboard watch 4f7c... --server wss://rank.example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runLeaderboardWatch,
}

func init() {
	leaderboardWatchCmd.Flags().StringVar(&watchServer, "server", "localhost:8480", "Server address (host:port or ws[s]:// URL)")
	leaderboardWatchCmd.Flags().StringVar(&watchToken, "token", "", "Access token (defaults to $TYPERANK_TOKEN)")
}

func runLeaderboardWatch(cmd *cobra.Command, args []string) error {
	token := watchToken
	if token == "" {
		token = os.Getenv("TYPERANK_TOKEN")
	}
	if token == "" {
		return errors.New("--token or TYPERANK_TOKEN is required")
	}

	wsURL, err := watchURL(watchServer, args[0], token)
	if err != nil {
		return err
	}

	p := tea.NewProgram(newWatchModel(args[0], wsURL), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("watch TUI error: %w", err)
	}

	if m, ok := final.(watchModel); ok && m.err != nil {
		return m.err
	}
	return nil
}

// watchURL builds the leaderboard stream URL from an operator-friendly
// server value: bare host:port, an http(s) base, or a ws(s) base.
func watchURL(server, contestID, token string) (string, error) {
	if server == "" {
		return "", errors.New("--server must not be empty")
	}
	if !strings.Contains(server, "://") {
		server = "ws://" + server
	}

	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid --server: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid --server scheme %q (use ws, wss, http, or https)", u.Scheme)
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/ws/contests/" + contestID + "/leaderboard"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

type watchState int

const (
	watchConnecting watchState = iota
	watchLive
	watchClosed
)

// Messages produced by the WebSocket commands.
type (
	wsConnectedMsg struct{ conn *websocket.Conn }
	wsSnapshotMsg  struct{ snap *realtime.Snapshot }
	wsClosedMsg    struct{ err error }
)

var (
	watchTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	watchStatusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	watchErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// watchModel is the Bubble Tea model for the live leaderboard view.
type watchModel struct {
	contestID string
	url       string

	state watchState
	spin  spinner.Model
	tbl   table.Model
	conn  *websocket.Conn
	snap  *realtime.Snapshot
	err   error

	width int
}

func newWatchModel(contestID, wsURL string) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))

	tbl := table.New(
		table.WithColumns([]table.Column{
			{Title: "#", Width: colRank},
			{Title: "PLAYER", Width: colPlayer},
			{Title: "SCORE", Width: colScore},
			{Title: "CPM", Width: colCPM},
			{Title: "ACC", Width: colAcc},
		}),
		table.WithHeight(12),
	)

	return watchModel{
		contestID: contestID,
		url:       wsURL,
		state:     watchConnecting,
		spin:      sp,
		tbl:       tbl,
	}
}

// Init implements tea.Model.
func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, watchConnect(m.url))
}

// Update implements tea.Model.
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			if m.conn != nil {
				m.conn.Close()
			}
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		if m.state != watchConnecting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case wsConnectedMsg:
		m.state = watchLive
		m.conn = msg.conn
		return m, watchListen(m.conn)

	case wsSnapshotMsg:
		m.snap = msg.snap
		m.tbl.SetRows(standingRows(msg.snap))
		return m, watchListen(m.conn)

	case wsClosedMsg:
		m.state = watchClosed
		m.err = closeReason(msg.err)
		return m, tea.Quit
	}

	return m, nil
}

// closeReason turns transport-level close errors into something an
// operator can act on. Deliberate server closes are not errors.
func closeReason(err error) error {
	if err == nil {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return fmt.Errorf("leaderboard stream closed: %w", err)
}

// View implements tea.Model.
func (m watchModel) View() string {
	var b strings.Builder

	b.WriteString(watchTitleStyle.Render("typerank live · " + m.contestID))
	b.WriteString("\n\n")

	switch m.state {
	case watchConnecting:
		b.WriteString(m.spin.View())
		b.WriteString(" connecting to " + stripToken(m.url) + "\n")

	case watchLive:
		b.WriteString(m.tbl.View())
		b.WriteString("\n")
		b.WriteString(watchStatusStyle.Render(m.statusLine()))
		b.WriteString("\n")

	case watchClosed:
		if m.err != nil {
			b.WriteString(watchErrorStyle.Render(m.err.Error()))
		} else {
			b.WriteString(watchStatusStyle.Render("stream ended (contest removed or server shutting down)"))
		}
		b.WriteString("\n")
	}

	return b.String()
}

func (m watchModel) statusLine() string {
	if m.snap == nil {
		return "waiting for first snapshot · q quits"
	}
	return fmt.Sprintf("updated %s · %d finished attempt(s) · q quits",
		m.snap.GeneratedAt.Local().Format("15:04:05"), m.snap.Total)
}

// standingRows converts a snapshot into table rows.
func standingRows(snap *realtime.Snapshot) []table.Row {
	rows := make([]table.Row, len(snap.Top))
	for i, s := range snap.Top {
		rows[i] = table.Row{
			fmt.Sprintf("%d", s.Rank),
			s.Username,
			fmt.Sprintf("%d", s.Score),
			fmt.Sprintf("%.1f", s.CPM),
			formatAccuracy(s.Accuracy),
		}
	}
	return rows
}

// watchConnect dials the stream and reports the outcome as a message.
func watchConnect(wsURL string) tea.Cmd {
	return func() tea.Msg {
		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, resp, err := dialer.Dial(wsURL, nil)
		if err != nil {
			return wsClosedMsg{err: dialError(resp, err)}
		}
		return wsConnectedMsg{conn: conn}
	}
}

// watchListen reads one snapshot frame. It re-arms itself through Update
// so there is exactly one reader on the connection.
func watchListen(conn *websocket.Conn) tea.Cmd {
	return func() tea.Msg {
		var snap realtime.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			return wsClosedMsg{err: err}
		}
		return wsSnapshotMsg{snap: &snap}
	}
}

// dialError extracts the server's error reason from a failed handshake
// response, falling back to the transport error.
func dialError(resp *http.Response, err error) error {
	if resp == nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Error struct {
			Code   string `json:"code"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	data, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if readErr == nil && json.Unmarshal(data, &body) == nil && body.Error.Reason != "" {
		return fmt.Errorf("server rejected the subscription: %s (HTTP %d)", body.Error.Reason, resp.StatusCode)
	}
	return fmt.Errorf("failed to connect (HTTP %d): %w", resp.StatusCode, err)
}

// stripToken removes the token query parameter for display.
func stripToken(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		return wsURL
	}
	u.RawQuery = ""
	return u.String()
}
