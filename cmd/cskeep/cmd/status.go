package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/campuslink/cskeep/internal/agent"
	"github.com/campuslink/cskeep/internal/credstore"
	"github.com/campuslink/cskeep/internal/session"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session state",
	Long: `Show the session state as the running daemon sees it. When no daemon
is reachable, the credential file is inspected directly.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	var st session.Status
	source := "daemon"

	c := agent.NewClient(cfg.AgentAddr)
	if c.Ping(ctx) {
		st, err = c.Status(ctx)
		if err != nil {
			return err
		}
	} else {
		// No daemon: derive a view from the credential file alone.
		source = "file"
		st, err = statusFromStore(cfg.StorePath)
		if err != nil {
			return err
		}
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Source string `json:"source"`
			session.Status
		}{Source: source, Status: st})
	}

	printStatus(st, source)
	return nil
}

func statusFromStore(path string) (session.Status, error) {
	var st session.Status
	st.Online = true

	rec, err := credstore.New(path).Load()
	if err != nil {
		return st, err
	}
	if rec == nil {
		st.State = session.StateNoSession
		return st, nil
	}

	ttl := rec.TimeUntilExpiry(time.Now())
	st.TimeUntilExpiry = ttl
	if ttl <= 0 {
		st.State = session.StateExpired
		return st, nil
	}
	st.State = session.StateValid
	st.IsValid = true
	return st, nil
}

var (
	statusLabelStyle = lipgloss.NewStyle().Bold(true)
	statusDimStyle   = lipgloss.NewStyle().Faint(true)

	stateStyles = map[session.State]lipgloss.Style{
		session.StateValid:      lipgloss.NewStyle().Foreground(lipgloss.Color("#50fa7b")).Bold(true),
		session.StateRefreshing: lipgloss.NewStyle().Foreground(lipgloss.Color("#8be9fd")).Bold(true),
		session.StateRetrying:   lipgloss.NewStyle().Foreground(lipgloss.Color("#f1fa8c")).Bold(true),
		session.StateExpired:    lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5555")).Bold(true),
		session.StateNoSession:  lipgloss.NewStyle().Foreground(lipgloss.Color("#6272a4")),
	}
)

func printStatus(st session.Status, source string) {
	styled := term.IsTerminal(int(os.Stdout.Fd()))

	render := func(s lipgloss.Style, text string) string {
		if !styled {
			return text
		}
		return s.Render(text)
	}

	stateStyle, ok := stateStyles[st.State]
	if !ok {
		stateStyle = statusDimStyle
	}

	fmt.Printf("%s %s\n", render(statusLabelStyle, "session:"), render(stateStyle, st.State.String()))
	fmt.Printf("%s %s\n", render(statusLabelStyle, "online: "), yesNo(st.Online))

	if st.TimeUntilExpiry > 0 {
		fmt.Printf("%s %s\n", render(statusLabelStyle, "expires:"), st.TimeUntilExpiry.Round(time.Second))
	}
	if st.RetryCount > 0 {
		fmt.Printf("%s %d\n", render(statusLabelStyle, "retries:"), st.RetryCount)
	}
	if !st.LastRefreshTime.IsZero() {
		fmt.Printf("%s %s\n", render(statusLabelStyle, "refreshed:"), st.LastRefreshTime.Format(time.RFC3339))
	}
	fmt.Println(render(statusDimStyle, "source: "+source))
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
