package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/urfave/cli/v2"
	"github.com/webitel/roster-push-service/internal/domain/model"
)

func monitorCmd() *cli.Command {
	return &cli.Command{
		Name:  "monitor",
		Usage: "Watch live connection statistics of a running server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "http://localhost:8080", Usage: "Server base URL"},
			&cli.StringFlag{Name: "token", Usage: "Operator bearer token", EnvVars: []string{"ROSTER_PUSH_TOKEN"}, Required: true},
			&cli.DurationFlag{Name: "interval", Value: 2 * time.Second, Usage: "Polling interval"},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := &http.Client{Timeout: 5 * time.Second}
			poll := func() (model.HubStats, error) {
				return fetchStats(ctx, client, c.String("addr"), c.String("token"))
			}
			return runMonitor(ctx, poll, c.Duration("interval"))
		},
	}
}

// fetchStats reads GET /v1/admin/stats.
func fetchStats(ctx context.Context, client *http.Client, addr, token string) (model.HubStats, error) {
	var stats model.HubStats

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(addr, "/")+"/v1/admin/stats", nil)
	if err != nil {
		return stats, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return stats, fmt.Errorf("fetch stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stats, fmt.Errorf("fetch stats: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return stats, fmt.Errorf("decode stats: %w", err)
	}
	return stats, nil
}

type dashboard struct {
	summary  *widgets.Table
	faculty  *widgets.BarChart
	perms    *widgets.Table
	status   *widgets.Paragraph
	lastGood time.Time
}

func newDashboard() *dashboard {
	d := &dashboard{
		summary: widgets.NewTable(),
		faculty: widgets.NewBarChart(),
		perms:   widgets.NewTable(),
		status:  widgets.NewParagraph(),
	}
	d.summary.Title = " roster-push "
	d.summary.RowSeparator = false
	d.faculty.Title = " connections by faculty "
	d.faculty.BarWidth = 6
	d.faculty.NumFormatter = func(v float64) string { return strconv.Itoa(int(v)) }
	d.perms.Title = " connections by permission "
	d.status.Title = " status "
	d.resize()
	return d
}

func (d *dashboard) resize() {
	w, h := ui.TerminalDimensions()
	half := w / 2
	d.summary.SetRect(0, 0, half, 12)
	d.perms.SetRect(half, 0, w, 12)
	d.faculty.SetRect(0, 12, w, h-3)
	d.status.SetRect(0, h-3, w, h)
}

func (d *dashboard) update(stats model.HubStats, err error) {
	if err != nil {
		d.status.Text = fmt.Sprintf("[%s](fg:red) last update %s", err, d.lastGood.Format(time.TimeOnly))
		return
	}
	d.lastGood = time.Now()
	d.status.Text = fmt.Sprintf("updated %s, q to quit", d.lastGood.Format(time.TimeOnly))

	d.summary.Rows = [][]string{
		{"connections", strconv.Itoa(stats.TotalConnections)},
		{"identities", strconv.Itoa(stats.TotalIdentities)},
		{"queued events", strconv.Itoa(stats.QueuedEvents)},
		{"dropped events", strconv.FormatUint(stats.DroppedEvents, 10)},
		{"avg age", (time.Duration(stats.AverageAgeSeconds) * time.Second).String()},
		{"oldest", (time.Duration(stats.OldestAgeSeconds) * time.Second).String()},
		{"max per identity", strconv.Itoa(stats.MaxPerIdentity)},
		{"uptime", stats.Uptime.Truncate(time.Second).String()},
	}

	d.perms.Rows = [][]string{{"permission", "connections"}}
	for _, k := range sortedKeys(stats.ByPermission) {
		d.perms.Rows = append(d.perms.Rows, []string{k, strconv.Itoa(stats.ByPermission[k])})
	}

	d.faculty.Labels = sortedKeys(stats.ByFaculty)
	d.faculty.Data = make([]float64, len(d.faculty.Labels))
	for i, k := range d.faculty.Labels {
		d.faculty.Data[i] = float64(stats.ByFaculty[k])
	}
}

func (d *dashboard) render() {
	ui.Render(d.summary, d.perms, d.faculty, d.status)
}

func runMonitor(ctx context.Context, poll func() (model.HubStats, error), interval time.Duration) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("init terminal: %w", err)
	}
	defer ui.Close()

	d := newDashboard()
	d.update(poll())
	d.render()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	events := ui.PollEvents()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "<Resize>":
				ui.Clear()
				d.resize()
				d.render()
			}
		case <-ticker.C:
			d.update(poll())
			d.render()
		}
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
