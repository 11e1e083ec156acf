package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/xraph/cuttrack/client"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/ledger"
)

// RemoteFlags address a running server.
type RemoteFlags struct {
	Server string `help:"Server base URL" default:"http://localhost:8080" env:"CUTTRACK_SERVER"`
	Token  string `help:"API key for the server" env:"CUTTRACK_TOKEN"`
}

func (r RemoteFlags) httpClient() *client.HTTPClient {
	return client.NewHTTPClient(r.Server, client.WithHTTPToken(r.Token))
}

// streamURL maps the base URL onto the DWP WebSocket endpoint.
func (r RemoteFlags) streamURL() (string, error) {
	u, err := url.Parse(r.Server)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/dwp"
	return u.String(), nil
}

// printJob writes a one-screen summary of j.
func printJob(w io.Writer, j *job.Job, now time.Time) {
	done, total := j.Progress()
	fmt.Fprintf(w, "%s  %s  [%s]  v%d\n", j.ID, j.Name, j.Status, j.Version)
	fmt.Fprintf(w, "  time %s  sheets %d/%d\n", j.Timer.Live(now).Truncate(time.Second), done, total)
	for _, cl := range j.Cutlists {
		fmt.Fprintf(w, "  %s\n", cl.Name)
		for _, m := range cl.Materials {
			fmt.Fprintf(w, "    %-24s %s  %d/%d  %s\n", m.Name, m.ID, m.CompletedSheets(), m.TotalSheets, sheetRow(m.Sheets))
			if r := m.Recut; r != nil {
				fmt.Fprintf(w, "      recut %s  %d/%d  %s\n", r.ID, r.CompletedSheets(), r.Quantity, sheetRow(r.Sheets))
			}
		}
	}
}

func sheetRow(sheets ledger.Sheets) string {
	var b strings.Builder
	for _, s := range sheets {
		switch s {
		case ledger.StatusCut:
			b.WriteByte('#')
		case ledger.StatusSkip:
			b.WriteByte('-')
		default:
			b.WriteByte('.')
		}
	}
	return b.String()
}
