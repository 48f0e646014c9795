package infra

import (
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// BrowserProcess is one detected browser the workspace could be open in.
type BrowserProcess struct {
	PID  int
	Name string
}

// browserNames are the process names the preflight looks for.
var browserNames = []string{"chrome", "chromium", "msedge", "firefox", "brave"}

// DetectBrowsers returns running browser processes. Used by the status
// command and the run preflight; an empty result is informational, not
// an error, since the browser may be started later.
func DetectBrowsers() ([]BrowserProcess, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	var found []BrowserProcess
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue // Process may have exited
		}

		lower := strings.ToLower(name)
		for _, want := range browserNames {
			if strings.Contains(lower, want) {
				found = append(found, BrowserProcess{PID: int(p.Pid), Name: name})
				break
			}
		}
	}
	return found, nil
}
