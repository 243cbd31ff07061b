package system

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// FindLatest returns the most recently modified file in dir whose extension
// is one of exts (case-insensitive, with the dot).
func FindLatest(dir string, exts ...string) (string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var latestFile string
	var latestTime time.Time

	for _, f := range files {
		if f.IsDir() || !hasExt(f.Name(), exts) {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latestTime) {
			latestTime = info.ModTime()
			latestFile = filepath.Join(dir, f.Name())
		}
	}

	if latestFile == "" {
		return "", fmt.Errorf("no %s files in %s", strings.Join(exts, "/"), dir)
	}
	return latestFile, nil
}

func hasExt(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// Monitor samples the resource use of the current process between Start
// and Stop.
type Monitor struct {
	proc  *process.Process
	start time.Time
	cpu0  float64
}

// StartMonitor begins measuring the current process.
func StartMonitor() (*Monitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	m := &Monitor{proc: proc, start: time.Now()}
	if m.cpu0, err = m.cpuSeconds(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Monitor) cpuSeconds() (float64, error) {
	times, err := m.proc.Times()
	if err != nil {
		return 0, err
	}
	return times.User + times.System, nil
}

// Report is a performance summary of one recording.
type Report struct {
	Build  string
	Input  string
	Frames int
	Bytes  int
	Wall   time.Duration
	// CPU is process CPU time over Wall, 100 per fully used core.
	CPU   float64
	Cores int
	RSS   uint64
}

// FPS is the effective capture rate.
func (r Report) FPS() float64 {
	if r.Wall <= 0 {
		return 0
	}
	return float64(r.Frames) / r.Wall.Seconds()
}

// Stop ends the measurement. Metrics the platform cannot provide are left
// at zero.
func (m *Monitor) Stop(frames, bytes int) Report {
	r := Report{
		Frames: frames,
		Bytes:  bytes,
		Wall:   time.Since(m.start),
	}
	if cpu1, err := m.cpuSeconds(); err == nil && r.Wall > 0 {
		r.CPU = (cpu1 - m.cpu0) / r.Wall.Seconds() * 100
	}
	if n, err := cpu.Counts(true); err == nil {
		r.Cores = n
	}
	if mem, err := m.proc.MemoryInfo(); err == nil {
		r.RSS = mem.RSS
	}
	return r
}

func (r Report) String() string {
	return fmt.Sprintf(
		"--- [PERFORMANCE REPORT] ---\n"+
			"Build: %s\n"+
			"Total Time: %.2fs\n"+
			"Frames: %d\n"+
			"Effective FPS: %.2f\n"+
			"CPU: %.1f%% of %d cores\n"+
			"RSS: %.1f MiB\n"+
			"Output: %.2f MiB\n"+
			"----------------------------\n",
		r.Build, r.Wall.Seconds(), r.Frames, r.FPS(), r.CPU, r.Cores,
		float64(r.RSS)/(1<<20), float64(r.Bytes)/(1<<20),
	)
}

// AppendLog adds a one-line entry for r to the log file at path.
func (r Report) AppendLog(path string, now time.Time) error {
	entry := fmt.Sprintf("[%s] Build: %s | Input: %s | Frames: %d | Total: %.2fs | FPS: %.2f | CPU: %.1f%% | RSS: %.1fMiB\n",
		now.Format("2006-01-02 15:04:05"),
		r.Build,
		filepath.Base(r.Input),
		r.Frames,
		r.Wall.Seconds(),
		r.FPS(),
		r.CPU,
		float64(r.RSS)/(1<<20),
	)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(entry); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
