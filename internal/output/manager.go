package output

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cocofetch/cocofetch/internal/utils"
)

// ResourceOutput is one tracked acquisition on the live display.
type ResourceOutput struct {
	Name        string
	Status      string
	Message     string
	Downloaded  int64
	Total       int64
	Complete    bool
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
	Index       int
}

type ErrorReport struct {
	ResourceName string
	Error        error
	Time         time.Time
}

// Manager renders the state of all in-flight acquisitions on a ticker,
// redrawing in place. Updates arrive concurrently from transfer goroutines.
type Manager struct {
	outputs       map[int]*ResourceOutput
	mutex         sync.RWMutex
	numLines      int
	errors        []ErrorReport
	doneCh        chan struct{}
	displayTick   time.Duration
	resourceCount int
	displayWg     sync.WaitGroup
}

func NewManager() *Manager {
	return &Manager{
		outputs:     make(map[int]*ResourceOutput),
		errors:      []ErrorReport{},
		doneCh:      make(chan struct{}),
		displayTick: 300 * time.Millisecond,
	}
}

func (m *Manager) Register(name string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.resourceCount++
	m.outputs[m.resourceCount] = &ResourceOutput{
		Name:        name,
		Status:      "pending",
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
		Index:       m.resourceCount,
	}
	return m.resourceCount
}

func (m *Manager) SetStatus(id int, status string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		info.Status = status
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) SetMessage(id int, message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		info.Message = message
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) SetProgress(id int, downloaded, total int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		info.Downloaded = downloaded
		info.Total = total
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) Complete(id int, message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		if message == "" {
			message = fmt.Sprintf("Completed %s", info.Name)
		}
		info.Message = message
		info.Complete = true
		info.Status = "success"
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) ReportError(id int, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		info.Complete = true
		info.Status = "error"
		info.Error = err
		info.Message = err.Error()
		info.LastUpdated = time.Now()
		m.errors = append(m.errors, ErrorReport{
			ResourceName: info.Name,
			Error:        err,
			Time:         time.Now(),
		})
	}
}

func (m *Manager) GetStatusIndicator(status string) string {
	switch status {
	case "success", "pass":
		return successStyle.Render(StyleSymbols["pass"])
	case "error", "fail":
		return errorStyle.Render(StyleSymbols["fail"])
	case "warning":
		return warningStyle.Render(StyleSymbols["warning"])
	case "pending":
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func (m *Manager) StartDisplay() {
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				m.ShowSummary()
				return
			}
		}
	}()
}

func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
}

func (m *Manager) sortResources() []*ResourceOutput {
	var all []*ResourceOutput
	for _, info := range m.outputs {
		all = append(all, info)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Index < all[j].Index
	})
	return all
}

func (m *Manager) updateDisplay() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	availableLines := getTerminalHeight() - 3 // Leave some buffer for prompt
	if m.numLines > 0 {
		fmt.Printf("\033[%dA\033[J", m.numLines)
	}
	lineCount := 0
	for _, info := range m.sortResources() {
		if lineCount >= availableLines {
			break
		}
		indicator := m.GetStatusIndicator(info.Status)
		elapsed := info.LastUpdated.Sub(info.StartTime).Round(time.Second)
		line := fmt.Sprintf("%s%s %s", strings.Repeat(" ", 2), indicator, detailStyle.Render(info.Name))
		if !info.Complete && info.Total > 0 {
			speed := utils.FormatSpeed(info.Downloaded, time.Since(info.StartTime).Seconds())
			line += " " + PrintProgressBar(info.Downloaded, info.Total, 30)
			line += debugStyle.Render(fmt.Sprintf("%s / %s %s %s", utils.FormatBytes(uint64(info.Downloaded)), utils.FormatBytes(uint64(info.Total)), StyleSymbols["bullet"], speed))
		} else if info.Message != "" {
			styled := pendingStyle.Render(info.Message)
			if info.Status == "success" {
				styled = successStyle.Render(info.Message)
			} else if info.Status == "error" {
				styled = errorStyle.Render(info.Message)
			}
			line += fmt.Sprintf(" %s %s", debugStyle.Render(elapsed.String()), styled)
		}
		fmt.Println(line)
		lineCount++
	}
	m.numLines = lineCount
}

func (m *Manager) displayErrors() {
	if len(m.errors) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(strings.Repeat(" ", 2) + errorStyle.Bold(true).Render("Errors:"))
	for i, err := range m.errors {
		fmt.Printf("%s%s %s %s\n",
			strings.Repeat(" ", 2+2),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", err.Time.Format("15:04:05"))),
			errorStyle.Render(fmt.Sprintf("Resource: %s", err.ResourceName)))
		fmt.Printf("%s%s\n", strings.Repeat(" ", 2+4), errorStyle.Render(fmt.Sprintf("Error: %v", err.Error)))
	}
}

func (m *Manager) ShowSummary() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	fmt.Println()
	var success, failures int
	for _, info := range m.outputs {
		if info.Status == "success" {
			success++
		} else if info.Status == "error" {
			failures++
		}
	}
	fmt.Println(strings.Repeat(" ", 2) + success2Style.Render(fmt.Sprintf("Completed %d of %d", success, len(m.outputs))))
	if failures > 0 {
		fmt.Println(strings.Repeat(" ", 2) + errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, len(m.outputs))))
	}
	m.displayErrors()
	fmt.Println()
}
