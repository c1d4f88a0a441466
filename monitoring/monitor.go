// Package monitoring turns a running simulation into a small HTTP server
// that exposes the memory configuration, the attribute map, the symbol
// table and process statistics.
package monitoring

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"

	"github.com/luckidea/SweRV-ISS/loader"
	"github.com/luckidea/SweRV-ISS/mem"
)

// A Monitor serves the state of a simulation over HTTP.
type Monitor struct {
	memory     *mem.Memory
	symbols    *loader.SymbolTable
	portNumber int

	listener net.Listener
	server   *http.Server
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor. Port 0 picks a
// random free port.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	m.portNumber = portNumber
	return m
}

// RegisterMemory registers the memory to expose.
func (m *Monitor) RegisterMemory(memory *mem.Memory) {
	m.memory = memory
}

// RegisterSymbols registers the symbol table to expose.
func (m *Monitor) RegisterSymbols(symbols *loader.SymbolTable) {
	m.symbols = symbols
}

type overviewDTO struct {
	MemSize    uint64 `json:"mem_size"`
	PageSize   uint64 `json:"page_size"`
	RegionSize uint64 `json:"region_size"`
	HartCount  int    `json:"hart_count"`
}

type mapEntryDTO struct {
	Begin string `json:"begin"`
	End   string `json:"end"`
	Read  bool   `json:"read"`
	Write bool   `json:"write"`
	Exec  bool   `json:"exec"`
	Mmr   bool   `json:"mmr"`
	Iccm  bool   `json:"iccm"`
	Dccm  bool   `json:"dccm"`
}

type symbolDTO struct {
	Name string `json:"name"`
	Addr string `json:"addr"`
	Size uint64 `json:"size"`
}

type processDTO struct {
	PID        int32   `json:"pid"`
	RSS        uint64  `json:"rss"`
	VMS        uint64  `json:"vms"`
	CPUPercent float64 `json:"cpu_percent"`
}

// Router returns the HTTP routes of the monitor.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/overview", m.handleOverview)
	r.HandleFunc("/api/map", m.handleMap)
	r.HandleFunc("/api/symbols", m.handleSymbols)
	r.HandleFunc("/api/process", m.handleProcess)
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m *Monitor) handleOverview(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, overviewDTO{
		MemSize:    m.memory.Size(),
		PageSize:   m.memory.PageSize(),
		RegionSize: m.memory.RegionSize(),
		HartCount:  m.memory.HartCount(),
	})
}

// handleMap reports the attribute map as runs of pages with identical
// attributes.
func (m *Monitor) handleMap(w http.ResponseWriter, _ *http.Request) {
	pageSize := m.memory.PageSize()
	entries := []mapEntryDTO{}

	runStart := uint64(0)
	runPma := m.memory.PmaAt(0)
	flush := func(end uint64) {
		entries = append(entries, mapEntryDTO{
			Begin: fmt.Sprintf("0x%x", runStart),
			End:   fmt.Sprintf("0x%x", end),
			Read:  runPma.IsRead(),
			Write: runPma.IsWrite(),
			Exec:  runPma.IsExec(),
			Mmr:   runPma.IsMmr(),
			Iccm:  runPma.IsIccm(),
			Dccm:  runPma.IsDccm(),
		})
	}

	for addr := pageSize; addr < m.memory.Size(); addr += pageSize {
		p := m.memory.PmaAt(addr)
		if p != runPma {
			flush(addr)
			runStart = addr
			runPma = p
		}
	}
	flush(m.memory.Size())

	writeJSON(w, entries)
}

func (m *Monitor) handleSymbols(w http.ResponseWriter, _ *http.Request) {
	entries := []symbolDTO{}
	if m.symbols != nil {
		m.symbols.Each(func(sym loader.Symbol) {
			entries = append(entries, symbolDTO{
				Name: sym.Name,
				Addr: fmt.Sprintf("0x%x", sym.Addr),
				Size: sym.Size,
			})
		})
	}
	writeJSON(w, entries)
}

func (m *Monitor) handleProcess(w http.ResponseWriter, _ *http.Request) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	dto := processDTO{PID: p.Pid}
	if memInfo, err := p.MemoryInfo(); err == nil {
		dto.RSS = memInfo.RSS
		dto.VMS = memInfo.VMS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		dto.CPUPercent = cpu
	}

	writeJSON(w, dto)
}

// StartServer starts the monitoring server and optionally opens its URL in
// a browser. It returns once the server is listening.
func (m *Monitor) StartServer(openBrowser bool) error {
	if m.memory == nil {
		return fmt.Errorf("monitor: no memory registered")
	}

	listener, err := net.Listen("tcp",
		fmt.Sprintf("127.0.0.1:%d", m.portNumber))
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}

	m.listener = listener
	m.server = &http.Server{Handler: m.Router()}

	url := fmt.Sprintf("http://%s", listener.Addr())
	fmt.Fprintf(os.Stderr, "Monitoring server started at %s\n", url)

	go func() {
		if err := m.server.Serve(listener); err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "monitor: %s\n", err)
		}
	}()

	if openBrowser {
		if err := browser.OpenURL(url); err != nil {
			fmt.Fprintf(os.Stderr, "monitor: cannot open browser: %s\n", err)
		}
	}

	return nil
}

// StopServer stops the monitoring server.
func (m *Monitor) StopServer() {
	if m.server != nil {
		m.server.Close()
		m.server = nil
	}
}
