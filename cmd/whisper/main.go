// Command whisper is the configuration driver of the simulator: it builds
// the simulated memory, configures closely coupled memories and register
// areas, loads ELF and HEX images, resolves the well-known symbols the
// run-loop needs, and optionally serves monitoring data and records a
// store trace.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/luckidea/SweRV-ISS/loader"
	"github.com/luckidea/SweRV-ISS/mem"
	"github.com/luckidea/SweRV-ISS/monitoring"
	"github.com/luckidea/SweRV-ISS/tracing"
)

type args struct {
	elfFile   string
	hexFile   string
	traceFile string
	regInits  []string

	startPcStr string
	endPcStr   string
	toHostStr  string

	xlen    int
	memSize uint64
	harts   int

	iccmStr string
	dccmStr string
	mmrStr  string
	iccmRw  bool

	trace        bool
	interactive  bool
	verbose      bool
	printSymbols bool

	monitor     bool
	monitorPort int
	openBrowser bool

	snapshotFile string
}

var cliArgs args

var rootCmd = &cobra.Command{
	Use:   "whisper",
	Short: "Whisper configures and loads a RISC-V simulation.",
	Long: `Whisper builds the simulated physical memory, configures closely ` +
		`coupled memories and memory-mapped register areas, loads ELF and HEX ` +
		`program images, and reports the entry point and well-known symbols ` +
		`used by the execution driver.`,
	SilenceUsage: true,
	RunE: func(_ *cobra.Command, _ []string) error {
		return run()
	},
}

// parseNumber converts a command-line number honoring 0x prefixes.
func parseNumber(option, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s", option, s)
	}
	return v, nil
}

// parseArea converts an addr:size pair given on the command line.
func parseArea(option, s string) (addr, size uint64, err error) {
	fields := strings.Split(s, ":")
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("invalid %s value %q, want addr:size", option, s)
	}
	if addr, err = parseNumber(option, fields[0]); err != nil {
		return 0, 0, err
	}
	if size, err = parseNumber(option, fields[1]); err != nil {
		return 0, 0, err
	}
	return addr, size, nil
}

// parseRegInit validates a name=value register initializer.
func parseRegInit(s string) (name string, value uint64, err error) {
	name, valueStr, found := strings.Cut(s, "=")
	if !found || name == "" {
		return "", 0, fmt.Errorf("invalid register initializer %q, "+
			"want name=value", s)
	}
	value, err = parseNumber("setreg", valueStr)
	if err != nil {
		return "", 0, err
	}
	return name, value, nil
}

func buildMemory(a *args) (*mem.Memory, error) {
	m, err := mem.MakeBuilder().
		WithSize(a.memSize).
		WithHartCount(a.harts).
		Build()
	if err != nil {
		return nil, err
	}

	areas := []struct {
		option string
		value  string
		define func(addr, size uint64) error
	}{
		{"iccm", a.iccmStr, m.DefineIccm},
		{"dccm", a.dccmStr, m.DefineDccm},
		{"mmr", a.mmrStr, m.DefineMmrArea},
	}
	for _, area := range areas {
		if area.value == "" {
			continue
		}
		addr, size, err := parseArea(area.option, area.value)
		if err != nil {
			return nil, err
		}
		if err := area.define(addr, size); err != nil {
			return nil, err
		}
	}

	m.FinishCcmConfig(a.iccmRw)

	return m, nil
}

// resolvePc returns the explicit override when given, otherwise the
// address of the first present fallback symbol.
func resolvePc(
	override string,
	option string,
	symbols *loader.SymbolTable,
	fallbacks []string,
	dflt uint64,
) (uint64, error) {
	if override != "" {
		return parseNumber(option, override)
	}
	for _, name := range fallbacks {
		if sym, ok := symbols.Find(name); ok {
			return sym.Addr, nil
		}
	}
	return dflt, nil
}

func run() error {
	a := &cliArgs

	memory, err := buildMemory(a)
	if err != nil {
		return err
	}

	symbols := loader.NewSymbolTable()

	var entry, end uint64
	if a.elfFile != "" {
		entry, end, err = loader.NewElfLoader(memory, symbols).
			Load(a.elfFile, a.xlen)
		if err != nil {
			return err
		}
		if a.verbose {
			fmt.Printf("Loaded %s: entry=0x%x end=0x%x symbols=%d\n",
				a.elfFile, entry, end, symbols.Len())
		}
	}

	if a.hexFile != "" {
		if err := loader.NewHexLoader(memory).Load(a.hexFile); err != nil {
			return err
		}
		if a.verbose {
			fmt.Printf("Loaded %s\n", a.hexFile)
		}
	}

	startPc, err := resolvePc(a.startPcStr, "startpc", symbols,
		[]string{"_start"}, entry)
	if err != nil {
		return err
	}
	endPc, err := resolvePc(a.endPcStr, "endpc", symbols,
		[]string{"finish_", "_finish"}, 0)
	if err != nil {
		return err
	}
	toHost, err := resolvePc(a.toHostStr, "tohost", symbols,
		[]string{"tohost"}, 0)
	if err != nil {
		return err
	}

	for _, init := range a.regInits {
		name, value, err := parseRegInit(init)
		if err != nil {
			return err
		}
		if a.verbose {
			fmt.Printf("Initial register %s = 0x%x\n", name, value)
		}
	}

	if a.printSymbols {
		symbols.Print(os.Stdout)
	}

	if a.trace || a.traceFile != "" {
		recorder := tracing.NewRecorder(a.traceFile)
		if err := recorder.Init(); err != nil {
			return err
		}
		atexit.Register(recorder.Close)
	}

	if a.snapshotFile != "" && a.elfFile != "" {
		minAddr, maxAddr, err := loader.ElfBounds(a.elfFile)
		if err != nil {
			return err
		}
		blocks := [][2]uint64{{minAddr, maxAddr + 1}}
		if err := memory.SaveSnapshot(a.snapshotFile, blocks); err != nil {
			return err
		}
		if a.verbose {
			fmt.Printf("Saved snapshot %s\n", a.snapshotFile)
		}
	}

	fmt.Printf("start-pc=0x%x end-pc=0x%x tohost=0x%x mem-size=0x%x harts=%d\n",
		startPc, endPc, toHost, memory.Size(), memory.HartCount())

	if a.monitor || a.interactive {
		monitor := monitoring.NewMonitor().WithPortNumber(a.monitorPort)
		monitor.RegisterMemory(memory)
		monitor.RegisterSymbols(symbols)
		if err := monitor.StartServer(a.openBrowser); err != nil {
			return err
		}
		defer monitor.StopServer()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
	}

	return nil
}

func envInt(key string, dflt int) int {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
	}
	return dflt
}

func init() {
	// A .env file can carry the WHISPER_* defaults.
	godotenv.Load()

	f := rootCmd.Flags()
	f.StringVarP(&cliArgs.elfFile, "target", "t", "",
		"ELF file to load into simulator memory")
	f.StringVarP(&cliArgs.hexFile, "hex", "x", "",
		"HEX file to load into simulator memory")
	f.StringVarP(&cliArgs.traceFile, "logfile", "f",
		os.Getenv("WHISPER_TRACE_DB"),
		"Record the store trace into the given database file")
	f.BoolVarP(&cliArgs.trace, "log", "l", false,
		"Record the store trace into a generated database file")
	f.StringVarP(&cliArgs.startPcStr, "startpc", "s", "",
		"Program entry point (defaults to the _start symbol)")
	f.StringVarP(&cliArgs.endPcStr, "endpc", "e", "",
		"Stop program counter (defaults to the finish_ symbol)")
	f.StringVar(&cliArgs.toHostStr, "tohost", "",
		"Memory address in which a write stops the simulator")
	f.StringArrayVar(&cliArgs.regInits, "setreg", nil,
		"Initial register value, name=value (repeatable)")
	f.IntVar(&cliArgs.xlen, "xlen", 32, "Register width, 32 or 64")
	f.Uint64Var(&cliArgs.memSize, "memsize", 4*mem.GB,
		"Simulated memory size in bytes")
	f.IntVar(&cliArgs.harts, "harts", 1, "Number of harts")
	f.StringVar(&cliArgs.iccmStr, "iccm", "", "ICCM area as addr:size")
	f.StringVar(&cliArgs.dccmStr, "dccm", "", "DCCM area as addr:size")
	f.StringVar(&cliArgs.mmrStr, "mmr", "",
		"Memory-mapped register area as addr:size")
	f.BoolVar(&cliArgs.iccmRw, "iccm-rw", false,
		"Allow data access to the ICCM")
	f.BoolVarP(&cliArgs.interactive, "interactive", "i", false,
		"Keep the session alive for an external driver")
	f.BoolVarP(&cliArgs.verbose, "verbose", "v", false, "Verbose output")
	f.BoolVar(&cliArgs.printSymbols, "symbols", false,
		"Print the symbols of the loaded ELF file")
	f.BoolVar(&cliArgs.monitor, "monitor", false,
		"Serve memory state over HTTP")
	f.IntVar(&cliArgs.monitorPort, "monitor-port",
		envInt("WHISPER_MONITOR_PORT", 0),
		"Monitoring server port (0 picks a free port)")
	f.BoolVar(&cliArgs.openBrowser, "open-browser", false,
		"Open the monitoring URL in a browser")
	f.StringVar(&cliArgs.snapshotFile, "save-snapshot", "",
		"Save the loaded image region to the given snapshot file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
