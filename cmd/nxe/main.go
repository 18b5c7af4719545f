// nxe - demo and benchmark driver for the numexpr virtual machine
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/tliron/commonlog"

	"github.com/mindw/numexpr/axes"
	"github.com/mindw/numexpr/manifest"
	"github.com/mindw/numexpr/vm"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	size := flag.Int("n", 1_000_000, "Number of elements in the benchmark arrays")
	threads := flag.Int("threads", 0, "Worker threads (0 = all CPUs, overrides numexpr.toml)")
	blockSize := flag.Int("block-size", 0, "Elements per interpreter block (0 = default)")
	serial := flag.Bool("serial", false, "Force the serial engine")
	disasm := flag.Bool("d", false, "Print program disassembly before running")
	verbosity := flag.Int("v", 0, "Log verbosity (0 = quiet)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: nxe [options]\n\n")
		fmt.Fprintf(os.Stderr, "Evaluates the demo expressions 2*a+b and sum(a*b) over float64 arrays\n")
		fmt.Fprintf(os.Stderr, "and reports timings. Engine settings come from a numexpr.toml found in\n")
		fmt.Fprintf(os.Stderr, "the current directory or any parent, overridden by flags.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  nxe -n 10000000            # 10M elements, all CPUs\n")
		fmt.Fprintf(os.Stderr, "  nxe -serial -d             # serial run with disassembly\n")
	}
	flag.Parse()

	commonlog.Configure(*verbosity, nil)

	opts := vm.Options{}
	if m, err := manifest.FindAndLoad("."); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	} else if m != nil {
		opts = m.Options()
		fmt.Printf("Using %s/numexpr.toml\n", m.Dir)
	}
	if *threads > 0 {
		opts.Threads = *threads
	}
	if *blockSize > 0 {
		opts.BlockSize = *blockSize
	}
	if *serial {
		opts.ForceSerial = true
	}

	engine := vm.New(opts)
	defer engine.Close()

	a := make([]float64, *size)
	b := make([]float64, *size)
	for i := range a {
		a[i] = float64(i%1000) / 1000
		b[i] = math.Sin(float64(i % 360))
	}
	arrA := axes.Float64s(a)
	arrB := axes.Float64s(b)

	// 2*a + b: registers are output, inputs a and b, the constant 2, and
	// one temporary.
	expr := (&vm.Builder{}).
		Emit(vm.OpMulDDD, 4, 1, 3).
		Emit(vm.OpAddDDD, 0, 4, 2).
		MustBytes()
	prog, err := vm.NewProgram(expr, "ddddd", "dd", [][]byte{float64Const(2)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// sum(a*b): one temporary holds the product, the reduction folds it.
	sumCode := (&vm.Builder{}).
		Emit(vm.OpMulDDD, 3, 1, 2).
		Reduce(vm.OpSumDDN, 0, 3, vm.FullReduction).
		MustBytes()
	sumProg, err := vm.NewProgram(sumCode, "dddd", "dd")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *disasm {
		fmt.Println("2*a + b:")
		fmt.Print(prog.Disassemble())
		fmt.Println("sum(a*b):")
		fmt.Print(sumProg.Disassemble())
	}

	out := axes.New(8, *size)
	start := time.Now()
	if err := engine.Run(prog, out, arrA, arrB); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	elapsed := time.Since(start)
	fmt.Printf("2*a + b   %12d elements  %10s  (%.1f Melem/s)\n",
		*size, elapsed.Round(time.Microsecond), float64(*size)/elapsed.Seconds()/1e6)

	total := axes.New(8, 1)
	start = time.Now()
	if err := engine.Run(sumProg, total, arrA, arrB); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	elapsed = time.Since(start)
	fmt.Printf("sum(a*b)  %12d elements  %10s  = %g\n",
		*size, elapsed.Round(time.Microsecond), total.Float64Values()[0])
}

func float64Const(v float64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	return buf[:]
}
