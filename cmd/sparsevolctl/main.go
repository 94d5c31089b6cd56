// Command sparsevolctl reports on a store's shard layout and allocation
// without mounting it.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sparsevol/sparsevol/internal/config"
	"github.com/sparsevol/sparsevol/internal/store"
)

func funcmain() error {
	fset := flag.CommandLine
	resolve := config.Flags(fset, false)
	flag.Parse()

	cfg, err := resolve()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.StoragePath, 0, cfg.SplitSizeBytes)
	if err != nil {
		return err
	}
	defer st.Close()

	fmt.Printf("virtual size:  %d bytes\n", st.VirtualSize)
	fmt.Printf("split size:    %d bytes\n", st.SplitSize)
	fmt.Printf("shard count:   %d\n", st.ShardCount())
	fmt.Println()
	for _, s := range st.Stats() {
		fmt.Printf("%-40s  allocated %10d / %-10d  (%.1f%% sparse)\n",
			s.Path, s.AllocatedSize, s.SplitSize, s.SparseFraction()*100)
	}
	return nil
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintf(os.Stderr, "sparsevolctl: %v\n", err)
		os.Exit(1)
	}
}
