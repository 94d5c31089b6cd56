// Command sparsevold mounts a sparse block store as a single FUSE file.
package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	_ "net/http/pprof"

	"github.com/sparsevol/sparsevol"
	"github.com/sparsevol/sparsevol/internal/bridge"
	"github.com/sparsevol/sparsevol/internal/config"
	"github.com/sparsevol/sparsevol/internal/store"
	"github.com/sparsevol/sparsevol/internal/telemetry"
)

var httpListen = flag.String("listen", "", "host:port to listen on for pprof HTTP")

// debugFmt is set once funcmain has parsed -debug, so main can choose how
// much detail to print for the top-level error.
var debugFmt bool

// bumpRlimitNOFILE raises the process's open file limit to the kernel
// maximum: a heavily split store can hold one file descriptor per shard.
func bumpRlimitNOFILE() error {
	var fileMax, nrOpen uint64
	{
		b, err := ioutil.ReadFile("/proc/sys/fs/file-max")
		if err != nil {
			return err
		}
		fileMax, err = strconv.ParseUint(strings.TrimSpace(string(b)), 0, 64)
		if err != nil {
			return err
		}
	}
	{
		b, err := ioutil.ReadFile("/proc/sys/fs/nr_open")
		if err != nil {
			return err
		}
		nrOpen, err = strconv.ParseUint(strings.TrimSpace(string(b)), 0, 64)
		if err != nil {
			return err
		}
	}
	max := fileMax
	if nrOpen < max {
		max = nrOpen
	}
	return unix.Setrlimit(unix.RLIMIT_NOFILE, &unix.Rlimit{Max: max, Cur: max})
}

func funcmain() error {
	fset := flag.CommandLine
	resolve := config.Flags(fset, true)
	flag.Parse()

	cfg, err := resolve()
	if err != nil {
		return err
	}
	debugFmt = cfg.Debug
	logger := telemetry.New(cfg.Debug)

	if *httpListen != "" {
		go http.ListenAndServe(*httpListen, nil)
	}

	if err := bumpRlimitNOFILE(); err != nil {
		logger.Warn("bumping RLIMIT_NOFILE failed", "error", err)
	}

	// store.Open resolves growth against the persisted virtual_size itself;
	// cfg.Grow only affected how -size_MB was parsed.
	st, err := store.Open(cfg.StoragePath, cfg.SizeBytes, cfg.SplitSizeBytes)
	if err != nil {
		return xerrors.Errorf("opening store: %w", err)
	}
	logger.Info("opened store", "path", cfg.StoragePath, "virtual_size", st.VirtualSize, "shards", st.ShardCount())

	fs := bridge.New(st)
	mfs, err := bridge.Mount(cfg.MountDir, fs, cfg.Debug)
	if err != nil {
		st.Close()
		return xerrors.Errorf("mounting: %w", err)
	}

	ctx, canc := sparsevol.InterruptibleContext()
	defer canc()

	sparsevol.RegisterAtExit(func() error {
		return st.Sync()
	})

	go func() {
		<-ctx.Done()
		if err := bridge.Unmount(cfg.MountDir); err != nil {
			logger.Error("unmounting", "dir", cfg.MountDir, "error", err)
		}
	}()

	if err := mfs.Join(ctx); err != nil {
		return xerrors.Errorf("joining fuse server: %w", err)
	}

	return sparsevol.RunAtExit()
}

func main() {
	if err := funcmain(); err != nil {
		if debugFmt {
			fmt.Fprintf(os.Stderr, "sparsevold: %+v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "sparsevold: %v\n", err)
		}
		os.Exit(1)
	}
}
