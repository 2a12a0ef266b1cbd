// cdbutil -- build, inspect and dump cdbx constant databases
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

// cdbutil wraps the cdbx library for command-line use: "make" builds a
// database from one or more text-format input files (or stdin), "dump"
// prints a database back out in that same text format, "stat" reports
// per-bucket load statistics and "get" looks up a single key.

package main

import (
	"fmt"
	"os"

	"github.com/ndparker/cdbx"

	flag "github.com/opencoff/pflag"
)

func main() {
	usage := fmt.Sprintf("%s [options] make|dump|stat|get ARGS...", os.Args[0])

	var mmapOn, mmapOff bool
	var cacheSize int

	flag.BoolVarP(&mmapOn, "mmap", "m", false, "Force memory-mapped reads")
	flag.BoolVarP(&mmapOff, "no-mmap", "M", false, "Disable memory-mapped reads")
	flag.IntVarP(&cacheSize, "cache", "c", 128, "Use `N` as the reader's value-cache size")
	flag.Usage = func() {
		fmt.Printf("cdbutil - build, inspect and dump cdbx constant databases\nUsage: %s\n", usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		die("No subcommand given!\nUsage: %s\n", usage)
	}

	mmap := cdbx.Default
	switch {
	case mmapOn && mmapOff:
		die("--mmap and --no-mmap are mutually exclusive")
	case mmapOn:
		mmap = cdbx.Enabled
	case mmapOff:
		mmap = cdbx.Disabled
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "make":
		cmdMake(rest)
	case "dump":
		cmdDump(rest, mmap, cacheSize)
	case "stat":
		cmdStat(rest, mmap, cacheSize)
	case "get":
		cmdGet(rest, mmap, cacheSize)
	default:
		die("unknown subcommand %q\nUsage: %s\n", cmd, usage)
	}
}

func cmdMake(args []string) {
	if len(args) < 1 {
		die("make: no output file name!")
	}
	fn := args[0]
	inputs := args[1:]

	b, err := cdbx.NewBuilder(fn)
	if err != nil {
		die("make: can't create %s: %s", fn, err)
	}

	if len(inputs) == 0 {
		n, err := b.AddTextStream(os.Stdin)
		if err != nil {
			b.Close()
			die("make: can't add <stdin>: %s", err)
		}
		fmt.Printf("+ <stdin>: %d records\n", n)
	} else {
		for _, f := range inputs {
			n, err := addTextFile(b, f)
			if err != nil {
				warn("make: can't add %s: %s", f, err)
				continue
			}
			fmt.Printf("+ %s: %d records\n", f, n)
		}
	}

	rd, err := b.Commit()
	if err != nil {
		b.Close()
		die("make: can't write %s: %s", fn, err)
	}
	n, err := rd.Len()
	if err != nil {
		die("make: can't stat %s: %s", fn, err)
	}
	rd.Close()
	fmt.Printf("%s: %d distinct keys\n", fn, n)
}

func addTextFile(b *cdbx.Builder, fn string) (int, error) {
	f, err := os.Open(fn)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return b.AddTextStream(f)
}

func cmdDump(args []string, mmap cdbx.Tri, cacheSize int) {
	if len(args) < 1 {
		die("dump: no input file name!")
	}
	rd, err := cdbx.OpenReader(args[0], cdbx.WithMmap(mmap), cdbx.WithCache(cacheSize))
	if err != nil {
		die("dump: can't open %s: %s", args[0], err)
	}
	defer rd.Close()

	if err := cdbx.DumpText(os.Stdout, rd, true); err != nil {
		die("dump: %s: %s", args[0], err)
	}
}

func cmdStat(args []string, mmap cdbx.Tri, cacheSize int) {
	if len(args) < 1 {
		die("stat: no input file name!")
	}
	rd, err := cdbx.OpenReader(args[0], cdbx.WithMmap(mmap), cdbx.WithCache(cacheSize))
	if err != nil {
		die("stat: can't open %s: %s", args[0], err)
	}
	defer rd.Close()

	st, err := rd.Stat()
	if err != nil {
		die("stat: %s: %s", args[0], err)
	}
	n, err := rd.Len()
	if err != nil {
		die("stat: %s: %s", args[0], err)
	}
	fmt.Printf("%s: %d bytes, %d distinct keys, %d/256 buckets used, max load %.2f\n",
		args[0], st.Size, n, st.NonEmpty, st.MaxLoad)
}

func cmdGet(args []string, mmap cdbx.Tri, cacheSize int) {
	if len(args) < 2 {
		die("get: usage: get DBFILE KEY")
	}
	rd, err := cdbx.OpenReader(args[0], cdbx.WithMmap(mmap), cdbx.WithCache(cacheSize))
	if err != nil {
		die("get: can't open %s: %s", args[0], err)
	}
	defer rd.Close()

	val, err := rd.MustFind([]byte(args[1]))
	if err != nil {
		die("get: %s: %s", args[1], err)
	}
	os.Stdout.Write(val)
	os.Stdout.Write([]byte("\n"))
}

func die(f string, v ...interface{}) {
	warn(f, v...)
	os.Exit(1)
}

func warn(f string, v ...interface{}) {
	z := fmt.Sprintf("%s: %s", os.Args[0], f)
	s := fmt.Sprintf(z, v...)
	if n := len(s); n == 0 || s[n-1] != '\n' {
		s += "\n"
	}
	os.Stderr.WriteString(s)
	os.Stderr.Sync()
}
