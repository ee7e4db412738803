package main

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/oisee/ecsrule/pkg/rule"
	"github.com/oisee/ecsrule/pkg/world"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ruledbg",
		Short: "ecsrule debugger — compile, disassemble, and run rule expressions",
	}

	var factsPath string
	var transitiveNames []string

	compileCmd := &cobra.Command{
		Use:   "compile [expr]",
		Short: "Compile a rule expression and report success or the compile error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := loadWorld(factsPath, transitiveNames)
			if err != nil {
				return err
			}
			r, err := rule.New(w, args[0])
			if err != nil {
				return err
			}
			defer r.Free()
			fmt.Printf("compiled %q (%d variables)\n", args[0], r.VariableCount())
			return nil
		},
	}
	compileCmd.Flags().StringVar(&factsPath, "facts", "", "Facts file (see loadWorld for the format)")
	compileCmd.Flags().StringSliceVar(&transitiveNames, "transitive", nil, "Predicate names to mark transitive")

	disasmCmd := &cobra.Command{
		Use:   "disasm [expr]",
		Short: "Compile a rule expression and print its disassembly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := loadWorld(factsPath, transitiveNames)
			if err != nil {
				return err
			}
			r, err := rule.New(w, args[0])
			if err != nil {
				return err
			}
			defer r.Free()
			fmt.Print(r.String())
			return nil
		},
	}
	disasmCmd.Flags().StringVar(&factsPath, "facts", "", "Facts file (see loadWorld for the format)")
	disasmCmd.Flags().StringSliceVar(&transitiveNames, "transitive", nil, "Predicate names to mark transitive")

	var numWorkers int
	runCmd := &cobra.Command{
		Use:   "run [expr]",
		Short: "Compile a rule expression and drive it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := loadWorld(factsPath, transitiveNames)
			if err != nil {
				return err
			}
			r, err := rule.New(w, args[0])
			if err != nil {
				return err
			}
			defer r.Free()

			if numWorkers <= 1 {
				count := 0
				it := r.Iter()
				defer it.Free()
				for it.Next() {
					count++
				}
				fmt.Printf("%d match(es)\n", count)
				return nil
			}

			total := runConcurrent(r, numWorkers)
			fmt.Printf("%d match(es) across %d iterators\n", total, numWorkers)
			return nil
		},
	}
	runCmd.Flags().StringVar(&factsPath, "facts", "", "Facts file (see loadWorld for the format)")
	runCmd.Flags().StringSliceVar(&transitiveNames, "transitive", nil, "Predicate names to mark transitive")
	runCmd.Flags().IntVar(&numWorkers, "workers", 1, "Number of independent iterators to run concurrently over the same rule")

	rootCmd.AddCommand(compileCmd, disasmCmd, runCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runConcurrent demonstrates that a compiled Rule holds no mutable
// per-iteration state: numWorkers goroutines each drive their own
// Iter() over r concurrently, and the match counts are summed with an
// atomic counter rather than a shared slice.
func runConcurrent(r *rule.Rule, numWorkers int) int64 {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	var total atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			it := r.Iter()
			defer it.Free()
			var n int64
			for it.Next() {
				n++
			}
			total.Add(n)
		}()
	}
	wg.Wait()
	return total.Load()
}

// loadWorld builds a world.World from a facts file, or an empty world if
// path is "". Each non-blank, non-"#"-prefixed line is either:
//
//	Subject Pred Object    (a binary relation)
//	Subject Pred           (a unary fact)
//
// transitiveNames marks the given predicate names transitive before the
// file is read, so a predicate appearing only as a fact's middle column
// still resolves through World.Intern consistently.
func loadWorld(path string, transitiveNames []string) (*world.World, error) {
	w := world.New()
	for _, name := range transitiveNames {
		w.MarkTransitive(name)
	}
	if path == "" {
		w.Build()
		return w, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loadWorld: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch len(fields) {
		case 2:
			w.Fact(fields[0], fields[1])
		case 3:
			w.Relate(fields[0], fields[1], fields[2])
		default:
			return nil, fmt.Errorf("loadWorld: %s: malformed line %q", path, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("loadWorld: %w", err)
	}
	w.Build()
	return w, nil
}
