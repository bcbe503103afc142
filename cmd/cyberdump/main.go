// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Command cyberdump is test/ops tooling around a compiled bytecode.Image:
// it runs one on a vm.VM, or disassembles it with colorized tabular
// opcode/heap/method-table listings (§8 `[ADD]`). It never parses Cyber
// source — the lexer/parser/semantic-analysis front-end producing the IR
// that internal/codegen consumes is an external collaborator (§1) — so its
// only "file I/O layer" use is the one the spec allows: reading a
// previously assembled bytecode image off disk.
//
// Generalized from the teacher's probec (probe-lang/cmd/probec/main.go), a
// single-command stdlib-flag driver, to a gopkg.in/urfave/cli.v1
// subcommand structure since this tool owns several independent
// operations (run, disasm) rather than one compile pipeline.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/probechain/cyber-lang/internal/bytecode"
	"github.com/probechain/cyber-lang/internal/config"
	"github.com/probechain/cyber-lang/internal/diag"
	"github.com/probechain/cyber-lang/internal/ffi"
	"github.com/probechain/cyber-lang/internal/vm"
)

var log = diag.Default("cyberdump")

func main() {
	app := cli.NewApp()
	app.Name = "cyberdump"
	app.Usage = "load, run, and disassemble Cyber bytecode images"
	app.Version = "0.1.0"
	app.Commands = []cli.Command{
		runCommand,
		disasmCommand,
		funcsCommand,
		sigsCommand,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "cyberdump: %v\n", err)
		os.Exit(1)
	}
}

var configFlag = cli.StringFlag{
	Name:  "config",
	Usage: "path to a VM limits TOML file (see internal/config)",
}

func loadImage(path string) (*bytecode.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return bytecode.Unmarshal(data)
}

func loadLimits(c *cli.Context) config.VMLimits {
	if p := c.String("config"); p != "" {
		limits, err := config.Load(p)
		if err != nil {
			log.Warn("failed loading config, using defaults", "path", p, "err", err)
			return config.Default()
		}
		return limits
	}
	return config.Default()
}

var runCommand = cli.Command{
	Name:      "run",
	Usage:     "execute a bytecode image and print its return value",
	ArgsUsage: "<image.json>",
	Flags:     []cli.Flag{configFlag},
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return cli.NewExitError("usage: cyberdump run <image.json>", 1)
		}
		img, err := loadImage(c.Args().Get(0))
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		buf, err := bytecode.FromImage(img)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		limits := loadLimits(c)
		machine, err := vm.New(buf, img.EntryFunc, limits.InstrLimit)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		// Any bytecode that holds a bound-function value (produced by a
		// host's earlier ffi.Binder.Bind call against this same heap) can
		// call it like any other callable; a program with none never
		// exercises the hook.
		binder := ffi.NewBinder(machine.Heap())
		machine.SetFFIInvoker(binder.Invoke)
		result, err := machine.Run()
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		fmt.Printf("%s %v\n", successLabel(), result)
		return nil
	},
}

var disasmCommand = cli.Command{
	Name:      "disasm",
	Usage:     "print the instruction stream as human-readable text",
	ArgsUsage: "<image.json>",
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return cli.NewExitError("usage: cyberdump disasm <image.json>", 1)
		}
		img, err := loadImage(c.Args().Get(0))
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		buf, err := bytecode.FromImage(img)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		fmt.Print(buf.Disassemble())
		return nil
	},
}

var funcsCommand = cli.Command{
	Name:      "funcs",
	Usage:     "tabulate per-function metadata (stack size, arity, offset)",
	ArgsUsage: "<image.json>",
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return cli.NewExitError("usage: cyberdump funcs <image.json>", 1)
		}
		img, err := loadImage(c.Args().Get(0))
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}

		out := colorableOut()
		table := tablewriter.NewWriter(out)
		table.SetHeader([]string{"#", "name", "offset", "stack size", "arity", "temp start"})
		for i, fn := range img.Funcs {
			table.Append([]string{
				fmt.Sprint(i), fn.Name, fmt.Sprint(fn.Offset), fmt.Sprint(fn.StackSize),
				fmt.Sprint(fn.Arity), fmt.Sprint(fn.TempStart),
			})
		}
		table.Render()
		return nil
	},
}

var sigsCommand = cli.Command{
	Name:      "sigs",
	Usage:     "tabulate the call-site signature table (callTypeCheck/typeCheck operand types)",
	ArgsUsage: "<image.json>",
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return cli.NewExitError("usage: cyberdump sigs <image.json>", 1)
		}
		img, err := loadImage(c.Args().Get(0))
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}

		out := colorableOut()
		table := tablewriter.NewWriter(out)
		table.SetHeader([]string{"sig id", "param type ids"})
		for i, sig := range img.Signatures {
			ids := make([]string, len(sig.ParamTypeIDs))
			for j, id := range sig.ParamTypeIDs {
				if id == bytecode.NoTypeCheck {
					ids[j] = "-"
				} else {
					ids[j] = fmt.Sprint(id)
				}
			}
			table.Append([]string{fmt.Sprint(i), fmt.Sprint(ids)})
		}
		table.Render()
		return nil
	},
}

// colorableOut wraps stdout so fatih/color escape codes render correctly
// on Windows terminals too (mattn/go-colorable's usual job); on a
// non-terminal (piped output) color.NoColor is set so scripted consumers
// of `cyberdump funcs` never see raw ANSI codes.
func colorableOut() io.Writer {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
	return colorable.NewColorableStdout()
}

func successLabel() string {
	return color.New(color.FgGreen, color.Bold).Sprint("=>")
}
