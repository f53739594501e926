// Copyright 2018-2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/beevik/go8086/host"
	"github.com/beevik/go8086/server"
	"github.com/beevik/go8086/sim"
	"github.com/beevik/term"
)

var (
	assemble string
	run      string
	serve    string
	origin   string
	maxSteps int
	timeout  time.Duration
)

func init() {
	flag.StringVar(&assemble, "a", "", "assemble file")
	flag.StringVar(&run, "r", "", "run file and print the result as JSON")
	flag.StringVar(&serve, "serve", "", "serve the HTTP API on `addr`")
	flag.StringVar(&origin, "origin", "*", "CORS allowed origin for the HTTP API")
	flag.IntVar(&maxSteps, "steps", sim.DefaultMaxSteps, "step ceiling for each run")
	flag.DurationVar(&timeout, "timeout", sim.DefaultTimeout, "wall-clock ceiling for each run")
	flag.CommandLine.Usage = func() {
		fmt.Println("Usage: go8086 [script] ..\nOptions:")
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()

	switch {
	case serve != "":
		serveAPI()
		return
	case run != "":
		runFile()
		return
	}

	h := host.New()

	// Do command-line assemble if requested.
	if assemble != "" {
		err := h.AssembleFile(assemble)
		if err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Run commands contained in command-line files.
	args := flag.Args()
	if len(args) > 0 {
		for _, filename := range args {
			file, err := os.Open(filename)
			if err != nil {
				exitOnError(err)
			}
			h.RunCommands(file, os.Stdout, false)
			file.Close()
		}
	}

	// Break on Ctrl-C.
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go handleInterrupt(h, c)

	// Run commands from stdin, prompting only when it is a terminal.
	h.RunCommands(os.Stdin, os.Stdout, term.IsTerminal(int(os.Stdin.Fd())))
}

func serveAPI() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := server.New(server.Options{
		MaxSteps:    maxSteps,
		Timeout:     timeout,
		AllowOrigin: origin,
		Log:         os.Stderr,
	})

	fmt.Fprintf(os.Stderr, "Serving on %s.\n", serve)
	if err := s.ListenAndServe(ctx, serve); err != nil {
		exitOnError(err)
	}
}

func runFile() {
	src, err := os.ReadFile(run)
	if err != nil {
		exitOnError(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result := sim.Execute(ctx, string(src), sim.Options{
		MaxSteps: maxSteps,
		Timeout:  timeout,
		Filename: filepath.Base(run),
	})

	if _, err := result.WriteTo(os.Stdout); err != nil {
		exitOnError(err)
	}
	if result.Execution == nil || result.Execution.Status != sim.StatusSuccess {
		os.Exit(1)
	}
}

func handleInterrupt(h *host.Host, c chan os.Signal) {
	for {
		<-c
		h.Break()
	}
}

func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	os.Exit(1)
}
