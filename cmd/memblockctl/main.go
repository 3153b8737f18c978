/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command memblockctl inspects, stress-tests and serves health for memory
// blocks on every supported allocator.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"

	"github.com/srediag/memblock/internal/logging"
)

var logger = logging.New("memblockctl", os.Stderr)

func main() {
	app := kingpin.New("memblockctl", "Inspect and exercise aligned memory blocks.")
	app.HelpFlag.Short('h')
	logLevel := app.Flag("log-level", "Log level, 0 (trace) to 5 (silent).").
		Default("3").Envar("MEMBLOCK_LOG_LEVEL").Int()

	inspect := registerInspect(app)
	stress := registerStress(app)
	serve := registerServe(app)

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))
	logging.SetLevel(*logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case inspect.cmd.FullCommand():
		err = inspect.run(ctx, os.Stdout)
	case stress.cmd.FullCommand():
		err = stress.run(ctx, os.Stdout)
	case serve.cmd.FullCommand():
		err = serve.run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "memblockctl %s: %v\n", cmd, err)
		stop()
		os.Exit(1)
	}
}
