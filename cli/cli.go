// Copyright 2021 The rauc-go Authors
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.
package cli

import (
	"fmt"
	"os"

	"github.com/mendersoftware/progressbar"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/rauc/rauc-go/conf"
	"github.com/rauc/rauc-go/datastore"
	"github.com/rauc/rauc-go/installer"
	"github.com/rauc/rauc-go/service"
)

const Version = "0.4"

const appDescription = "" +
	"rauc installs A/B firmware updates on embedded Linux devices. " +
	"An update bundle carries a signed manifest plus filesystem images; " +
	"the engine writes them to the inactive slots and switches the " +
	"bootloader to the new set."

// SetupCLI builds and runs the command line frontend.
func SetupCLI(args []string) error {
	app := &cli.App{
		Name:        "rauc",
		Usage:       "safe and atomic A/B system updates",
		Description: appDescription,
		Version:     Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "system configuration file",
				Value:   conf.DefaultConfigFile,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "set logging level (debug, info, warning, error)",
				Value: "info",
			},
		},
		Before: handleLogFlags,
		Commands: []*cli.Command{
			{
				Name:      "install",
				Usage:     "install an update bundle or remote manifest",
				ArgsUsage: "<bundle-or-url>",
				Action:    installCommand,
			},
			{
				Name:   "status",
				Usage:  "show slot states and the last install error",
				Action: statusCommand,
			},
			{
				Name:   "service",
				Usage:  "run the D-Bus install service",
				Action: serviceCommand,
			},
			{
				Name:  "version",
				Usage: "print the rauc version",
				Action: func(*cli.Context) error {
					fmt.Println(Version)
					return nil
				},
			},
		},
	}

	return app.Run(args)
}

func handleLogFlags(c *cli.Context) error {
	level, err := log.ParseLevel(c.String("log-level"))
	if err != nil {
		return errors.Wrap(err, "Invalid log level")
	}
	log.SetLevel(level)
	return nil
}

// setupContext loads the configuration and wires the engine's collaborators.
func setupContext(c *cli.Context,
	observer func(installer.StepEvent)) (*installer.Context, error) {

	config, err := conf.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}

	var store *datastore.DataStore
	if err := os.MkdirAll(config.StateDir, 0700); err != nil {
		log.Warnf("Cannot create state directory %s: %v; "+
			"state persistence disabled", config.StateDir, err)
	} else if store, err = datastore.Open(config.StateDir); err != nil {
		log.Warnf("Cannot open datastore: %v; state persistence disabled",
			err)
		store = nil
	}

	return installer.NewContext(config, store, observer)
}

// copyProgress renders copy_image percentages as a progress bar.
type copyProgress struct {
	bar  *progressbar.Bar
	last int
}

func (p *copyProgress) observe(ev installer.StepEvent) {
	if ev.Name != "copy_image" {
		return
	}
	switch ev.Kind {
	case installer.StepBegin:
		p.bar = progressbar.New(100)
		p.last = 0
	case installer.StepPercentage:
		if p.bar != nil && ev.Percentage > p.last {
			p.bar.Tick(int64(ev.Percentage - p.last))
			p.last = ev.Percentage
		}
	case installer.StepEnd:
		p.bar = nil
	}
}

func installCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("Exactly one bundle path or URL required")
	}

	progress := &copyProgress{}
	ctx, err := setupContext(c, progress.observe)
	if err != nil {
		return err
	}
	if ctx.Store != nil {
		defer ctx.Store.Close()
	}

	req := installer.NewInstallRequest(c.Args().First())
	done := make(chan struct{})
	req.Notify = func(r *installer.InstallRequest) {
		for {
			message, ok := r.PopStatus()
			if !ok {
				return
			}
			fmt.Println(message)
		}
	}
	req.Cleanup = func(*installer.InstallRequest) { close(done) }

	if err := installer.InstallRun(ctx, req); err != nil {
		return err
	}
	<-done

	if req.Result() != 0 {
		return errors.Errorf("Installing %s failed: %s",
			req.Source, ctx.LastError())
	}
	return nil
}

func statusCommand(c *cli.Context) error {
	ctx, err := setupContext(c, nil)
	if err != nil {
		return err
	}
	if ctx.Store != nil {
		defer ctx.Store.Close()
	}

	fmt.Printf("Compatible: %s\n", ctx.Config.SystemCompatible)
	fmt.Printf("Bootloader: %s\n", ctx.Config.SystemBootloader)

	if err := installer.DetermineSlotStates(ctx); err != nil {
		return err
	}

	fmt.Println("Slots:")
	for _, slot := range ctx.Config.Slots {
		bootname := slot.Bootname
		if bootname == "" {
			bootname = "-"
		}
		fmt.Printf("  %-12s %-10s %-8s %s\n",
			slot.Name, bootname, slot.State, slot.Device)
	}

	if ctx.Store != nil {
		lastError, err := ctx.Store.LastError()
		if err == nil && lastError != "" {
			fmt.Printf("Last error: %s\n", lastError)
		}
		history, err := ctx.Store.InstallHistory()
		if err == nil && len(history) > 0 {
			last := history[len(history)-1]
			fmt.Printf("Last install: %s (result %d) at %s\n",
				last.Source, last.Result,
				last.Time.Format("2006-01-02 15:04:05"))
		}
	}
	return nil
}

func serviceCommand(c *cli.Context) error {
	ctx, err := setupContext(c, nil)
	if err != nil {
		return err
	}
	return service.Run(ctx)
}
