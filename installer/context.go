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
package installer

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/rauc/rauc-go/boot"
	"github.com/rauc/rauc-go/bootloader"
	"github.com/rauc/rauc-go/bundle"
	"github.com/rauc/rauc-go/client"
	"github.com/rauc/rauc-go/conf"
	"github.com/rauc/rauc-go/datastore"
	"github.com/rauc/rauc-go/mount"
	"github.com/rauc/rauc-go/system"
)

// Context bundles the configuration and the collaborators of the install
// engine. All mutable engine state (busy flag, last error) lives here so
// tests can construct an isolated context per run.
type Context struct {
	Config     *conf.Config
	Bootname   boot.Provider
	Bootloader bootloader.Bootloader
	Mounter    mount.Mounter
	Cmd        system.Commander
	Verifier   bundle.Verifier
	Client     *client.Client
	Progress   *Progress

	// Store persists the last error and install history; may be nil.
	Store *datastore.DataStore

	mu        sync.Mutex
	busy      bool
	lastError string
}

// NewContext builds a context with real collaborators for the given
// configuration. The progress observer and the datastore are optional.
func NewContext(config *conf.Config, store *datastore.DataStore,
	observer func(StepEvent)) (*Context, error) {

	cmd := system.OsCalls{}

	loader, err := bootloader.New(config, cmd)
	if err != nil {
		return nil, err
	}

	return &Context{
		Config:     config,
		Bootname:   boot.NewCmdlineProvider(config.SystemBootloader),
		Bootloader: loader,
		Mounter:    mount.NewSystemMounter(cmd),
		Cmd:        cmd,
		Verifier:   bundle.NopVerifier{},
		Client:     client.New(),
		Progress:   NewProgress(observer),
		Store:      store,
	}, nil
}

// setBusy acquires the single-install guard. It returns false when an
// install is already running.
func (c *Context) setBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return false
	}
	c.busy = true
	return true
}

func (c *Context) clearBusy() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

// Busy reports whether an install worker is running.
func (c *Context) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// SetLastError records the process-wide last error observable by callers.
func (c *Context) SetLastError(message string) {
	c.mu.Lock()
	c.lastError = message
	c.mu.Unlock()

	if c.Store != nil {
		if err := c.Store.SetLastError(message); err != nil {
			log.Errorf("Failed persisting last error: %v", err)
		}
	}
}

// LastError returns the last recorded install error, or "".
func (c *Context) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}
