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
package boot

import (
	"io/ioutil"
	"regexp"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrBootnameNotFound is returned when none of the supported kernel command
// line patterns match.
var ErrBootnameNotFound = errors.New("Bootname not found")

var (
	raucSlotRegex      = regexp.MustCompile(`rauc\.slot=(\S+)`)
	bootstateRegex     = regexp.MustCompile(`bootstate\.active=(\S+)`)
	rootRegex          = regexp.MustCompile(`root=(\S+)`)
	defaultCmdlineFile = "/proc/cmdline"
)

// Provider yields the identifier of the slot the system booted from. It is a
// first-class extension point: SlotTopology takes a Provider at construction
// so tests and alternative discovery mechanisms can replace the kernel
// command line.
type Provider interface {
	Bootname() (string, error)
}

// CmdlineProvider extracts the booted-slot identifier from the kernel command
// line. The command line is read once and the result cached. Matching rules,
// first match wins:
//
//  1. rauc.slot=<value>
//  2. bootstate.active=<value>, only when the bootloader is barebox
//  3. root=<value>
type CmdlineProvider struct {
	// Bootloader is the configured system bootloader; enables rule 2 for
	// barebox.
	Bootloader string
	// CmdlineFile overrides the kernel command line path; used in tests.
	CmdlineFile string

	once     sync.Once
	bootname string
	err      error
}

func NewCmdlineProvider(bootloader string) *CmdlineProvider {
	return &CmdlineProvider{Bootloader: bootloader}
}

func (p *CmdlineProvider) Bootname() (string, error) {
	p.once.Do(p.read)
	return p.bootname, p.err
}

func (p *CmdlineProvider) read() {
	path := p.CmdlineFile
	if path == "" {
		path = defaultCmdlineFile
	}

	contents, err := ioutil.ReadFile(path)
	if err != nil {
		p.err = errors.Wrapf(err, "Failed reading %s", path)
		return
	}

	if m := raucSlotRegex.FindSubmatch(contents); m != nil {
		p.bootname = string(m[1])
		return
	}

	// For barebox the bootstate code puts the active slot name on the
	// command line.
	if p.Bootloader == "barebox" {
		if m := bootstateRegex.FindSubmatch(contents); m != nil {
			p.bootname = string(m[1])
			return
		}
	}

	if m := rootRegex.FindSubmatch(contents); m != nil {
		p.bootname = string(m[1])
		return
	}

	log.Debugf("No boot slot identifier on command line: %q", contents)
	p.err = ErrBootnameNotFound
}

// StaticProvider returns a fixed bootname; used in tests and by frontends
// that already know the booted slot.
type StaticProvider string

func (p StaticProvider) Bootname() (string, error) {
	if p == "" {
		return "", ErrBootnameNotFound
	}
	return string(p), nil
}
