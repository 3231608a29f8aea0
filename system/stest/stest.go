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

// Package stest provides a fake Commander that records invocations and
// simulates command output and exit codes for tests.
package stest

import (
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/rauc/rauc-go/system"
)

type Call struct {
	Name string
	Args []string
}

// FakeCmds implements system.StatCommander. Each Command() call is recorded;
// the returned command is a shell that prints the next queued output for the
// command name and exits with the configured code.
type FakeCmds struct {
	mu      sync.Mutex
	calls   []Call
	outputs map[string][]string
	retCode map[string]int
}

func NewFakeCmds() *FakeCmds {
	return &FakeCmds{
		outputs: make(map[string][]string),
		retCode: make(map[string]int),
	}
}

// QueueOutput appends stdout content for the next invocation of name.
func (f *FakeCmds) QueueOutput(name, output string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs[name] = append(f.outputs[name], output)
}

// SetRetCode makes every invocation of name exit with code.
func (f *FakeCmds) SetRetCode(name string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retCode[name] = code
}

// Calls returns the recorded invocations.
func (f *FakeCmds) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := make([]Call, len(f.calls))
	copy(calls, f.calls)
	return calls
}

// CallsFor returns the recorded invocations of the named command.
func (f *FakeCmds) CallsFor(name string) []Call {
	var calls []Call
	for _, c := range f.Calls() {
		if c.Name == name {
			calls = append(calls, c)
		}
	}
	return calls
}

func (f *FakeCmds) Command(name string, arg ...string) *system.Cmd {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Name: name, Args: arg})

	var output string
	if queue := f.outputs[name]; len(queue) > 0 {
		output = queue[0]
		f.outputs[name] = queue[1:]
	}
	code := f.retCode[name]
	f.mu.Unlock()

	cmd := exec.Command("/bin/sh", "-c",
		`printf '%s' "$1"; exit "$2"`, "sh", output, strconv.Itoa(code))
	return &system.Cmd{Cmd: cmd}
}

func (f *FakeCmds) Stat(name string) (os.FileInfo, error) {
	return os.Stat(name)
}
