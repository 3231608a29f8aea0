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
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rauc/rauc-go/boot"
	"github.com/rauc/rauc-go/bundle"
	"github.com/rauc/rauc-go/client"
	"github.com/rauc/rauc-go/conf"
	"github.com/rauc/rauc-go/system"
)

// bootloaderCall records one bootloader interaction for ordering assertions.
type bootloaderCall struct {
	Op       string // "state" or "primary"
	SlotName string
	Good     bool
}

type fakeBootloader struct {
	mu    sync.Mutex
	calls []bootloaderCall

	failState   bool
	failPrimary bool
}

func (b *fakeBootloader) SetState(slot *conf.Slot, good bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failState {
		return fmt.Errorf("fake bootloader state failure")
	}
	b.calls = append(b.calls,
		bootloaderCall{Op: "state", SlotName: slot.Name, Good: good})
	return nil
}

func (b *fakeBootloader) SetPrimary(slot *conf.Slot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPrimary {
		return fmt.Errorf("fake bootloader primary failure")
	}
	b.calls = append(b.calls,
		bootloaderCall{Op: "primary", SlotName: slot.Name})
	return nil
}

func (b *fakeBootloader) Calls() []bootloaderCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	calls := make([]bootloaderCall, len(b.calls))
	copy(calls, b.calls)
	return calls
}

// fakeMounter simulates mounting by symlinking the mount point onto a
// per-slot backing directory. Mount and unmount operations are recorded so
// tests can assert pairing.
type fakeMounter struct {
	mu sync.Mutex
	// slot name -> backing directory standing in for the slot filesystem
	slotDirs map[string]string
	// bundle path -> backing directory standing in for the mounted bundle
	bundleDirs map[string]string

	failSlotMount map[string]bool

	mountCount   int
	unmountCount int
	slotMounts   []string
}

func newFakeMounter() *fakeMounter {
	return &fakeMounter{
		slotDirs:      make(map[string]string),
		bundleDirs:    make(map[string]string),
		failSlotMount: make(map[string]bool),
	}
}

func (m *fakeMounter) bind(target, mountpoint string) error {
	if err := os.Remove(mountpoint); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Symlink(target, mountpoint)
}

func (m *fakeMounter) MountSlot(slot *conf.Slot, mountpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failSlotMount[slot.Name] {
		return fmt.Errorf("fake mount failure for %s", slot.Name)
	}
	dir, ok := m.slotDirs[slot.Name]
	if !ok {
		return fmt.Errorf("no backing dir for slot %s", slot.Name)
	}
	if err := m.bind(dir, mountpoint); err != nil {
		return err
	}
	m.mountCount++
	m.slotMounts = append(m.slotMounts, slot.Name)
	return nil
}

func (m *fakeMounter) MountBundle(path, mountpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir, ok := m.bundleDirs[path]
	if !ok {
		return fmt.Errorf("no backing dir for bundle %s", path)
	}
	if err := m.bind(dir, mountpoint); err != nil {
		return err
	}
	m.mountCount++
	return nil
}

func (m *fakeMounter) Unmount(mountpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if info, err := os.Lstat(mountpoint); err != nil ||
		info.Mode()&os.ModeSymlink == 0 {
		return fmt.Errorf("%s is not mounted", mountpoint)
	}
	if err := os.Remove(mountpoint); err != nil {
		return err
	}
	if err := os.Mkdir(mountpoint, 0700); err != nil {
		return err
	}
	m.unmountCount++
	return nil
}

func (m *fakeMounter) balanced() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mountCount == m.unmountCount
}

func (m *fakeMounter) slotMountNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.slotMounts))
	copy(names, m.slotMounts)
	return names
}

// testEnv is a fully faked install environment around a temp directory tree.
type testEnv struct {
	dir        string
	config     *conf.Config
	ctx        *Context
	mounter    *fakeMounter
	bootloader *fakeBootloader
}

// newTestEnv builds an A/B rootfs setup: slots rootfs.0 (bootname A) and
// rootfs.1 (bootname B), with regular files standing in for the slot
// devices. The system is booted from rootfs.0's device.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir, err := ioutil.TempDir("", "rauc-install")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	prefix := filepath.Join(dir, "mnt")
	require.NoError(t, os.Mkdir(prefix, 0755))

	dev0 := filepath.Join(dir, "dev-rootfs0")
	dev1 := filepath.Join(dir, "dev-rootfs1")
	require.NoError(t, ioutil.WriteFile(dev0, []byte("old-a"), 0644))
	require.NoError(t, ioutil.WriteFile(dev1, []byte("old-b"), 0644))

	config := &conf.Config{
		SystemCompatible: "devX",
		SystemBootloader: "noop",
		MountPrefix:      prefix,
		ConfigPath:       filepath.Join(dir, "system.conf"),
		Slots: []*conf.Slot{
			{Name: "rootfs.0", Class: "rootfs", Device: dev0,
				Type: "ext4", Bootname: "A"},
			{Name: "rootfs.1", Class: "rootfs", Device: dev1,
				Type: "ext4", Bootname: "B"},
		},
	}

	mounter := newFakeMounter()
	loader := &fakeBootloader{}

	for _, slot := range config.Slots {
		backing := filepath.Join(dir, "fs-"+slot.Name)
		require.NoError(t, os.Mkdir(backing, 0755))
		mounter.slotDirs[slot.Name] = backing
	}

	ctx := &Context{
		Config:     config,
		Bootname:   boot.StaticProvider(dev0),
		Bootloader: loader,
		Mounter:    mounter,
		Cmd:        system.OsCalls{},
		Verifier:   bundle.NopVerifier{},
		Client:     client.New(),
		Progress:   NewProgress(nil),
	}

	restoreMounts := getMounts
	getMounts = func() ([]system.MountEntry, error) { return nil, nil }
	t.Cleanup(func() { getMounts = restoreMounts })

	return &testEnv{
		dir:        dir,
		config:     config,
		ctx:        ctx,
		mounter:    mounter,
		bootloader: loader,
	}
}

// slotDir returns the fake filesystem directory backing a slot.
func (e *testEnv) slotDir(name string) string {
	return e.mounter.slotDirs[name]
}

// makeBundle materializes a fake mounted-bundle directory for path and
// registers it with the mounter.
func (e *testEnv) makeBundle(t *testing.T, path, manifest string,
	payloads map[string]string) {
	t.Helper()

	content := filepath.Join(e.dir, "bundle-content")
	require.NoError(t, os.RemoveAll(content))
	require.NoError(t, os.Mkdir(content, 0755))
	require.NoError(t, ioutil.WriteFile(
		filepath.Join(content, bundle.ManifestName), []byte(manifest), 0644))
	for name, data := range payloads {
		require.NoError(t, ioutil.WriteFile(
			filepath.Join(content, name), []byte(data), 0755))
	}
	require.NoError(t, ioutil.WriteFile(path, []byte("bundle"), 0644))
	e.mounter.bundleDirs[path] = content
}

// runInstall drives a request to its terminal state.
func (e *testEnv) runInstall(t *testing.T, req *InstallRequest) {
	t.Helper()

	done := make(chan struct{})
	req.Cleanup = func(*InstallRequest) { close(done) }

	require.NoError(t, InstallRun(e.ctx, req))
	<-done
}

// statusMessages drains the request FIFO.
func statusMessages(req *InstallRequest) []string {
	var messages []string
	for {
		message, ok := req.PopStatus()
		if !ok {
			return messages
		}
		messages = append(messages, message)
	}
}

func containsMessage(messages []string, want string) bool {
	for _, m := range messages {
		if m == want {
			return true
		}
	}
	return false
}
