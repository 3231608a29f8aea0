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
package conf

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `[system]
compatible=FooCorp Super BarBazzer
bootloader=barebox
mountprefix=/mnt/myrauc

[handlers]
pre-install=/usr/lib/rauc/pre-install
post-install=/usr/lib/rauc/post-install

[slot.rootfs.0]
device=/dev/sda2
type=ext4
bootname=system0

[slot.rootfs.1]
device=/dev/sda3
type=ext4
bootname=system1

[slot.appfs.0]
device=/dev/sda4
type=ext4
parent=rootfs.0

[slot.appfs.1]
device=/dev/sda5
type=ext4
parent=rootfs.1
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir, err := ioutil.TempDir("", "rauc-conf")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "system.conf")
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, testConfig)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "FooCorp Super BarBazzer", config.SystemCompatible)
	assert.Equal(t, "barebox", config.SystemBootloader)
	assert.Equal(t, "/mnt/myrauc", config.MountPrefix)
	assert.Equal(t, DefaultStateDir, config.StateDir)
	assert.Equal(t, "/usr/lib/rauc/pre-install", config.PreInstallHandler)
	assert.Equal(t, "/usr/lib/rauc/post-install", config.PostInstallHandler)
	assert.Equal(t, path, config.ConfigPath)

	require.Len(t, config.Slots, 4)

	rootfs0 := config.SlotByName("rootfs.0")
	require.NotNil(t, rootfs0)
	assert.Equal(t, "rootfs", rootfs0.Class)
	assert.Equal(t, "/dev/sda2", rootfs0.Device)
	assert.Equal(t, "ext4", rootfs0.Type)
	assert.Equal(t, "system0", rootfs0.Bootname)
	assert.True(t, rootfs0.IsBase())

	appfs1 := config.SlotByName("appfs.1")
	require.NotNil(t, appfs1)
	require.NotNil(t, appfs1.Parent)
	assert.Equal(t, "rootfs.1", appfs1.Parent.Name)
	assert.Equal(t, "rootfs.1", appfs1.Base().Name)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `[system]
compatible=dev
bootloader=noop

[slot.rootfs.0]
device=/dev/sda2
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultMountPrefix, config.MountPrefix)
	assert.Equal(t, "raw", config.SlotByName("rootfs.0").Type)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := map[string]string{
		"missing system section": `[slot.rootfs.0]
device=/dev/sda2
`,
		"missing compatible": `[system]
bootloader=grub

[slot.rootfs.0]
device=/dev/sda2
`,
		"bad bootloader": `[system]
compatible=dev
bootloader=lilo

[slot.rootfs.0]
device=/dev/sda2
`,
		"no slots": `[system]
compatible=dev
bootloader=grub
`,
		"slot without device": `[system]
compatible=dev
bootloader=grub

[slot.rootfs.0]
type=ext4
`,
		"unknown parent": `[system]
compatible=dev
bootloader=grub

[slot.rootfs.0]
device=/dev/sda2
parent=nosuch.0
`,
		"bad slot section": `[system]
compatible=dev
bootloader=grub

[slot.rootfs]
device=/dev/sda2
`,
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigRejectsParentCycle(t *testing.T) {
	path := writeConfig(t, `[system]
compatible=dev
bootloader=grub

[slot.a.0]
device=/dev/sda1
parent=b.0

[slot.b.0]
device=/dev/sda2
parent=a.0
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cyclic parent chain")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/system.conf")
	assert.Error(t, err)
}
