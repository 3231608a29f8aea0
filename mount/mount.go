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

// Package mount mounts and unmounts slots and bundles below the configured
// mount prefix. All mounting is delegated to mount(8) so that filesystem
// specific behavior (ubifs, squashfs loop setup) stays with the platform
// tools.
package mount

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/rauc/rauc-go/conf"
	"github.com/rauc/rauc-go/system"
)

// Mounter is the mount helper used by the install worker. Every mount
// acquired through it must be released with Unmount on all exit paths.
type Mounter interface {
	MountSlot(slot *conf.Slot, mountpoint string) error
	MountBundle(path, mountpoint string) error
	Unmount(mountpoint string) error
}

// SystemMounter runs the platform mount tools through a Commander.
type SystemMounter struct {
	Cmd system.Commander
}

func NewSystemMounter(cmd system.Commander) *SystemMounter {
	return &SystemMounter{Cmd: cmd}
}

// MountSlot mounts a slot's device read-write on mountpoint, keyed on the
// slot type. Raw slots carry no filesystem and cannot be mounted.
func (m *SystemMounter) MountSlot(slot *conf.Slot, mountpoint string) error {
	var args []string

	switch slot.Type {
	case "ext4", "vfat":
		args = []string{"-t", slot.Type, slot.Device, mountpoint}
	case "ubifs":
		args = []string{"-t", "ubifs", slot.Device, mountpoint}
	case "raw":
		return errors.Errorf("Cannot mount raw slot %s", slot.Name)
	default:
		return errors.Errorf("Unsupported slot type '%s' for slot %s",
			slot.Type, slot.Name)
	}

	log.Debugf("Mounting %s to %s", slot.Device, mountpoint)
	if err := m.Cmd.Command("mount", args...).Run(); err != nil {
		return errors.Wrapf(err, "Failed mounting %s to %s",
			slot.Device, mountpoint)
	}
	return nil
}

// MountBundle loop-mounts a bundle file read-only on mountpoint.
func (m *SystemMounter) MountBundle(path, mountpoint string) error {
	args := []string{"-t", "squashfs", "-o", "ro,loop", path, mountpoint}

	log.Debugf("Mounting bundle %s to %s", path, mountpoint)
	if err := m.Cmd.Command("mount", args...).Run(); err != nil {
		return errors.Wrapf(err, "Failed mounting %s to %s", path, mountpoint)
	}
	return nil
}

func (m *SystemMounter) Unmount(mountpoint string) error {
	log.Debugf("Unmounting %s", mountpoint)
	if err := m.Cmd.Command("umount", mountpoint).Run(); err != nil {
		return errors.Wrapf(err, "Failed unmounting %s", mountpoint)
	}
	return nil
}

// CreateMountPoint materializes a mount point directory below the mount
// prefix. The prefix itself must already exist.
func CreateMountPoint(prefix, name string) (string, error) {
	info, err := os.Stat(prefix)
	if err != nil || !info.IsDir() {
		return "", errors.Errorf("mount prefix path %s does not exist", prefix)
	}

	mountpoint := filepath.Join(prefix, name)
	if info, err := os.Stat(mountpoint); err == nil && info.IsDir() {
		return mountpoint, nil
	}

	if err := os.Mkdir(mountpoint, 0700); err != nil {
		return "", errors.Wrapf(err, "Failed creating mount path '%s'",
			mountpoint)
	}
	return mountpoint, nil
}
