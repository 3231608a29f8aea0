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
package system

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/ungerik/go-sysfs"
)

const mountsFile = "/proc/self/mounts"

// MountEntry is one line of the kernel mount table.
type MountEntry struct {
	Device     string
	MountPoint string
	FSType     string
}

// GetMounts enumerates the currently mounted filesystems.
func GetMounts() ([]MountEntry, error) {
	file, err := os.Open(mountsFile)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed opening %s", mountsFile)
	}
	defer file.Close()

	return ParseMounts(file), nil
}

// ParseMounts parses mount table lines in /proc/self/mounts format.
func ParseMounts(r io.Reader) []MountEntry {
	var mounts []MountEntry

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		mounts = append(mounts, MountEntry{
			Device:     fields[0],
			MountPoint: fields[1],
			FSType:     fields[2],
		})
	}

	return mounts
}

// loopBackingFile reads the backing file of a loop device from sysfs; seam
// for tests.
var loopBackingFile = func(name string) (string, error) {
	attr := sysfs.Block.Object(name).Attribute("loop/backing_file")
	if !attr.Exists() {
		return "", errors.Errorf("loop device %s has no backing file", name)
	}
	return attr.Read()
}

// ResolveLoopDevice maps a loop device path to its backing file. Any other
// path, and any loop device without a backing file, is returned unchanged.
func ResolveLoopDevice(device string) string {
	if !strings.HasPrefix(device, "/dev/loop") {
		return device
	}

	backing, err := loopBackingFile(strings.TrimPrefix(device, "/dev/"))
	if err != nil {
		return device
	}
	return strings.TrimSpace(backing)
}
