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
	"os"
	"strings"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/ungerik/go-sysfs"
	"golang.org/x/sys/unix"
)

// This is a bit weird, Syscall() says it accepts uintptr in the request field,
// but this in fact not true. By inspecting the calls with strace, it's clear
// that the pointer value is being passed as an int to ioctl(), which is just
// wrong. So write the ioctl request value (int) directly into the pointer value
// instead.
type ioctlRequestValue uintptr

var NotABlockDevice = errors.New("Not a block device.")

// IsUbiVolume reports whether the device path refers to an UBI volume
// character device (e.g. /dev/ubi0_1).
func IsUbiVolume(device string) bool {
	name := strings.TrimPrefix(device, "/dev/")
	return sysfs.Class.Object("ubi").SubObject(name).Exists()
}

// SetUbiUpdateVolume starts an UBI volume update on the opened volume,
// declaring the number of bytes that will be written.
func SetUbiUpdateVolume(file *os.File, imageSize int64) error {
	return ioctlWrite(file.Fd(), UBI_IOCVOLUP, imageSize)
}

// GetBlockDeviceSize returns the size of the block device in bytes.
func GetBlockDeviceSize(file *os.File) (uint64, error) {
	return ioctlRead(file.Fd(), ioctlRequestValue(unix.BLKGETSIZE64))
}

// Returns value in first return. Second returns error condition. If the
// device is not a block device NotABlockDevice error and value 0 will be
// returned.
func ioctlRead(fd uintptr, request ioctlRequestValue) (uint64, error) {
	var response uint64
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, fd,
		uintptr(unsafe.Pointer(request)),
		uintptr(unsafe.Pointer(&response)))

	if errno == syscall.ENOTTY {
		// This means the descriptor is not a block device.
		// ENOTTY... weird, I know.
		return 0, NotABlockDevice
	} else if errno != 0 {
		return 0, errno
	}

	return response, nil
}

func ioctlWrite(fd uintptr, request ioctlRequestValue, data int64) error {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, fd,
		uintptr(unsafe.Pointer(request)),
		uintptr(unsafe.Pointer(&data)))

	if errno == syscall.ENOTTY {
		return NotABlockDevice
	} else if errno != 0 {
		return errno
	}

	return nil
}
