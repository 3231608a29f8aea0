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
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/rauc/rauc-go/bundle"
	"github.com/rauc/rauc-go/system"
)

const copyChunkSize = 8192

// Replaceable for tests that cannot issue the real volume-update ioctl.
var ubiUpdateVolume = system.SetUbiUpdateVolume

// CopyImage streams a filesystem image onto a slot device. For ubifs
// destinations the UBI volume update ioctl is issued with the image size
// before streaming. Either exactly the image size is written and nil
// returned, or an error; a partial write is never reported as success.
func CopyImage(ctx *Context, srcPath, destDevice, fsType string) error {
	success := false
	ctx.Progress.BeginStep("copy_image", "Copying image", 0)
	defer func() { ctx.Progress.EndStep("copy_image", success) }()

	src, err := os.Open(srcPath)
	if err != nil {
		return errors.Wrap(err, "failed to open file for reading")
	}
	defer src.Close()

	imageSize, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return errors.Wrap(err, "src image seek failed")
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "src image seek failed")
	}

	log.Debugf("Input image size is %d bytes", imageSize)
	if imageSize == 0 {
		return ErrEmptyImage
	}

	dest, err := os.OpenFile(destDevice, os.O_WRONLY, 0)
	if err != nil {
		return errors.Wrap(err, "opening output device failed")
	}

	if fsType == "ubifs" {
		// Set up the UBI volume for the image copy.
		if err := ubiUpdateVolume(dest, imageSize); err != nil {
			dest.Close()
			return errors.Wrap(err, "ubi volume update failed")
		}
	}

	written, err := copyWithProgress(ctx, dest, src, imageSize)
	if cerr := dest.Close(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, "closing output device failed")
	}
	if err != nil {
		return errors.Wrap(err, "failed splicing data")
	}
	if written != imageSize {
		return ErrShortWrite
	}

	success = true
	return nil
}

// copyWithProgress streams src to dest in fixed-size chunks, publishing the
// integral copy percentage whenever it changes.
func copyWithProgress(ctx *Context, dest io.Writer, src io.Reader,
	imageSize int64) (int64, error) {

	buffer := make([]byte, copyChunkSize)
	var written int64

	for {
		n, err := src.Read(buffer)
		if n > 0 {
			w, werr := dest.Write(buffer[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
			if w != n {
				return written, io.ErrShortWrite
			}

			percent := int(written * 100 / imageSize)
			ctx.Progress.SetStepPercentage("copy_image", percent)
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

// copyFile copies a regular file, creating or truncating the destination.
func copyFile(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return errors.Wrapf(err, "Failed opening %s", srcPath)
	}
	defer src.Close()

	dest, err := os.OpenFile(destPath,
		os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(err, "Failed opening %s", destPath)
	}

	_, err = io.Copy(dest, src)
	if cerr := dest.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrapf(err, "Failed copying %s to %s", srcPath, destPath)
	}
	return nil
}

// reuseExistingFile searches all currently mounted slots for a file with the
// destination's basename that matches the wanted checksum, and copies the
// first match over the destination. Reporting true means the destination now
// verifies. This avoids redundant downloads during network installs.
func reuseExistingFile(ctx *Context, checksum *bundle.Checksum,
	destPath string) bool {

	basename := filepath.Base(destPath)

	for _, slot := range ctx.Config.Slots {
		if slot.MountPoint == "" {
			continue
		}
		srcPath := filepath.Join(slot.MountPoint, basename)
		if checksum.VerifyFile(srcPath) != nil {
			continue
		}

		os.Remove(destPath)
		if err := copyFile(srcPath, destPath); err != nil {
			log.Warnf("Failed to copy file from %s to %s: %v",
				srcPath, destPath, err)
			continue
		}
		return true
	}

	return false
}
