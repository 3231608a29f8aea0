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
	"github.com/pkg/errors"
	ini "gopkg.in/ini.v1"

	"github.com/rauc/rauc-go/bundle"
)

// SlotStatusName is the per-slot status file inside the slot's root
// directory.
const SlotStatusName = "slot.raucs"

const (
	SlotStatusOK     = "ok"
	SlotStatusUpdate = "update"
)

// SlotStatus is the persisted per-slot install state. An absent or unloadable
// file means the slot needs an update.
type SlotStatus struct {
	Status   string
	Checksum bundle.Checksum

	// Underlying keyfile; carried so keys written by other tools survive a
	// rewrite.
	file *ini.File
}

// NewSlotStatus returns the status used when no file can be loaded.
func NewSlotStatus() *SlotStatus {
	return &SlotStatus{Status: SlotStatusUpdate}
}

// LoadSlotStatus reads a slot.raucs file. A zero-length or key-less file is
// valid and yields status "update".
func LoadSlotStatus(path string) (*SlotStatus, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed loading slot status %s", path)
	}

	section := file.Section("slot")
	status := &SlotStatus{
		Status: section.Key("status").String(),
		Checksum: bundle.Checksum{
			Type:   section.Key("checksum.type").String(),
			Digest: section.Key("sha256").String(),
		},
		file: file,
	}
	if status.Status == "" {
		status.Status = SlotStatusUpdate
	}
	if status.Checksum.Digest != "" && status.Checksum.Type == "" {
		status.Checksum.Type = bundle.ChecksumSHA256
	}

	return status, nil
}

// Save writes the status file, preserving keys it does not own.
func (s *SlotStatus) Save(path string) error {
	file := s.file
	if file == nil {
		file = ini.Empty()
	}

	section := file.Section("slot")
	section.Key("status").SetValue(s.Status)
	if s.Checksum.Digest != "" {
		section.Key("checksum.type").SetValue(s.Checksum.Type)
		section.Key("sha256").SetValue(s.Checksum.Digest)
	}

	if err := file.SaveTo(path); err != nil {
		return errors.Wrapf(err, "Failed writing slot status %s", path)
	}
	return nil
}
