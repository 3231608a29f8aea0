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

// Package bootloader drives the platform bootloader's redundancy state. Only
// base slots carry a bootloader identity; the install orchestrator is the
// single call site.
package bootloader

import (
	"github.com/pkg/errors"

	"github.com/rauc/rauc-go/conf"
	"github.com/rauc/rauc-go/system"
)

// Bootloader is the per-platform capability consumed by the orchestrator.
type Bootloader interface {
	// SetState marks the base slot good or bad in the bootloader's state.
	SetState(slot *conf.Slot, good bool) error
	// SetPrimary makes the base slot the next-boot default.
	SetPrimary(slot *conf.Slot) error
}

// New returns the backend for the configured system bootloader.
func New(config *conf.Config, cmd system.Commander) (Bootloader, error) {
	switch config.SystemBootloader {
	case "uboot":
		return newUBoot(config, cmd), nil
	case "barebox":
		return newBarebox(cmd), nil
	case "grub":
		return newGrub(config, cmd), nil
	case "efi":
		return newEFI(cmd), nil
	case "noop":
		return &Noop{}, nil
	}
	return nil, errors.Errorf("Unsupported bootloader '%s'",
		config.SystemBootloader)
}

func checkBootname(slot *conf.Slot) error {
	if slot == nil {
		return errors.New("No slot given")
	}
	if slot.Bootname == "" {
		return errors.Errorf("Slot %s has no bootname", slot.Name)
	}
	return nil
}
