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
	log "github.com/sirupsen/logrus"

	"github.com/rauc/rauc-go/conf"
	"github.com/rauc/rauc-go/system"
)

// Seam for tests; topology discovery reads the kernel mount table.
var getMounts = system.GetMounts

// DetermineSlotStates discovers which slot the system booted from and derives
// the active/inactive state of every configured slot. After success exactly
// one slot is booted, and a slot is active iff itself or an ancestor is
// booted.
func DetermineSlotStates(ctx *Context) error {
	success := false
	ctx.Progress.BeginStep("determine_slot_states",
		"Determining slot states", 0)
	defer func() { ctx.Progress.EndStep("determine_slot_states", success) }()

	config := ctx.Config
	if len(config.Slots) == 0 {
		return ErrNoSlotsConfigured
	}

	// Record mount points of slots that are currently mounted, resolving
	// loop devices to their backing file.
	mounts, err := getMounts()
	if err != nil {
		return err
	}
	for _, m := range mounts {
		device := system.ResolveLoopDevice(m.Device)
		if slot := config.FindSlotByDevice(device); slot != nil {
			slot.MountPoint = m.MountPoint
			log.Debugf("Found mountpoint for slot %s at %s",
				slot.Name, slot.MountPoint)
		}
	}

	bootname, err := ctx.Bootname.Bootname()
	if err != nil {
		return err
	}

	for _, slot := range config.Slots {
		if slot.Bootname == "" && slot.Parent != nil {
			log.Warnf("Warning: No bootname configured for %s", slot.Name)
		}
	}

	booted := config.FindSlotByBootname(bootname)
	if booted == nil {
		booted = config.FindSlotByDevice(bootname)
	}
	if booted == nil {
		return ErrBootedSlotNotFound
	}

	booted.State = conf.StateBooted
	log.Debugf("Found booted slot: %s on %s", booted.Name, booted.Device)

	// Activity is inherited: a slot is active iff itself or any ancestor
	// is booted.
	for _, slot := range config.Slots {
		if slot == booted {
			continue
		}
		state := conf.StateInactive
		for cur := slot; cur != nil; cur = cur.Parent {
			if cur.State.Booted() {
				state = conf.StateActive
				break
			}
		}
		slot.State = state
	}

	success = true
	return nil
}
