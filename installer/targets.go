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
	log "github.com/sirupsen/logrus"

	"github.com/rauc/rauc-go/bundle"
	"github.com/rauc/rauc-go/conf"
)

// TargetGroup maps each manifest-referenced slot class to the selected
// inactive target slot. Iteration order is the class reference order.
type TargetGroup struct {
	classes []string
	slots   map[string]*conf.Slot
}

func (g *TargetGroup) add(class string, slot *conf.Slot) {
	if g.slots == nil {
		g.slots = make(map[string]*conf.Slot)
	}
	g.classes = append(g.classes, class)
	g.slots[class] = slot
}

// Get returns the target slot for a class, or nil.
func (g *TargetGroup) Get(class string) *conf.Slot {
	return g.slots[class]
}

// Slots returns the target slots in class reference order.
func (g *TargetGroup) Slots() []*conf.Slot {
	slots := make([]*conf.Slot, 0, len(g.classes))
	for _, class := range g.classes {
		slots = append(slots, g.slots[class])
	}
	return slots
}

// BaseSlots returns the target slots that are base slots with a bootloader
// identity, in class reference order. These are the slots handed to the
// bootloader.
func (g *TargetGroup) BaseSlots() []*conf.Slot {
	var bases []*conf.Slot
	for _, slot := range g.Slots() {
		if slot.IsBase() && slot.Bootname != "" {
			bases = append(bases, slot)
		}
	}
	return bases
}

// referencedClasses collects the slot classes a manifest references, images
// first, then files. A class referenced again is moved to the later
// position: each class appears once, last occurrence wins.
func referencedClasses(manifest *bundle.Manifest) []string {
	var classes []string

	appendLast := func(class string) {
		for i, existing := range classes {
			if existing == class {
				classes = append(classes[:i], classes[i+1:]...)
				break
			}
		}
		classes = append(classes, class)
	}

	for _, image := range manifest.Images {
		appendLast(image.SlotClass)
	}
	for _, file := range manifest.Files {
		appendLast(file.SlotClass)
	}

	return classes
}

// inactiveBaseSlot walks up the parent chain and returns the highest ancestor
// that is still inactive, or nil when the chain reaches an active slot.
func inactiveBaseSlot(slot *conf.Slot) *conf.Slot {
	base := slot
	if base.State != conf.StateInactive {
		return nil
	}
	for base.Parent != nil {
		if base.Parent.State != conf.StateInactive {
			return nil
		}
		base = base.Parent
	}
	return base
}

// DetermineTargetInstallGroup selects one inactive target slot per class the
// manifest references. Selections are consistent: slots whose base classes
// conflict never end up on different base slots.
func DetermineTargetInstallGroup(ctx *Context,
	manifest *bundle.Manifest) (*TargetGroup, error) {

	success := false
	ctx.Progress.BeginStep("determine_target_install_group",
		"Determining target install group", 0)
	defer func() {
		ctx.Progress.EndStep("determine_target_install_group", success)
	}()

	// Base slots already reserved for this install, by base slot class.
	bases := make(map[string]*conf.Slot)
	group := &TargetGroup{}

	for _, class := range referencedClasses(manifest) {
		var target *conf.Slot

		for _, candidate := range ctx.Config.InactiveClassMembers(class) {
			base := inactiveBaseSlot(candidate)
			if base == nil {
				continue
			}
			if known, ok := bases[base.Class]; ok {
				// Another base is already selected for this base
				// class; candidates on a different base are skipped.
				if known != base {
					continue
				}
			} else {
				bases[base.Class] = base
			}
			target = candidate
			break
		}

		if target == nil {
			return nil, errors.Errorf("No target for class '%s' found", class)
		}

		log.Infof("Adding to target group: %s -> %s", class, target.Name)
		group.add(class, target)
	}

	success = true
	return group, nil
}
