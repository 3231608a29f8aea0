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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rauc/rauc-go/bundle"
	"github.com/rauc/rauc-go/conf"
)

func manifestFor(classes ...string) *bundle.Manifest {
	m := &bundle.Manifest{UpdateCompatible: "dev"}
	for _, class := range classes {
		m.Images = append(m.Images, &bundle.Image{
			SlotClass: class,
			Filename:  class + ".img",
			Checksum:  bundle.Checksum{Type: "sha256", Digest: "aa"},
		})
	}
	return m
}

func TestTargetSelectionSimpleAB(t *testing.T) {
	withMounts(t, nil)
	slots := abSlots()
	ctx := topologyContext(slots, "A")
	require.NoError(t, DetermineSlotStates(ctx))

	group, err := DetermineTargetInstallGroup(ctx, manifestFor("rootfs"))
	require.NoError(t, err)

	target := group.Get("rootfs")
	require.NotNil(t, target)
	assert.Equal(t, "rootfs.1", target.Name)
	assert.Len(t, group.Slots(), 1)
}

func TestTargetSelectionParentGrouping(t *testing.T) {
	withMounts(t, nil)
	slots := abSlots()
	ctx := topologyContext(slots, "A")
	require.NoError(t, DetermineSlotStates(ctx))

	group, err := DetermineTargetInstallGroup(ctx,
		manifestFor("rootfs", "appfs"))
	require.NoError(t, err)

	rootfs := group.Get("rootfs")
	appfs := group.Get("appfs")
	require.NotNil(t, rootfs)
	require.NotNil(t, appfs)
	assert.Equal(t, "rootfs.1", rootfs.Name)
	assert.Equal(t, "appfs.1", appfs.Name)
	// The appfs selection must sit on the rootfs selection's base.
	assert.Equal(t, rootfs, appfs.Base())
}

func TestTargetSelectionConsistentBases(t *testing.T) {
	withMounts(t, nil)
	// Two independent child slots (appfs, datafs) per rootfs base; the
	// reservation table must keep all selections on one base.
	rootfs0 := &conf.Slot{Name: "rootfs.0", Class: "rootfs",
		Device: "/dev/sda2", Bootname: "A"}
	rootfs1 := &conf.Slot{Name: "rootfs.1", Class: "rootfs",
		Device: "/dev/sda3", Bootname: "B"}
	appfs0 := &conf.Slot{Name: "appfs.0", Class: "appfs",
		Device: "/dev/sda4", Parent: rootfs0}
	appfs1 := &conf.Slot{Name: "appfs.1", Class: "appfs",
		Device: "/dev/sda5", Parent: rootfs1}
	datafs0 := &conf.Slot{Name: "datafs.0", Class: "datafs",
		Device: "/dev/sda6", Parent: rootfs0}
	datafs1 := &conf.Slot{Name: "datafs.1", Class: "datafs",
		Device: "/dev/sda7", Parent: rootfs1}

	slots := []*conf.Slot{rootfs0, rootfs1, appfs0, appfs1, datafs0, datafs1}
	ctx := topologyContext(slots, "B")
	require.NoError(t, DetermineSlotStates(ctx))

	group, err := DetermineTargetInstallGroup(ctx,
		manifestFor("appfs", "datafs", "rootfs"))
	require.NoError(t, err)

	// Booted on B, so everything must land on the rootfs.0 base.
	assert.Equal(t, "appfs.0", group.Get("appfs").Name)
	assert.Equal(t, "datafs.0", group.Get("datafs").Name)
	assert.Equal(t, "rootfs.0", group.Get("rootfs").Name)

	// No two selections share a base slot unless they have the same base.
	bases := make(map[string]bool)
	for _, slot := range group.Slots() {
		bases[slot.Base().Name] = true
	}
	assert.Len(t, bases, 1)
}

func TestTargetSelectionNoInactiveMember(t *testing.T) {
	withMounts(t, nil)
	slots := abSlots()
	ctx := topologyContext(slots, "A")
	require.NoError(t, DetermineSlotStates(ctx))

	_, err := DetermineTargetInstallGroup(ctx, manifestFor("bootfs"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No target for class 'bootfs'")
}

func TestReferencedClassesDedupPreservesLastOccurrence(t *testing.T) {
	manifest := &bundle.Manifest{
		UpdateCompatible: "dev",
		Images: []*bundle.Image{
			{SlotClass: "rootfs"},
			{SlotClass: "appfs"},
		},
		Files: []*bundle.File{
			{SlotClass: "rootfs", DestName: "vmlinuz"},
		},
	}

	// rootfs is re-referenced by a file, so it moves behind appfs.
	assert.Equal(t, []string{"appfs", "rootfs"},
		referencedClasses(manifest))
}

func TestBaseSlotsOfTargetGroup(t *testing.T) {
	withMounts(t, nil)
	slots := abSlots()
	ctx := topologyContext(slots, "A")
	require.NoError(t, DetermineSlotStates(ctx))

	group, err := DetermineTargetInstallGroup(ctx,
		manifestFor("appfs", "rootfs"))
	require.NoError(t, err)

	bases := group.BaseSlots()
	require.Len(t, bases, 1)
	assert.Equal(t, "rootfs.1", bases[0].Name)
}
