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
	"sort"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	ini "gopkg.in/ini.v1"
)

const (
	DefaultConfigFile  = "/etc/rauc/system.conf"
	DefaultMountPrefix = "/mnt/rauc"
	DefaultStateDir    = "/var/lib/rauc"

	slotSectionPrefix = "slot."
)

var supportedBootloaders = map[string]bool{
	"grub":    true,
	"uboot":   true,
	"barebox": true,
	"efi":     true,
	"noop":    true,
}

// Config is the process-wide system configuration. It is initialized before
// any install and read-only while an install is running.
type Config struct {
	// Opaque token matched against the manifest's compatible string.
	SystemCompatible string
	// One of grub, uboot, barebox, efi, noop.
	SystemBootloader string
	// Existing directory used to materialize per-step mount points.
	MountPrefix string
	// Directory holding the persistent engine state.
	StateDir string

	PreInstallHandler  string
	PostInstallHandler string

	// Path the configuration was loaded from; exported to handlers as
	// RAUC_SYSTEM_CONFIG.
	ConfigPath string

	// Slots in configuration order.
	Slots []*Slot
}

// LoadConfig reads the system configuration keyfile. The file carries a
// [system] section, an optional [handlers] section and one [slot.<class>.<n>]
// section per slot:
//
//	[system]
//	compatible=FooCorp Super BarBazzer
//	bootloader=barebox
//
//	[slot.rootfs.0]
//	device=/dev/sda2
//	type=ext4
//	bootname=system0
func LoadConfig(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed loading config file %s", path)
	}

	config, err := configFromIni(file)
	if err != nil {
		return nil, errors.Wrapf(err, "Invalid config file %s", path)
	}
	config.ConfigPath = path

	log.Debugf("Loaded configuration with %d slot(s) from %s",
		len(config.Slots), path)
	return config, nil
}

func configFromIni(file *ini.File) (*Config, error) {
	system, err := file.GetSection("system")
	if err != nil {
		return nil, errors.New("Missing [system] section")
	}

	config := &Config{
		SystemCompatible: system.Key("compatible").String(),
		SystemBootloader: system.Key("bootloader").String(),
		MountPrefix:      system.Key("mountprefix").String(),
		StateDir:         system.Key("statedir").String(),
	}

	if config.SystemCompatible == "" {
		return nil, errors.New("Missing system compatible string")
	}
	if !supportedBootloaders[config.SystemBootloader] {
		return nil, errors.Errorf("Unsupported bootloader '%s'",
			config.SystemBootloader)
	}
	if config.MountPrefix == "" {
		config.MountPrefix = DefaultMountPrefix
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}

	if handlers, err := file.GetSection("handlers"); err == nil {
		config.PreInstallHandler = handlers.Key("pre-install").String()
		config.PostInstallHandler = handlers.Key("post-install").String()
	}

	if err := config.loadSlots(file); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) loadSlots(file *ini.File) error {
	// Collect slot sections and sort by name so the class.index convention
	// yields a deterministic configuration order even when sections are
	// scattered through the file.
	var names []string
	for _, section := range file.Sections() {
		if strings.HasPrefix(section.Name(), slotSectionPrefix) {
			names = append(names, section.Name())
		}
	}
	sort.Strings(names)

	parents := make(map[string]string)
	for _, name := range names {
		section := file.Section(name)
		slotName := strings.TrimPrefix(name, slotSectionPrefix)

		idx := strings.LastIndex(slotName, ".")
		if idx <= 0 {
			return errors.Errorf("Invalid slot section name '%s'", name)
		}

		slot := &Slot{
			Name:     slotName,
			Class:    slotName[:idx],
			Device:   section.Key("device").String(),
			Type:     section.Key("type").String(),
			Bootname: section.Key("bootname").String(),
			ReadOnly: section.Key("readonly").MustBool(false),
		}
		if slot.Device == "" {
			return errors.Errorf("Slot '%s' has no device", slotName)
		}
		if slot.Type == "" {
			slot.Type = "raw"
		}
		if parent := section.Key("parent").String(); parent != "" {
			parents[slotName] = parent
		}

		c.Slots = append(c.Slots, slot)
	}

	if len(c.Slots) == 0 {
		return errors.New("No slots configured")
	}

	for name, parentName := range parents {
		slot := c.SlotByName(name)
		parent := c.SlotByName(parentName)
		if parent == nil {
			return errors.Errorf("Slot '%s' references unknown parent '%s'",
				name, parentName)
		}
		slot.Parent = parent
	}

	return c.checkSlotGraph()
}

// checkSlotGraph rejects cyclic parent chains. The parent relation must form
// a forest rooted at the base slots.
func (c *Config) checkSlotGraph() error {
	for _, slot := range c.Slots {
		seen := map[*Slot]bool{slot: true}
		for cur := slot.Parent; cur != nil; cur = cur.Parent {
			if seen[cur] {
				return errors.Errorf(
					"Cyclic parent chain involving slot '%s'", slot.Name)
			}
			seen[cur] = true
		}
	}
	return nil
}
