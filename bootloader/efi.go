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
package bootloader

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/rauc/rauc-go/conf"
	"github.com/rauc/rauc-go/system"
)

// EFI matches slot bootnames against EFI boot entry labels and manipulates
// the boot variables with efibootmgr.
type EFI struct {
	cmd system.Commander
}

func newEFI(cmd system.Commander) *EFI {
	return &EFI{cmd: cmd}
}

var (
	efiEntryRegex = regexp.MustCompile(`^Boot([0-9A-Fa-f]{4})\*?\s+(.*)$`)
	efiOrderRegex = regexp.MustCompile(`^BootOrder:\s*(\S+)$`)
)

// parseEFIEntries maps boot entry labels to their four-digit entry numbers.
func parseEFIEntries(output string) map[string]string {
	entries := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		m := efiEntryRegex.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		// The label is everything up to the device path column.
		label := strings.TrimSpace(strings.SplitN(m[2], "\t", 2)[0])
		if label != "" {
			entries[label] = m[1]
		}
	}
	return entries
}

func parseEFIOrder(output string) []string {
	for _, line := range strings.Split(output, "\n") {
		m := efiOrderRegex.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		return strings.Split(m[1], ",")
	}
	return nil
}

func (e *EFI) entryNumber(bootname string) (string, error) {
	output, err := e.cmd.Command("efibootmgr").Output()
	if err != nil {
		return "", errors.Wrap(err, "efibootmgr failed")
	}

	number, ok := parseEFIEntries(string(output))[bootname]
	if !ok {
		return "", errors.Errorf("No EFI boot entry labeled '%s'", bootname)
	}
	return number, nil
}

func (e *EFI) SetState(slot *conf.Slot, good bool) error {
	if err := checkBootname(slot); err != nil {
		return err
	}

	number, err := e.entryNumber(slot.Bootname)
	if err != nil {
		return err
	}

	activate := "-A"
	if good {
		activate = "-a"
	}

	log.Debugf("Setting EFI entry %s (%s) active=%v",
		number, slot.Bootname, good)
	if err := e.cmd.Command("efibootmgr", "-b", number, activate).Run(); err != nil {
		return errors.Wrapf(err, "efibootmgr -b %s %s failed", number, activate)
	}
	return nil
}

func (e *EFI) SetPrimary(slot *conf.Slot) error {
	if err := checkBootname(slot); err != nil {
		return err
	}

	output, err := e.cmd.Command("efibootmgr").Output()
	if err != nil {
		return errors.Wrap(err, "efibootmgr failed")
	}

	number, ok := parseEFIEntries(string(output))[slot.Bootname]
	if !ok {
		return errors.Errorf("No EFI boot entry labeled '%s'", slot.Bootname)
	}

	order := []string{number}
	for _, entry := range parseEFIOrder(string(output)) {
		if entry != number {
			order = append(order, entry)
		}
	}

	log.Debugf("Setting EFI boot order to %v", order)
	err = e.cmd.Command("efibootmgr", "-o", strings.Join(order, ",")).Run()
	if err != nil {
		return errors.Wrap(err, "efibootmgr -o failed")
	}
	// Re-activate in case a failed update left the entry disabled.
	return e.SetState(slot, true)
}
