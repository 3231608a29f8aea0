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
	"fmt"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/rauc/rauc-go/conf"
	"github.com/rauc/rauc-go/system"
)

const ubootDefaultAttempts = "3"

// UBoot drives the U-Boot environment with fw_setenv. Each base slot has a
// BOOT_<bootname>_LEFT attempts counter and BOOT_ORDER lists the bootnames in
// try order.
type UBoot struct {
	cmd system.Commander
	// All base bootnames in configuration order; used to rebuild
	// BOOT_ORDER.
	order []string
}

func newUBoot(config *conf.Config, cmd system.Commander) *UBoot {
	return &UBoot{
		cmd:   cmd,
		order: config.BaseBootnames(),
	}
}

func (u *UBoot) setenv(name, value string) error {
	if err := u.cmd.Command("fw_setenv", name, value).Run(); err != nil {
		return errors.Wrapf(err, "fw_setenv %s failed", name)
	}
	return nil
}

func (u *UBoot) SetState(slot *conf.Slot, good bool) error {
	if err := checkBootname(slot); err != nil {
		return err
	}

	attempts := "0"
	if good {
		attempts = ubootDefaultAttempts
	}

	log.Debugf("Setting U-Boot attempts for %s to %s", slot.Bootname, attempts)
	return u.setenv(fmt.Sprintf("BOOT_%s_LEFT", slot.Bootname), attempts)
}

func (u *UBoot) SetPrimary(slot *conf.Slot) error {
	if err := checkBootname(slot); err != nil {
		return err
	}

	order := []string{slot.Bootname}
	for _, bootname := range u.order {
		if bootname != slot.Bootname {
			order = append(order, bootname)
		}
	}

	log.Debugf("Setting U-Boot boot order to %v", order)
	if err := u.setenv("BOOT_ORDER", strings.Join(order, " ")); err != nil {
		return err
	}
	return u.setenv(fmt.Sprintf("BOOT_%s_LEFT", slot.Bootname),
		ubootDefaultAttempts)
}
