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

const defaultGrubEnv = "/boot/grub/grubenv"

// Grub keeps the redundancy state in the GRUB environment block, maintained
// with grub-editenv. The boot script reads <BOOTNAME>_OK, <BOOTNAME>_TRY and
// ORDER.
type Grub struct {
	cmd system.Commander
	// All base bootnames in configuration order; used to rebuild ORDER.
	order   []string
	envFile string
}

func newGrub(config *conf.Config, cmd system.Commander) *Grub {
	return &Grub{
		cmd:     cmd,
		order:   config.BaseBootnames(),
		envFile: defaultGrubEnv,
	}
}

func (g *Grub) set(pairs ...string) error {
	args := append([]string{g.envFile, "set"}, pairs...)
	if err := g.cmd.Command("grub-editenv", args...).Run(); err != nil {
		return errors.Wrap(err, "grub-editenv failed")
	}
	return nil
}

func (g *Grub) SetState(slot *conf.Slot, good bool) error {
	if err := checkBootname(slot); err != nil {
		return err
	}

	ok := "0"
	if good {
		ok = "1"
	}

	log.Debugf("Setting GRUB %s_OK to %s", slot.Bootname, ok)
	return g.set(
		fmt.Sprintf("%s_OK=%s", slot.Bootname, ok),
		fmt.Sprintf("%s_TRY=0", slot.Bootname),
	)
}

func (g *Grub) SetPrimary(slot *conf.Slot) error {
	if err := checkBootname(slot); err != nil {
		return err
	}

	order := []string{slot.Bootname}
	for _, bootname := range g.order {
		if bootname != slot.Bootname {
			order = append(order, bootname)
		}
	}

	log.Debugf("Setting GRUB boot order to %v", order)
	return g.set(
		fmt.Sprintf("ORDER=%s", strings.Join(order, " ")),
		fmt.Sprintf("%s_OK=1", slot.Bootname),
		fmt.Sprintf("%s_TRY=0", slot.Bootname),
	)
}
