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

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/rauc/rauc-go/conf"
	"github.com/rauc/rauc-go/system"
)

const (
	bareboxDefaultAttempts = 3
	bareboxPrimaryPriority = 10
)

// Barebox drives the barebox bootchooser state with barebox-state(1). Each
// base slot has bootstate.<bootname>.remaining_attempts and
// bootstate.<bootname>.priority variables.
type Barebox struct {
	cmd system.Commander
}

func newBarebox(cmd system.Commander) *Barebox {
	return &Barebox{cmd: cmd}
}

func (b *Barebox) set(pairs ...string) error {
	args := make([]string, 0, 2*len(pairs))
	for _, pair := range pairs {
		args = append(args, "-s", pair)
	}
	if err := b.cmd.Command("barebox-state", args...).Run(); err != nil {
		return errors.Wrap(err, "barebox-state failed")
	}
	return nil
}

func (b *Barebox) SetState(slot *conf.Slot, good bool) error {
	if err := checkBootname(slot); err != nil {
		return err
	}

	attempts := 0
	if good {
		attempts = bareboxDefaultAttempts
	}

	log.Debugf("Setting barebox attempts for %s to %d", slot.Bootname, attempts)
	return b.set(fmt.Sprintf("bootstate.%s.remaining_attempts=%d",
		slot.Bootname, attempts))
}

func (b *Barebox) SetPrimary(slot *conf.Slot) error {
	if err := checkBootname(slot); err != nil {
		return err
	}

	log.Debugf("Making %s the barebox primary", slot.Bootname)
	return b.set(
		fmt.Sprintf("bootstate.%s.priority=%d",
			slot.Bootname, bareboxPrimaryPriority),
		fmt.Sprintf("bootstate.%s.remaining_attempts=%d",
			slot.Bootname, bareboxDefaultAttempts),
	)
}
