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
	log "github.com/sirupsen/logrus"

	"github.com/rauc/rauc-go/conf"
)

// Noop logs bootability transitions without touching any state. Useful for
// systems that manage bootability outside the engine.
type Noop struct{}

func (n *Noop) SetState(slot *conf.Slot, good bool) error {
	log.Infof("noop bootloader: set state of %s to good=%v", slot.Name, good)
	return nil
}

func (n *Noop) SetPrimary(slot *conf.Slot) error {
	log.Infof("noop bootloader: set %s primary", slot.Name)
	return nil
}
