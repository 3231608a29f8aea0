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
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/rauc/rauc-go/bundle"
	"github.com/rauc/rauc-go/conf"
)

// handlerStatus accumulates the structured records a handler reports on
// stdout.
type handlerStatus struct {
	Status      string
	ImageStatus map[string]string
	// Last handler-reported error or bootloader message.
	Message string
}

// parseHandlerLine interprets one line of handler output. Lines starting
// with "<< " carry whitespace-split records with a leading keyword; anything
// else is passed through as log output.
func (h *handlerStatus) parseHandlerLine(line string) {
	if !strings.HasPrefix(line, "<< ") {
		log.Infof("# %s", line)
		return
	}

	fields := strings.Fields(line)
	if len(fields) < 2 {
		return
	}

	switch fields[1] {
	case "handler":
		if len(fields) > 2 {
			h.Status = fields[2]
			log.Infof("Handler status: %s", h.Status)
		}
	case "image":
		if len(fields) > 3 {
			if h.ImageStatus == nil {
				h.ImageStatus = make(map[string]string)
			}
			h.ImageStatus[fields[2]] = fields[3]
			log.Infof("Image '%s' status: %s", fields[2], fields[3])
		}
	case "error", "bootloader":
		if len(fields) > 2 {
			h.Message = strings.Join(fields[2:], " ")
			log.Errorf("error: '%s'", h.Message)
		}
	default:
		log.Warnf("Unknown command: %s", fields[1])
	}
}

// handlerEnvironment builds the environment exported to handler processes.
// Slot indices are 1-based in configuration order.
func handlerEnvironment(ctx *Context, updateSource string,
	manifest *bundle.Manifest, group *TargetGroup) []string {

	config := ctx.Config
	bootname, _ := ctx.Bootname.Bootname()

	env := append(os.Environ(),
		"RAUC_SYSTEM_CONFIG="+config.ConfigPath,
		"RAUC_CURRENT_BOOTNAME="+bootname,
		"RAUC_UPDATE_SOURCE="+updateSource,
		"RAUC_MOUNT_PREFIX="+config.MountPrefix,
	)

	targets := make(map[*conf.Slot]bool)
	for _, slot := range group.Slots() {
		targets[slot] = true
	}

	var slotList, targetList []string
	for i, slot := range config.Slots {
		n := i + 1
		slotList = append(slotList, fmt.Sprintf("%d", n))

		if targets[slot] {
			targetList = append(targetList, fmt.Sprintf("%d", n))

			// Map the image selected for this slot's class onto its
			// index.
			for _, image := range manifest.Images {
				if image.SlotClass != slot.Class {
					continue
				}
				env = append(env,
					fmt.Sprintf("RAUC_IMAGE_NAME_%d=%s", n, image.Filename),
					fmt.Sprintf("RAUC_IMAGE_DIGEST_%d=%s", n,
						image.Checksum.Digest),
					fmt.Sprintf("RAUC_IMAGE_CLASS_%d=%s", n, image.SlotClass),
				)
				break
			}
		}

		parent := ""
		if slot.Parent != nil {
			parent = slot.Parent.Name
		}
		env = append(env,
			fmt.Sprintf("RAUC_SLOT_NAME_%d=%s", n, slot.Name),
			fmt.Sprintf("RAUC_SLOT_CLASS_%d=%s", n, slot.Class),
			fmt.Sprintf("RAUC_SLOT_DEVICE_%d=%s", n, slot.Device),
			fmt.Sprintf("RAUC_SLOT_BOOTNAME_%d=%s", n, slot.Bootname),
			fmt.Sprintf("RAUC_SLOT_PARENT_%d=%s", n, parent),
		)
	}

	env = append(env,
		"RAUC_SLOTS="+strings.Join(slotList, " "),
		"RAUC_TARGET_SLOTS="+strings.Join(targetList, " "),
	)
	return env
}

// LaunchAndWaitHandler runs a handler executable with the engine's
// environment and the given arguments, streaming its merged stdout/stderr
// through the structured output protocol. A non-zero exit is a handler
// failure carrying the handler's reported message.
func LaunchAndWaitHandler(ctx *Context, updateSource, handlerName string,
	args []string, manifest *bundle.Manifest, group *TargetGroup) error {

	log.Debugf("Launching handler %s", handlerName)

	cmd := ctx.Cmd.Command(handlerName, args...)
	cmd.Env = handlerEnvironment(ctx, updateSource, manifest, group)

	// New process group so a handler's children never outlive it
	// unnoticed.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Merge stdout and stderr into one line stream.
	pr, pw, err := os.Pipe()
	if err != nil {
		return errors.Wrap(err, "Failed creating handler pipe")
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return errors.Wrapf(err, "Failed starting handler %s", handlerName)
	}
	pw.Close()

	status := &handlerStatus{}
	scanner := bufio.NewScanner(pr)
	for scanner.Scan() {
		status.parseHandlerLine(scanner.Text())
	}
	pr.Close()

	if err := cmd.Wait(); err != nil {
		if status.Message != "" {
			return errors.Wrapf(err, "%s", status.Message)
		}
		return errors.Wrapf(err, "Handler %s failed", handlerName)
	}
	return nil
}
