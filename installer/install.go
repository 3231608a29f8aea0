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
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/rauc/rauc-go/bundle"
	"github.com/rauc/rauc-go/client"
	"github.com/rauc/rauc-go/conf"
	"github.com/rauc/rauc-go/mount"
)

// statusQueueLimit bounds the per-request status FIFO; the oldest messages
// are dropped when an observer falls behind.
const statusQueueLimit = 64

// resultPending is the status result sentinel before an install terminates.
const resultPending = -2

// InstallRequest carries one install through the worker. Created by the
// caller, handed to InstallRun, freed after Cleanup ran.
type InstallRequest struct {
	// Source is a local bundle path (*.raucb) or a remote manifest URL.
	Source string

	// Notify is invoked after each status message push. It runs on the
	// worker; observers that need their own event context must hand off.
	Notify func(*InstallRequest)
	// Cleanup is invoked exactly once after the terminal status has been
	// set.
	Cleanup func(*InstallRequest)

	mu             sync.Mutex
	statusMessages []string
	statusResult   int
}

func NewInstallRequest(source string) *InstallRequest {
	return &InstallRequest{
		Source:       source,
		statusResult: resultPending,
	}
}

// update pushes a status message and notifies the observer. Push order is
// preserved.
func (r *InstallRequest) update(message string) {
	r.mu.Lock()
	if len(r.statusMessages) >= statusQueueLimit {
		r.statusMessages = r.statusMessages[1:]
	}
	r.statusMessages = append(r.statusMessages, message)
	r.mu.Unlock()

	if r.Notify != nil {
		r.Notify(r)
	}
}

// PopStatus dequeues the oldest pending status message.
func (r *InstallRequest) PopStatus() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statusMessages) == 0 {
		return "", false
	}
	message := r.statusMessages[0]
	r.statusMessages = r.statusMessages[1:]
	return message, true
}

// Result returns the terminal status: resultPending while running, 0 on
// success, non-zero on failure.
func (r *InstallRequest) Result() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusResult
}

func (r *InstallRequest) setResult(result int) {
	r.mu.Lock()
	r.statusResult = result
	r.mu.Unlock()
}

// InstallRun starts the install worker for the request. Exactly one install
// runs at a time; a second request is rejected synchronously without state
// mutation.
func InstallRun(ctx *Context, req *InstallRequest) error {
	if !ctx.setBusy() {
		return ErrInstallRunning
	}

	if bootname, err := ctx.Bootname.Bootname(); err == nil {
		log.Infof("Active slot bootname: %s", bootname)
	}

	go installWorker(ctx, req)
	return nil
}

func installWorker(ctx *Context, req *InstallRequest) {
	ctx.SetLastError("")

	log.Debugf("Install started for %s", req.Source)
	req.update("started")

	var err error
	if strings.HasSuffix(req.Source, bundle.BundleSuffix) {
		err = doInstallBundle(ctx, req)
	} else {
		err = doInstallNetwork(ctx, req)
	}

	result := 0
	if err != nil {
		result = 1
		log.Errorf("%v", err)
		req.update(err.Error())
		ctx.SetLastError(err.Error())
		resetSlotStates(ctx.Config)
	}

	req.setResult(result)
	req.update("finished")
	log.Debugf("Install finished for %s", req.Source)

	if ctx.Store != nil {
		if serr := ctx.Store.AppendInstallResult(req.Source, result); serr != nil {
			log.Errorf("Failed recording install result: %v", serr)
		}
	}

	if req.Cleanup != nil {
		req.Cleanup(req)
	}
	ctx.clearBusy()
}

// resetSlotStates clears the transient slot fields after a failed install;
// they are only valid while the worker owns them.
func resetSlotStates(config *conf.Config) {
	for _, slot := range config.Slots {
		slot.State = conf.StateUnknown
		slot.MountPoint = ""
	}
}

func verifyCompatible(ctx *Context, manifest *bundle.Manifest) error {
	if ctx.Config.SystemCompatible == manifest.UpdateCompatible {
		return nil
	}
	log.Warnf("incompatible manifest for this system (%s): %s",
		ctx.Config.SystemCompatible, manifest.UpdateCompatible)
	return ErrCompatibilityMismatch
}

func logTargetGroup(group *TargetGroup) {
	log.Info("Target group:")
	for _, slot := range group.Slots() {
		log.Infof("  %s -> %s", slot.Class, slot.Name)
	}
}

func doInstallBundle(ctx *Context, req *InstallRequest) error {
	success := false
	ctx.Progress.BeginStep("do_install_bundle", "Installing", 5)
	defer func() { ctx.Progress.EndStep("do_install_bundle", success) }()

	if err := DetermineSlotStates(ctx); err != nil {
		return err
	}

	mountpoint, err := mount.CreateMountPoint(ctx.Config.MountPrefix, "bundle")
	if err != nil {
		return errors.Wrap(err, "Failed creating mount point")
	}

	log.Infof("Mounting bundle '%s' to '%s'", req.Source, mountpoint)
	req.update("Checking and mounting bundle...")
	if err := ctx.Mounter.MountBundle(req.Source, mountpoint); err != nil {
		return errors.Wrap(err, "Failed mounting bundle")
	}
	defer func() {
		if err := ctx.Mounter.Unmount(mountpoint); err != nil {
			log.Errorf("Failed unmounting bundle: %v", err)
		}
		os.Remove(mountpoint)
	}()

	manifest, err := bundle.VerifyManifest(mountpoint, ctx.Verifier)
	if err != nil {
		return errors.Wrap(err, "Failed verifying manifest")
	}

	// Gate on compatibility before any further side effect.
	if err := verifyCompatible(ctx, manifest); err != nil {
		return err
	}

	group, err := DetermineTargetInstallGroup(ctx, manifest)
	if err != nil {
		return err
	}
	logTargetGroup(group)

	if handler := ctx.Config.PreInstallHandler; handler != "" {
		log.Infof("Starting pre install handler: %s", handler)
		err := LaunchAndWaitHandler(ctx, mountpoint, handler, nil,
			manifest, group)
		if err != nil {
			return errors.Wrap(err, "Handler error")
		}
	}

	if manifest.HandlerName != "" {
		log.Infof("Using custom handler: %s", manifest.HandlerName)
		err = launchCustomHandler(ctx, mountpoint, manifest, group)
	} else {
		log.Info("Using default handler")
		err = defaultInstall(ctx, req, mountpoint, manifest, group)
	}
	if err != nil {
		return errors.Wrap(err, "Handler error")
	}

	if handler := ctx.Config.PostInstallHandler; handler != "" {
		log.Infof("Starting post install handler: %s", handler)
		err := LaunchAndWaitHandler(ctx, mountpoint, handler, nil,
			manifest, group)
		if err != nil {
			return errors.Wrap(err, "Handler error")
		}
	}

	success = true
	return nil
}

// launchCustomHandler delegates the whole install to the handler named by the
// manifest, resolved inside the mounted bundle.
func launchCustomHandler(ctx *Context, mountpoint string,
	manifest *bundle.Manifest, group *TargetGroup) error {

	success := false
	ctx.Progress.BeginStep("launch_and_wait_custom_handler",
		"Launching update handler", 0)
	defer func() {
		ctx.Progress.EndStep("launch_and_wait_custom_handler", success)
	}()

	if err := verifyCompatible(ctx, manifest); err != nil {
		return err
	}

	handlerName := filepath.Join(mountpoint, manifest.HandlerName)
	err := LaunchAndWaitHandler(ctx, mountpoint, handlerName,
		manifest.HandlerArgs, manifest, group)
	if err != nil {
		return err
	}

	success = true
	return nil
}

// defaultInstall is the engine-driven install loop: mark all base targets
// non-bootable, place every image, then mark the base targets primary. The
// order is load-bearing for rollback safety.
func defaultInstall(ctx *Context, req *InstallRequest, sourceDir string,
	manifest *bundle.Manifest, group *TargetGroup) error {

	if err := verifyCompatible(ctx, manifest); err != nil {
		return err
	}

	mountpoint, err := mount.CreateMountPoint(ctx.Config.MountPrefix, "image")
	if err != nil {
		return errors.Wrap(err, "Failed to create image mount point")
	}

	// No writes have happened yet; failing here needs no rollback action.
	log.Info("Marking target slots as non-bootable...")
	for _, slot := range group.BaseSlots() {
		if err := ctx.Bootloader.SetState(slot, false); err != nil {
			return errors.Wrapf(err,
				"Failed marking slot %s non-bootable", slot.Name)
		}
	}

	success := false
	ctx.Progress.BeginStep("update_slots", "Updating slots",
		len(manifest.Images)*2)
	defer func() { ctx.Progress.EndStep("update_slots", success) }()
	req.update("Updating slots...")

	for _, image := range manifest.Images {
		slot := group.Get(image.SlotClass)

		srcPath := image.Filename
		if !filepath.IsAbs(srcPath) {
			srcPath = filepath.Join(sourceDir, image.Filename)
		}
		if _, err := os.Stat(srcPath); err != nil {
			return errors.Errorf("Source image '%s' not found", srcPath)
		}
		if _, err := os.Stat(slot.Device); err != nil {
			return errors.Errorf("Destination device '%s' not found",
				slot.Device)
		}

		if err := installImage(ctx, req, mountpoint, image, slot,
			srcPath); err != nil {
			return err
		}
	}

	// Only now, with every image in place, the new slots become eligible
	// for booting.
	log.Info("Marking slots as bootable...")
	for _, slot := range group.BaseSlots() {
		if err := ctx.Bootloader.SetPrimary(slot); err != nil {
			return errors.Wrapf(err,
				"Failed marking slot %s bootable", slot.Name)
		}
	}

	req.update("All slots updated")
	success = true
	return nil
}

// installImage places one image onto its target slot: checksum-gated skip,
// copy, then status record. Every mount taken here is released on every
// return path.
func installImage(ctx *Context, req *InstallRequest, mountpoint string,
	image *bundle.Image, slot *conf.Slot, srcPath string) error {

	statusPath := filepath.Join(mountpoint, SlotStatusName)

	req.update("Checking slot " + slot.Name)
	ctx.Progress.BeginStep("check_slot", "Checking slot "+slot.Name, 0)

	mounted := false
	skip := false
	if err := ctx.Mounter.MountSlot(slot, mountpoint); err != nil {
		// An unmountable slot cannot be up to date.
		log.Infof("Mounting failed: %v", err)
	} else {
		mounted = true
		status, err := LoadSlotStatus(statusPath)
		if err != nil {
			log.Infof("Failed to load slot status file: %v", err)
			status = NewSlotStatus()
		}
		if status.Checksum.Digest != "" &&
			status.Checksum.Digest == image.Checksum.Digest {
			skip = true
		} else {
			log.Infof("Slot needs to be updated with %s", image.Filename)
		}
	}

	if mounted {
		if err := ctx.Mounter.Unmount(mountpoint); err != nil {
			ctx.Progress.EndStep("check_slot", false)
			return errors.Wrap(err, "Unmounting failed")
		}
	}
	ctx.Progress.EndStep("check_slot", true)

	if skip {
		message := "Skipping update for correct image " + image.Filename
		log.Info(message)
		req.update(message)
		return nil
	}

	req.update("Updating slot " + slot.Name)
	log.Infof("Copying %s to %s", srcPath, slot.Device)
	if err := CopyImage(ctx, srcPath, slot.Device, slot.Type); err != nil {
		return errors.Wrap(err, "Failed updating slot")
	}

	if err := ctx.Mounter.MountSlot(slot, mountpoint); err != nil {
		return errors.Wrap(err, "Mounting failed")
	}

	status, err := LoadSlotStatus(statusPath)
	if err != nil {
		status = NewSlotStatus()
	}
	status.Status = SlotStatusOK
	status.Checksum = image.Checksum

	log.Infof("Updating slot file %s", statusPath)
	req.update("Updating slot " + slot.Name + " status")
	if err := status.Save(statusPath); err != nil {
		if uerr := ctx.Mounter.Unmount(mountpoint); uerr != nil {
			log.Errorf("Failed unmounting %s: %v", mountpoint, uerr)
		}
		return errors.Wrap(err, "Failed writing status file")
	}

	if err := ctx.Mounter.Unmount(mountpoint); err != nil {
		return errors.Wrap(err, "Unmounting failed")
	}

	req.update("Updating slot " + slot.Name + " done")
	return nil
}

func doInstallNetwork(ctx *Context, req *InstallRequest) error {
	url := req.Source

	if err := DetermineSlotStates(ctx); err != nil {
		return err
	}

	data, err := ctx.Client.DownloadMem(url, client.ManifestSizeLimit)
	if err != nil {
		return errors.Wrap(err, "Failed to download manifest")
	}

	signature, err := ctx.Client.DownloadMem(url+".sig",
		client.ManifestSizeLimit)
	if err != nil {
		return errors.Wrap(err, "Failed to download manifest signature")
	}

	if err := ctx.Verifier.VerifyManifest(data, signature); err != nil {
		return errors.Wrap(err, "Failed to verify manifest signature")
	}

	manifest, err := bundle.LoadManifest(data)
	if err != nil {
		return errors.Wrap(err, "Failed to load manifest")
	}

	// Gate on compatibility before any further side effect.
	if err := verifyCompatible(ctx, manifest); err != nil {
		return err
	}

	group, err := DetermineTargetInstallGroup(ctx, manifest)
	if err != nil {
		return err
	}
	logTargetGroup(group)

	// Everything the manifest references is relative to the manifest URL.
	baseURL := url
	if idx := strings.LastIndex(url, "/"); idx > 0 {
		baseURL = url[:idx]
	}

	if handler := ctx.Config.PreInstallHandler; handler != "" {
		log.Infof("Starting pre install handler: %s", handler)
		err := LaunchAndWaitHandler(ctx, baseURL, handler, nil,
			manifest, group)
		if err != nil {
			return errors.Wrap(err, "Handler error")
		}
	}

	log.Infof("Using network handler for %s", baseURL)
	if err := networkInstall(ctx, req, baseURL, manifest, group); err != nil {
		return errors.Wrap(err, "Handler error")
	}

	if handler := ctx.Config.PostInstallHandler; handler != "" {
		log.Infof("Starting post install handler: %s", handler)
		err := LaunchAndWaitHandler(ctx, baseURL, handler, nil,
			manifest, group)
		if err != nil {
			return errors.Wrap(err, "Handler error")
		}
	}

	return nil
}

// networkInstall places file payloads onto the target slots, downloading
// only what no local copy can provide.
func networkInstall(ctx *Context, req *InstallRequest, baseURL string,
	manifest *bundle.Manifest, group *TargetGroup) error {

	if err := verifyCompatible(ctx, manifest); err != nil {
		return err
	}

	// Mark every base target non-bootable before the first write, same as
	// the local path.
	log.Info("Marking target slots as non-bootable...")
	for _, slot := range group.BaseSlots() {
		if err := ctx.Bootloader.SetState(slot, false); err != nil {
			return errors.Wrapf(err,
				"Failed marking slot %s non-bootable", slot.Name)
		}
	}

	req.update("Updating slots...")
	for _, slot := range group.Slots() {
		if err := networkUpdateSlot(ctx, req, baseURL, manifest,
			slot); err != nil {
			return err
		}
	}

	log.Info("Marking slots as bootable...")
	for _, slot := range group.BaseSlots() {
		if err := ctx.Bootloader.SetPrimary(slot); err != nil {
			return errors.Wrapf(err,
				"Failed marking slot %s bootable", slot.Name)
		}
	}

	req.update("All slots updated")
	return nil
}

func networkUpdateSlot(ctx *Context, req *InstallRequest, baseURL string,
	manifest *bundle.Manifest, slot *conf.Slot) error {

	mountpoint, err := mount.CreateMountPoint(ctx.Config.MountPrefix,
		slot.Name)
	if err != nil {
		return errors.Wrap(err, "Failed creating mount point")
	}

	req.update("Updating slot " + slot.Name)
	if err := ctx.Mounter.MountSlot(slot, mountpoint); err != nil {
		return errors.Wrap(err, "Mounting failed")
	}

	err = updateSlotFiles(ctx, baseURL, manifest, slot, mountpoint)

	if uerr := ctx.Mounter.Unmount(mountpoint); uerr != nil {
		if err == nil {
			err = errors.Wrap(uerr, "Unmounting failed")
		} else {
			log.Errorf("Failed unmounting %s: %v", mountpoint, uerr)
		}
	}
	if err == nil {
		req.update("Updating slot " + slot.Name + " done")
	}
	return err
}

func updateSlotFiles(ctx *Context, baseURL string, manifest *bundle.Manifest,
	slot *conf.Slot, mountpoint string) error {

	statusPath := filepath.Join(mountpoint, SlotStatusName)
	status, err := LoadSlotStatus(statusPath)
	if err != nil {
		log.Infof("Failed to load slot status file: %v", err)
		status = NewSlotStatus()
	}

	for _, file := range manifest.Files {
		if file.SlotClass != slot.Class {
			continue
		}

		destPath := filepath.Join(mountpoint, file.DestName)
		fileURL := baseURL + "/" + file.Filename

		if file.Checksum.VerifyFile(destPath) == nil {
			log.Infof("Skipping download for correct file from %s", fileURL)
			continue
		}
		if reuseExistingFile(ctx, &file.Checksum, destPath) {
			log.Infof("Skipping download for reused file from %s", fileURL)
			continue
		}

		if err := ctx.Client.DownloadFileChecksum(destPath, fileURL,
			&file.Checksum); err != nil {
			return errors.Wrapf(err, "Failed to download file from %s",
				fileURL)
		}
	}

	status.Status = SlotStatusOK
	if err := status.Save(statusPath); err != nil {
		return errors.Wrap(err, "Failed writing status file")
	}
	return nil
}
