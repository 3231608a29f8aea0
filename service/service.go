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

// Package service exposes the install engine on the system D-Bus so local
// clients can trigger installs and observe the engine state.
package service

import (
	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/rauc/rauc-go/installer"
)

const (
	BusName       = "de.pengutronix.rauc"
	ObjectPath    = "/de/pengutronix/rauc"
	InterfaceName = "de.pengutronix.rauc.Installer"

	errorBusy   = "de.pengutronix.rauc.Error.Busy"
	errorFailed = "de.pengutronix.rauc.Error.Failed"
)

const introspectXML = `
<node>
	<interface name="` + InterfaceName + `">
		<method name="Install">
			<arg name="source" direction="in" type="s"/>
		</method>
		<method name="Info">
			<arg name="compatible" direction="out" type="s"/>
			<arg name="booted" direction="out" type="s"/>
		</method>
		<method name="Busy">
			<arg name="busy" direction="out" type="b"/>
		</method>
		<method name="LastError">
			<arg name="message" direction="out" type="s"/>
		</method>
	</interface>` + introspect.IntrospectDataString + `</node>`

// Installer is the D-Bus object backing the Installer interface.
type Installer struct {
	ctx *installer.Context
}

func NewInstaller(ctx *installer.Context) *Installer {
	return &Installer{ctx: ctx}
}

// Install starts an install for a bundle path or manifest URL. The install
// runs in the background; progress is observable via LastError/Busy and the
// engine log.
func (i *Installer) Install(source string) *dbus.Error {
	req := installer.NewInstallRequest(source)
	req.Notify = func(r *installer.InstallRequest) {
		for {
			message, ok := r.PopStatus()
			if !ok {
				return
			}
			log.Infof("install status: %s", message)
		}
	}

	if err := installer.InstallRun(i.ctx, req); err != nil {
		if err == installer.ErrInstallRunning {
			return dbus.NewError(errorBusy, []interface{}{err.Error()})
		}
		return dbus.NewError(errorFailed, []interface{}{err.Error()})
	}
	return nil
}

// Info returns the system compatible string and the booted slot identifier.
func (i *Installer) Info() (string, string, *dbus.Error) {
	bootname, err := i.ctx.Bootname.Bootname()
	if err != nil {
		bootname = ""
	}
	return i.ctx.Config.SystemCompatible, bootname, nil
}

// Busy reports whether an install worker is running.
func (i *Installer) Busy() (bool, *dbus.Error) {
	return i.ctx.Busy(), nil
}

// LastError returns the message of the most recent failed install.
func (i *Installer) LastError() (string, *dbus.Error) {
	if i.ctx.Store != nil {
		message, err := i.ctx.Store.LastError()
		if err == nil {
			return message, nil
		}
		log.Errorf("Failed reading last error: %v", err)
	}
	return i.ctx.LastError(), nil
}

// Run claims the bus name and serves until the connection dies.
func Run(ctx *installer.Context) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return errors.Wrap(err, "Failed connecting to system bus")
	}

	obj := NewInstaller(ctx)
	if err := conn.Export(obj, ObjectPath, InterfaceName); err != nil {
		return errors.Wrap(err, "Failed exporting installer object")
	}
	err = conn.Export(introspect.Introspectable(introspectXML), ObjectPath,
		"org.freedesktop.DBus.Introspectable")
	if err != nil {
		return errors.Wrap(err, "Failed exporting introspection data")
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return errors.Wrap(err, "Failed requesting bus name")
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.Errorf("Bus name %s already taken", BusName)
	}

	log.Infof("Listening on %s", BusName)
	select {}
}
