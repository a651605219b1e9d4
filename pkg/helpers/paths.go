// MoonUnit Gateway
// Copyright (c) 2026 The MoonUnit Gateway Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of MoonUnit Gateway.
//
// MoonUnit Gateway is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// MoonUnit Gateway is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with MoonUnit Gateway.  If not, see <http://www.gnu.org/licenses/>.

package helpers

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"
)

const (
	AppName = "moonunit"
	// AppEnv overrides the executable path used to find a portable install.
	AppEnv = "MOONUNIT_APP"
	// UserDir, when it sits next to the executable, holds the config and
	// logs of a portable install.
	UserDir = "user"
	PidFile = "gateway.pid"
)

var (
	userDirOnce        sync.Once
	userDirCache       string
	userDirCacheExists bool
)

// ExeDir returns the directory of the running binary, or of AppEnv when
// it is set.
func ExeDir() string {
	if p := os.Getenv(AppEnv); p != "" {
		return filepath.Dir(p)
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(exe)
}

func findUserDir(exeDir string) (string, bool) {
	if exeDir == "" {
		return "", false
	}
	userDir := filepath.Join(exeDir, UserDir)
	info, err := os.Stat(userDir)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return userDir, true
}

// HasUserDir reports whether a portable user directory exists next to the
// binary. The result is cached after the first call.
func HasUserDir() (string, bool) {
	userDirOnce.Do(func() {
		userDirCache, userDirCacheExists = findUserDir(ExeDir())
	})
	return userDirCache, userDirCacheExists
}

// baseDir is the app directory under an XDG home, unless a portable user
// directory exists.
func baseDir(home string) string {
	if v, ok := HasUserDir(); ok {
		return v
	}
	if home == "" {
		return filepath.Join(os.TempDir(), AppName)
	}
	return filepath.Join(home, AppName)
}

// ConfigDir is where gateway.toml lives.
func ConfigDir() string {
	return baseDir(xdg.ConfigHome)
}

// LogDir holds the rotating log file.
func LogDir() string {
	if v, ok := HasUserDir(); ok {
		return filepath.Join(v, "logs")
	}
	return filepath.Join(baseDir(xdg.StateHome), "logs")
}

// RunDir holds the PID file of the service.
func RunDir() string {
	return filepath.Join(os.TempDir(), AppName)
}
