//go:build unix

// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fingerprint

import (
	"fmt"
	"os"
	"syscall"
)

func statDevInode(info os.FileInfo) (dev uint64, inode uint64, err error) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, fmt.Errorf("fingerprint: unsupported platform for device-and-inode strategy")
	}
	return uint64(st.Dev), uint64(st.Ino), nil
}
