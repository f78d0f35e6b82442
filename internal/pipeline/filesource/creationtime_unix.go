//go:build unix

// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package filesource

import (
	"os"
	"syscall"
	"time"
)

// creationTime extracts a best-effort file creation time. Linux's stat(2)
// has no true birth time in the general case, so this falls back to the
// change time (Ctim), which is adequate for the one purpose it serves here:
// ordering files discovered at startup.
func creationTime(info os.FileInfo) time.Time {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime()
	}
	return time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
}
