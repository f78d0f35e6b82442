// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package filesource

import (
	"path/filepath"
)

// GlobPaths implements PathsProvider by expanding a fixed set of glob
// patterns on every call, then dropping anything matched by Exclude. Include
// patterns are expanded with filepath.Glob; Exclude patterns are matched
// against the resulting basenames and full paths with filepath.Match.
type GlobPaths struct {
	Include []string
	Exclude []string
}

func (g GlobPaths) Paths() ([]string, error) {
	seen := make(map[string]struct{})
	var out []string

	for _, pattern := range g.Include {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			if g.excluded(m) {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out, nil
}

func (g GlobPaths) excluded(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range g.Exclude {
		if ok, _ := filepath.Match(pattern, path); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}
