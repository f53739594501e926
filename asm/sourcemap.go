// Copyright 2014-2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asm

import (
	"encoding/json"
	"io"
	"sort"
	"strings"
)

// A SourceMap describes the mapping between source code line numbers and
// instruction offsets within the code segment.
type SourceMap struct {
	File    string
	Lines   []SourceLine
	Exports []Export
}

// A SourceLine represents a mapping between an instruction and the source
// code line used to generate it.
type SourceLine struct {
	Offset uint16 // Offset within the code segment
	Index  int    // Instruction index
	Line   int    // Source code line number
}

// An Export describes a named location in the program.
type Export struct {
	Label   string
	Kind    string
	Segment string
	Offset  uint16
}

// Search searches the source map for the instruction at the requested
// code segment offset and returns its source line, or -1.
func (s *SourceMap) Search(offset uint16) (line int) {
	i := sort.Search(len(s.Lines), func(i int) bool {
		return s.Lines[i].Offset >= offset
	})
	if i < len(s.Lines) && s.Lines[i].Offset == offset {
		return s.Lines[i].Line
	}
	return -1
}

// Find returns the first instruction generated at or after the requested
// source line. The returned bool is false if no instruction follows the
// line.
func (s *SourceMap) Find(line int) (SourceLine, bool) {
	for _, l := range s.Lines {
		if l.Line >= line {
			return l, true
		}
	}
	return SourceLine{}, false
}

// Export returns the named location with the given case-insensitive name.
func (s *SourceMap) Export(label string) (Export, bool) {
	for _, e := range s.Exports {
		if strings.EqualFold(e.Label, label) {
			return e, true
		}
	}
	return Export{}, false
}

// ReadFrom reads the contents of an exported source map file.
func (s *SourceMap) ReadFrom(r io.Reader) (n int64, err error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}

	err = json.Unmarshal(b, s)
	if err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}

// WriteTo writes the contents of the source map to an output stream.
func (s *SourceMap) WriteTo(w io.Writer) (n int64, err error) {
	b, err := json.Marshal(*s)
	if err != nil {
		return 0, err
	}

	nn, err := w.Write(b)
	return int64(nn), err
}
