// Copyright 2014-2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asm

import (
	"fmt"
	"strings"

	"github.com/beevik/go8086/cpu"
	"github.com/beevik/prefixtree/v2"
)

var hex = "0123456789ABCDEF"

// Format a warning attached to a source line.
func warnf(line int, format string, args ...any) string {
	return fmt.Sprintf("line %d: %s", line, fmt.Sprintf(format, args...))
}

var mnemonicTree = prefixtree.New[string]()

func init() {
	for _, n := range cpu.MnemonicNames() {
		mnemonicTree.Add(strings.ToLower(n), n)
	}
}

// Suggest the supported mnemonic a misspelled word most likely meant, by
// looking for the longest prefix of the word that selects exactly one
// mnemonic. Returns an empty string if there is no unique candidate.
func suggestMnemonic(word string) string {
	w := strings.ToLower(word)
	for n := len(w); n >= 2; n-- {
		m, err := mnemonicTree.FindValue(w[:n])
		switch err {
		case nil:
			if !strings.EqualFold(m, word) {
				return m
			}
			return ""
		case prefixtree.ErrPrefixAmbiguous:
			return ""
		}
	}
	return ""
}

// Return a hexadecimal string representation of a byte slice.
func byteString(b []byte) string {
	if len(b) < 1 {
		return ""
	}

	s := make([]byte, len(b)*3-1)
	i, j := 0, 0
	for n := len(b) - 1; i < n; i, j = i+1, j+3 {
		s[j+0] = hex[(b[i] >> 4)]
		s[j+1] = hex[(b[i] & 0x0f)]
		s[j+2] = ' '
	}
	s[j+0] = hex[(b[i] >> 4)]
	s[j+1] = hex[(b[i] & 0x0f)]
	return string(s)
}
