// Copyright 2014-2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asm

// An fstring is a string that keeps track of its position within the
// source line from which it was read.
type fstring struct {
	row    int    // 1-based line number of substring
	column int    // 0-based column of start of substring
	str    string // the actual substring of interest
	full   string // the full line as originally read
}

func newFstring(row int, str string) fstring {
	return fstring{row, 0, str, str}
}

func (l *fstring) String() string {
	return l.str
}

func (l fstring) consume(n int) fstring {
	return fstring{l.row, l.column + n, l.str[n:], l.full}
}

func (l fstring) trunc(n int) fstring {
	return fstring{l.row, l.column, l.str[:n], l.full}
}

func (l *fstring) isEmpty() bool {
	return len(l.str) == 0
}

func (l *fstring) startsWith(fn func(c byte) bool) bool {
	return len(l.str) > 0 && fn(l.str[0])
}

func (l *fstring) startsWithChar(c byte) bool {
	return len(l.str) > 0 && l.str[0] == c
}

func (l fstring) consumeWhitespace() fstring {
	return l.consume(l.scanWhile(whitespace))
}

func (l *fstring) scanWhile(fn func(c byte) bool) int {
	i := 0
	for ; i < len(l.str) && fn(l.str[i]); i++ {
	}
	return i
}

func (l *fstring) consumeWhile(fn func(c byte) bool) (consumed, remain fstring) {
	i := l.scanWhile(fn)
	consumed, remain = l.trunc(i), l.consume(i)
	return
}

// Consume a quoted string literal. A doubled quote character inside the
// literal stands for a single quote. The returned value holds the
// unescaped contents; ok is false if the literal is not terminated.
func (l *fstring) consumeString() (value string, remain fstring, ok bool) {
	q := l.str[0]
	var b []byte
	for i := 1; i < len(l.str); i++ {
		if l.str[i] != q {
			b = append(b, l.str[i])
			continue
		}
		if i+1 < len(l.str) && l.str[i+1] == q {
			b = append(b, q)
			i++
			continue
		}
		return string(b), l.consume(i + 1), true
	}
	return "", *l, false
}

//
// character helper functions
//

func whitespace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\f'
}

func alpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func decimal(c byte) bool {
	return (c >= '0' && c <= '9')
}

func alphanumeric(c byte) bool {
	return alpha(c) || decimal(c)
}

func identifierStartChar(c byte) bool {
	return alpha(c) || c == '_' || c == '.' || c == '@'
}

func identifierChar(c byte) bool {
	return alpha(c) || decimal(c) || c == '_' || c == '@'
}

func stringQuote(c byte) bool {
	return c == '"' || c == '\''
}
