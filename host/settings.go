// Copyright 2018-2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import (
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/beevik/prefixtree/v2"
)

// Host settings, changed with the "set" command. A min tag gives the
// smallest value an integer setting accepts.
type settings struct {
	HexMode         bool   `doc:"hexadecimal input mode"`
	TraceMode       bool   `doc:"show register and memory changes while stepping"`
	EchoOutput      bool   `doc:"echo program output as it is produced"`
	MemDumpBytes    int    `doc:"default number of memory bytes to dump" min:"1"`
	DisasmLines     int    `doc:"default number of lines to disassemble" min:"1"`
	SourceLines     int    `doc:"default number of source lines to display" min:"1"`
	MaxStepLines    int    `doc:"max lines to disassemble when stepping" min:"0"`
	MaxSteps        int    `doc:"step ceiling for run (0 for none)" min:"0"`
	NextDisasmIndex int    `doc:"index of next instruction to disassemble" min:"-1"`
	NextSourceLine  int    `doc:"next source line to display" min:"1"`
	NextMemDumpAddr uint32 `doc:"linear address of next memory dump"`
}

func newSettings() *settings {
	return &settings{
		EchoOutput:      true,
		MemDumpBytes:    64,
		DisasmLines:     10,
		SourceLines:     10,
		MaxStepLines:    20,
		NextDisasmIndex: -1,
		NextSourceLine:  1,
	}
}

type settingsField struct {
	name   string
	index  int
	typ    reflect.Type
	doc    string
	min    int64
	hasMin bool
}

func (f *settingsField) format(v reflect.Value) string {
	switch f.typ.Kind() {
	case reflect.String:
		return strconv.Quote(v.String())
	case reflect.Uint32:
		return fmt.Sprintf("%05XH", v.Uint())
	case reflect.Bool:
		if v.Bool() {
			return "on"
		}
		return "off"
	default:
		return fmt.Sprint(v.Interface())
	}
}

var (
	settingsTree   = prefixtree.New[*settingsField]()
	settingsFields []*settingsField
)

func init() {
	t := reflect.TypeOf(settings{})
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		f := &settingsField{
			name:  sf.Name,
			index: i,
			typ:   sf.Type,
			doc:   sf.Tag.Get("doc"),
		}
		if m, ok := sf.Tag.Lookup("min"); ok {
			f.min, _ = strconv.ParseInt(m, 10, 64)
			f.hasMin = true
		}
		settingsFields = append(settingsFields, f)
		settingsTree.Add(strings.ToLower(sf.Name), f)
	}
}

func (s *settings) lookup(key string) (*settingsField, error) {
	f, err := settingsTree.FindValue(strings.ToLower(key))
	if err != nil {
		return nil, fmt.Errorf("setting '%s' not found", key)
	}
	return f, nil
}

// Display writes every setting with its value and description.
func (s *settings) Display(w io.Writer) {
	v := reflect.ValueOf(s).Elem()
	for _, f := range settingsFields {
		fmt.Fprintf(w, "    %-16s %-8s (%s)\n", f.name, f.format(v.Field(f.index)), f.doc)
	}
}

// Get returns the name and formatted value of the setting matching the
// key prefix.
func (s *settings) Get(key string) (name, value string, err error) {
	f, err := s.lookup(key)
	if err != nil {
		return "", "", err
	}
	return f.name, f.format(reflect.ValueOf(s).Elem().Field(f.index)), nil
}

// Kind returns the kind of the setting matching the key prefix, or
// reflect.Invalid if there is no unique match.
func (s *settings) Kind(key string) reflect.Kind {
	f, err := s.lookup(key)
	if err != nil {
		return reflect.Invalid
	}
	return f.typ.Kind()
}

// Set assigns a value to the setting matching the key prefix. Integer
// values are range checked against the setting.
func (s *settings) Set(key string, value any) error {
	f, err := s.lookup(key)
	if err != nil {
		return err
	}

	in := reflect.ValueOf(value)
	if (f.typ.Kind() == reflect.String) != (in.Kind() == reflect.String) ||
		!in.Type().ConvertibleTo(f.typ) {
		return fmt.Errorf("invalid value for %s", f.name)
	}

	if in.CanInt() {
		n := in.Int()
		if f.hasMin && n < f.min {
			return fmt.Errorf("%s must be at least %d", f.name, f.min)
		}
		if out := in.Convert(f.typ); out.CanInt() && out.Int() != n || out.CanUint() && int64(out.Uint()) != n {
			return fmt.Errorf("value %d out of range for %s", n, f.name)
		}
	}

	reflect.ValueOf(s).Elem().Field(f.index).Set(in.Convert(f.typ))
	return nil
}
