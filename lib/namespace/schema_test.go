// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package namespace_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/bureau-foundation/sonar/lib/namespace"
)

func TestRegisterTypeValidation(t *testing.T) {
	get := func(o namespace.Object) []string { return nil }
	tests := []struct {
		name   string
		schema namespace.Schema
	}{
		{"empty type", namespace.Schema{}},
		{"separator in type", namespace.Schema{Type: "a/b"}},
		{"bad base", namespace.Schema{Type: "t", Base: "x/y"}},
		{"attribute without accessors", namespace.Schema{Type: "t", Attributes: []namespace.Attribute{{Name: "a"}}}},
		{"duplicate attribute", namespace.Schema{Type: "t", Attributes: []namespace.Attribute{
			{Name: "a", Get: get}, {Name: "a", Get: get},
		}}},
		{"persistent without constructor", namespace.Schema{Type: "t", Persistent: true}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ns := namespace.New(namespace.Options{})
			var configErr *namespace.ConfigurationError
			if _, err := ns.RegisterType(test.schema); !errors.As(err, &configErr) {
				t.Errorf("error = %v, want *ConfigurationError", err)
			}
		})
	}

	ns := namespace.New(namespace.Options{})
	first, err := ns.RegisterType(widgetSchema(false))
	if err != nil {
		t.Fatalf("RegisterType: %v", err)
	}
	second, err := ns.RegisterType(widgetSchema(true))
	if err != nil || second != first {
		t.Errorf("second registration = %p, %v; want the first node %p", second, err, first)
	}
	if second.Persistent() {
		t.Error("second registration replaced the schema")
	}
	if base, ok := ns.BaseType("widget"); !ok || base != "device" {
		t.Errorf("BaseType = %q, %v", base, ok)
	}
	if !slices.Equal(ns.Types(), []string{"widget"}) {
		t.Errorf("Types() = %q", ns.Types())
	}
}

func TestTypeNodeAccessors(t *testing.T) {
	ns := namespace.New(namespace.Options{})
	schema := widgetSchema(false)
	schema.Attributes = append(schema.Attributes,
		namespace.String("secret", func(w *widget) string { return "x" }, nil).AsHidden(),
		namespace.String("label", nil, func(w *widget, v string) error { return nil }),
	)
	node, err := ns.RegisterType(schema)
	if err != nil {
		t.Fatalf("RegisterType: %v", err)
	}
	if got := node.Attributes(); !slices.Equal(got, []string{"color", "size", "label"}) {
		t.Errorf("Attributes() = %q", got)
	}
	if node.Gettable("secret") || node.Gettable("label") || !node.Gettable("color") {
		t.Error("Gettable misreports hidden or write-only attributes")
	}
	if !node.Settable("label") || node.Settable("secret") {
		t.Error("Settable misreports accessors")
	}
	if node.Base() != "device" || node.Persistent() || !node.Creatable() {
		t.Errorf("node = base %q persistent %v creatable %v", node.Base(), node.Persistent(), node.Creatable())
	}
}

func TestScalarAttributes(t *testing.T) {
	type flag struct {
		widget
		on bool
	}
	w := &widget{name: "w"}
	size := namespace.Int("size", func(w *widget) int { return w.size }, func(w *widget, v int) error { w.size = v; return nil })
	if err := size.Set(w, []string{"42"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := size.Get(w); !slices.Equal(got, []string{"42"}) {
		t.Errorf("Get = %q", got)
	}
	if err := size.Set(w, []string{"1", "2"}); !errors.Is(err, namespace.ErrConversion) {
		t.Errorf("two values: error = %v, want ErrConversion", err)
	}
	if err := size.Set(w, nil); !errors.Is(err, namespace.ErrConversion) {
		t.Errorf("no value: error = %v, want ErrConversion", err)
	}

	f := &flag{widget: widget{name: "f"}}
	on := namespace.Bool("on", func(f *flag) bool { return f.on }, func(f *flag, v bool) error { f.on = v; return nil })
	if err := on.Set(f, []string{"true"}); err != nil || !f.on {
		t.Errorf("Set true: err=%v on=%v", err, f.on)
	}
	if err := on.Set(f, []string{"maybe"}); !errors.Is(err, namespace.ErrConversion) {
		t.Errorf("bad bool: error = %v, want ErrConversion", err)
	}
	// The accessor rejects objects of the wrong type.
	if err := on.Set(w, []string{"true"}); !errors.Is(err, namespace.ErrConversion) {
		t.Errorf("wrong object type: error = %v, want ErrConversion", err)
	}

	color := namespace.String("color", func(w *widget) string { return w.color }, func(w *widget, v string) error { w.color = v; return nil })
	w.color = "red"
	if err := color.Set(w, nil); err != nil || w.color != "" {
		t.Errorf("empty value list: err=%v color=%q", err, w.color)
	}
}

func TestParseAccessLevel(t *testing.T) {
	for _, test := range []struct {
		in   string
		want namespace.AccessLevel
	}{
		{"view", namespace.AccessView},
		{"configure", namespace.AccessConfigure},
		{"2", namespace.AccessOperate},
	} {
		got, err := namespace.ParseAccessLevel(test.in)
		if err != nil || got != test.want {
			t.Errorf("ParseAccessLevel(%q) = %v, %v; want %v", test.in, got, err, test.want)
		}
	}
	for _, bad := range []string{"system", "5", "-1", "root"} {
		if _, err := namespace.ParseAccessLevel(bad); err == nil {
			t.Errorf("ParseAccessLevel(%q) succeeded", bad)
		}
	}
}
