package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	err := writeTable(&buf, []string{"Device", "Location"}, [][]string{
		{"usb", "drawer"},
		{"nas", "attic"},
	})
	if err != nil {
		t.Fatalf("writeTable() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"DEVICE", "LOCATION", "usb", "drawer", "nas", "attic"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "usb") > strings.Index(out, "nas") {
		t.Errorf("rows out of order:\n%s", out)
	}
}

func TestWriteTable_NoRows(t *testing.T) {
	var buf bytes.Buffer
	if err := writeTable(&buf, []string{"Project"}, nil); err != nil {
		t.Fatalf("writeTable() error = %v", err)
	}
	if !strings.Contains(buf.String(), "PROJECT") {
		t.Errorf("output = %q, want header", buf.String())
	}
}
