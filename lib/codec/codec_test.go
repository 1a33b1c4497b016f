// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
	"time"
)

type record struct {
	Token     string    `cbor:"1,keyasint"`
	Identity  string    `cbor:"2,keyasint"`
	ExpiresAt time.Time `cbor:"3,keyasint"`
}

func TestRoundTrip(t *testing.T) {
	in := record{
		Token:     "tok-abc",
		Identity:  "8:acs:1234",
		ExpiresAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out record
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out.Token != in.Token || out.Identity != in.Identity || !out.ExpiresAt.Equal(in.ExpiresAt) {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestDeterministic(t *testing.T) {
	value := map[string]string{"b": "2", "a": "1", "c": "3"}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("same value produced different encodings")
	}
}

func TestDecodeMapTarget(t *testing.T) {
	data, err := Marshal(map[string]any{"outer": map[string]any{"inner": "v"}})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out map[string]any
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	inner, ok := out["outer"].(map[string]any)
	if !ok {
		t.Fatalf("nested map decoded as %T, want map[string]any", out["outer"])
	}
	if inner["inner"] != "v" {
		t.Errorf("inner value = %v, want v", inner["inner"])
	}
}
