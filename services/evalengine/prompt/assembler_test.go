// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package prompt

import (
	"strings"
	"testing"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
)

func testSpec() *datatypes.CharacterSpecVersion {
	return &datatypes.CharacterSpecVersion{
		ID:          "v1",
		CharacterID: "char-1",
		Packs: map[string]map[string]any{
			datatypes.PackCanon:  {"era": "golden age", "voice": "earnest"},
			datatypes.PackSafety: {"violence": "none"},
			datatypes.PackLegal:  {},
		},
	}
}

func TestAssemble_BindsPacksAndFields(t *testing.T) {
	template := "Canon: {{canon}}\nSafety: {{safety}}\nContent: {{content}}\nCharacter: {{character_id}}"

	got := Assemble(template, testSpec(), "hello world", "")

	if !strings.Contains(got, `"era":"golden age"`) {
		t.Errorf("canon pack not serialized into prompt:\n%s", got)
	}
	if !strings.Contains(got, `"violence":"none"`) {
		t.Errorf("safety pack not serialized into prompt:\n%s", got)
	}
	if !strings.Contains(got, "Content: hello world") {
		t.Errorf("content not substituted:\n%s", got)
	}
	if !strings.Contains(got, "Character: char-1") {
		t.Errorf("character id not substituted:\n%s", got)
	}
}

func TestAssemble_EmptyPackSerializesToBraces(t *testing.T) {
	got := Assemble("Legal: {{legal}}", testSpec(), "x", "")
	if got != "Legal: {}" {
		t.Errorf("Assemble() = %q, want %q", got, "Legal: {}")
	}
}

func TestAssemble_ExtraInstructions(t *testing.T) {
	got := Assemble("Rules: {{extra_instructions}}", testSpec(), "x", "no slang")
	if got != "Rules: no slang" {
		t.Errorf("Assemble() = %q", got)
	}
}

func TestSubstitute_UnknownPlaceholderLeftInPlace(t *testing.T) {
	got := Substitute("a {{known}} b {{unknown}}", map[string]string{"known": "K"})
	if got != "a K b {{unknown}}" {
		t.Errorf("Substitute() = %q, unknown placeholder must survive", got)
	}
}

func TestSubstitute_Deterministic(t *testing.T) {
	values := map[string]string{"a": "1", "b": "2", "c": "3"}
	template := "{{a}}{{b}}{{c}}"
	first := Substitute(template, values)
	for i := 0; i < 20; i++ {
		if got := Substitute(template, values); got != first {
			t.Fatalf("Substitute() not deterministic: %q vs %q", got, first)
		}
	}
	if first != "123" {
		t.Errorf("Substitute() = %q, want 123", first)
	}
}
