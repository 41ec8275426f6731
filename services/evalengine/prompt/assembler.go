// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package prompt binds character spec fields into a critic's
// instruction template.
//
// Assembly is pure string substitution over a typed key→value map —
// deliberately not a templating engine, since the contract requires no
// conditional logic. Unknown placeholders are left in place so a
// misconfigured template is visible in the assembled prompt rather
// than silently dropped. Prompt size is not validated; truncation
// policy belongs to the caller when the target judge enforces an input
// limit.
package prompt

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
)

// Placeholder names available to critic templates, alongside one
// placeholder per spec pack ({{canon}}, {{legal}}, {{safety}},
// {{visual}}, {{audio}}).
const (
	PlaceholderContent           = "content"
	PlaceholderCharacterID       = "character_id"
	PlaceholderModality          = "modality"
	PlaceholderExtraInstructions = "extra_instructions"
)

// Assemble renders a critic template against a spec version and the
// content under evaluation.
//
// Description:
//
//	Pure function. Pack placeholders are replaced with the pack's
//	JSON serialization; literal fields are substituted directly.
//	Placeholders use {{name}} syntax.
//
// Inputs:
//   - template: The critic's instruction template.
//   - spec: The active spec version. Must not be nil.
//   - content: The content payload under evaluation.
//   - extraInstructions: Optional per-configuration additions.
//
// Outputs:
//   - string: The assembled prompt.
func Assemble(template string, spec *datatypes.CharacterSpecVersion, content, extraInstructions string) string {
	values := map[string]string{
		PlaceholderContent:           content,
		PlaceholderCharacterID:       spec.CharacterID,
		PlaceholderExtraInstructions: extraInstructions,
	}
	for name, pack := range spec.Packs {
		values[name] = serializePack(pack)
	}
	return Substitute(template, values)
}

// Substitute replaces every {{key}} in template with its mapped value.
//
// Keys are replaced in deterministic (sorted) order so overlapping
// values cannot produce order-dependent output. Keys absent from the
// map are left untouched.
func Substitute(template string, values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := template
	for _, k := range keys {
		out = strings.ReplaceAll(out, "{{"+k+"}}", values[k])
	}
	return out
}

// serializePack renders one spec pack as compact JSON. Marshalling a
// map[string]any cannot fail for JSON-decoded documents; an empty pack
// serializes to "{}".
func serializePack(pack map[string]any) string {
	if len(pack) == 0 {
		return "{}"
	}
	b, err := json.Marshal(pack)
	if err != nil {
		return "{}"
	}
	return string(b)
}
