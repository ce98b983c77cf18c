package models

import "encoding/json"

// UnmarshalJSON keeps unknown hint keys in Extra so advisory signals the
// insights service adds later are not silently dropped.
func (h *Hints) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	take := func(key string, out any) {
		if v, ok := raw[key]; ok {
			if json.Unmarshal(v, out) == nil {
				delete(raw, key)
			}
		}
	}
	take("tone", &h.Tone)
	take("style", &h.Style)
	take("avoidPhrases", &h.AvoidPhrases)
	take("preferredPhrases", &h.PreferredPhrases)

	if len(raw) > 0 {
		h.Extra = make(map[string]any, len(raw))
		for k, v := range raw {
			var val any
			if err := json.Unmarshal(v, &val); err == nil {
				h.Extra[k] = val
			}
		}
	}
	return nil
}

// MarshalJSON emits the named fields together with whatever landed in Extra,
// so hints pass through this service without losing keys.
func (h Hints) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(h.Extra)+4)
	for k, v := range h.Extra {
		out[k] = v
	}
	if h.Tone != "" {
		out["tone"] = h.Tone
	}
	if h.Style != "" {
		out["style"] = h.Style
	}
	if len(h.AvoidPhrases) > 0 {
		out["avoidPhrases"] = h.AvoidPhrases
	}
	if len(h.PreferredPhrases) > 0 {
		out["preferredPhrases"] = h.PreferredPhrases
	}
	return json.Marshal(out)
}
