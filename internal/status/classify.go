package status

import "strings"

// Keywords maps free-form status tokens onto a Code by case-insensitive
// substring match. Unstable wins over Offline, which wins over Online.
type Keywords struct {
	Online   []string `json:"online"`
	Offline  []string `json:"offline"`
	Unstable []string `json:"unstable"`
}

func DefaultKeywords() Keywords {
	return Keywords{
		Online:   []string{"Online"},
		Offline:  []string{"Offline"},
		Unstable: []string{"Unstable"},
	}
}

// withDefaults fills empty keyword lists from DefaultKeywords.
func (k Keywords) withDefaults() Keywords {
	def := DefaultKeywords()
	if len(k.Online) == 0 {
		k.Online = def.Online
	}
	if len(k.Offline) == 0 {
		k.Offline = def.Offline
	}
	if len(k.Unstable) == 0 {
		k.Unstable = def.Unstable
	}
	return k
}

func (k Keywords) Classify(token string) Code {
	k = k.withDefaults()
	t := strings.ToLower(token)
	switch {
	case containsAny(t, k.Unstable):
		return Unstable
	case containsAny(t, k.Offline):
		return Offline
	case containsAny(t, k.Online):
		return Online
	default:
		return Unknown
	}
}

func containsAny(lower string, words []string) bool {
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" && strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
