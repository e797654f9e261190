package response

import (
	"regexp"
	"strconv"
	"strings"

	"gombonmongoli/pkg/config"
	"gombonmongoli/pkg/random"
	"gombonmongoli/pkg/utils"
)

var placeholderRX = regexp.MustCompile(`\{(\w+)\}`)

// filler resolves template placeholders for one response. Each placeholder is resolved at
// most once, so repeated occurrences in a template get the same value.
type filler struct {
	responses *config.Responses
	keywords  *config.Keywords
	rng       random.Source
	vars      map[string]string
	message   string
	total     int
	resolved  map[string]string
}

func (f *filler) fill(template string) string {
	return placeholderRX.ReplaceAllStringFunc(template, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := f.resolve(key); ok {
			return v
		}
		return m
	})
}

func (f *filler) resolve(key string) (string, bool) {
	if v, ok := f.resolved[key]; ok {
		return v, true
	}
	source, ok := f.vars[key]
	if !ok {
		source, ok = f.responses.Defaults[key]
	}
	if !ok {
		return "", false
	}
	// Mark in progress so a builtin cannot recurse into itself.
	f.resolved[key] = ""

	var v string
	if name, builtin := strings.CutPrefix(source, "@"); builtin {
		v, ok = f.builtin(name)
	} else {
		words := f.responses.Fillers[source]
		ok = len(words) > 0
		if ok {
			v = random.Pick(f.rng, words)
		}
	}
	if !ok {
		delete(f.resolved, key)
		return "", false
	}
	f.resolved[key] = v
	return v, true
}

func (f *filler) builtin(name string) (string, bool) {
	switch name {
	case "word":
		w := newWord(f.keywords, f.message)
		return w, w != ""
	case "message":
		return f.message, true
	case "generation":
		return generation(f.keywords, f.message), true
	case "insight":
		trait, _ := f.resolve("trait")
		if insight, ok := f.responses.Insights[trait]; ok {
			return insight, true
		}
		return f.responses.DefaultInsight, f.responses.DefaultInsight != ""
	case "interactions":
		return groupThousands(f.total), true
	case "random_interactions":
		return strconv.Itoa(10000 + f.rng.IntN(50000)), true
	default:
		return "", false
	}
}

// newWord is the first whitespace separated word that is long enough and not a common word.
func newWord(k *config.Keywords, message string) string {
	minLen := max(k.NewWordMinLength, 1)
	for _, w := range strings.Fields(strings.ToLower(message)) {
		if len(w) >= minLen && !isCommon(k, w) {
			return w
		}
	}
	return ""
}

func isCommon(k *config.Keywords, w string) bool {
	for _, c := range k.CommonWords {
		if strings.EqualFold(c, w) {
			return true
		}
	}
	return false
}

func generation(k *config.Keywords, message string) string {
	for _, g := range k.Generations {
		if utils.StringContains(message, false, g.Words...) {
			return g.Name
		}
	}
	return k.DefaultGeneration
}

func groupThousands(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
