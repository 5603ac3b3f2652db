package payload

import (
	"bytes"
	"fmt"
	"math/rand"
	"strings"
	"text/template"

	"github.com/google/uuid"
)

// templateData is passed to field templates.
type templateData struct {
	VU   int
	Iter int64
}

// preprocess rewrites the script-style placeholders ${VU} and ${ITER} into
// template actions.
func preprocess(text string) string {
	r := strings.NewReplacer(
		"${VU}", "{{.VU}}",
		"${ITER}", "{{.Iter}}",
		"{{vu}}", "{{.VU}}",
		"{{iter}}", "{{.Iter}}",
	)
	return r.Replace(text)
}

// funcMap returns template functions drawing from rng.
func funcMap(rng *rand.Rand) template.FuncMap {
	randomUUID := func() (string, error) {
		return uuidFrom(rng)
	}
	return template.FuncMap{
		"randomInt": func(min, max int) (int, error) {
			if max < min {
				return 0, fmt.Errorf("randomInt: max %d < min %d", max, min)
			}
			return min + rng.Intn(max-min+1), nil
		},
		"randomChoice": func(choices ...string) string {
			if len(choices) == 0 {
				return ""
			}
			return choices[rng.Intn(len(choices))]
		},
		"uuid":       randomUUID,
		"randomUUID": randomUUID,
	}
}

// parseTemplate validates text with placeholder functions. Execution binds
// the real, per-iteration functions on a clone.
func parseTemplate(name, text string) (*template.Template, error) {
	return template.New(name).
		Option("missingkey=error").
		Funcs(funcMap(rand.New(rand.NewSource(0)))).
		Parse(preprocess(text))
}

func executeTemplate(t *template.Template, rng *rand.Rand, data templateData) (string, error) {
	clone, err := t.Clone()
	if err != nil {
		return "", err
	}
	clone.Funcs(funcMap(rng))

	var buf bytes.Buffer
	if err := clone.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// uuidFrom draws a version 4 UUID from rng so it is reproducible.
func uuidFrom(rng *rand.Rand) (string, error) {
	id, err := uuid.NewRandomFromReader(rng)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
