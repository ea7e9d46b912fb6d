package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type faqEntry struct {
	Question string `json:"question" yaml:"question"`
	Answer   string `json:"answer" yaml:"answer"`
}

// FAQ loads a list of question/answer pairs. Each pair is its own record so
// an answer is never split from its question.
type FAQ struct{}

func (f FAQ) Load(path string) (string, error) {
	recs, err := f.LoadRecords(path)
	if err != nil {
		return "", err
	}
	return strings.Join(recs, "\n\n"), nil
}

func (FAQ) LoadRecords(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	var entries []faqEntry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(b, &entries)
	default:
		err = yaml.Unmarshal(b, &entries)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	recs := make([]string, 0, len(entries))
	for _, e := range entries {
		q, a := strings.TrimSpace(e.Question), strings.TrimSpace(e.Answer)
		if q == "" || a == "" {
			continue
		}
		recs = append(recs, "Q: "+q+"\nA: "+a)
	}
	return recs, nil
}
