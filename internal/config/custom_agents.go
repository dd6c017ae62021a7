package config

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/apto-as/tmws/internal/tmwserr"
	"github.com/apto-as/tmws/internal/validate"
)

// CustomAgentSearchPath is the fixed, in-order set of locations the loader
// checks for custom_agents.json.
func CustomAgentSearchPath() []string {
	paths := []string{"custom_agents.json"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".tmws", "custom_agents.json"))
	}
	paths = append(paths, filepath.Join(string(filepath.Separator), "etc", "tmws", "custom_agents.json"))
	return paths
}

// LoadCustomAgents walks CustomAgentSearchPath in order and decodes the
// first file found. A missing file at every path is not an error -- it
// yields a nil slice, matching the teacher's "file absent, use defaults"
// branch in LoadConfig. A present-but-invalid file rejects the whole
// document with ErrValidation, per spec.md §6.
func LoadCustomAgents(logger *log.Logger) ([]validate.ConfigAgentEntry, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	for _, path := range CustomAgentSearchPath() {
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, tmwserr.Validation("reading %s: %v", path, err)
		}

		var doc validate.CustomAgentsFile
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, tmwserr.Validation("%s is not valid JSON: %v", path, err)
		}
		if err := validate.ValidateConfigContent(raw, doc.CustomAgents); err != nil {
			return nil, err
		}
		logger.Printf("loaded %d custom agents from %s", len(doc.CustomAgents), path)
		return doc.CustomAgents, nil
	}

	logger.Printf("no custom_agents.json found in %v, skipping", CustomAgentSearchPath())
	return nil, nil
}
