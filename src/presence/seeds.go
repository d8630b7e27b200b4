package presence

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"sync"
)

const jsonSeedPath = "seeds.json"

// Seed is an authoritative node the relay connects to on start-up, before it
// has learned about any other presence.
type Seed struct {
	Endpoint string `json:"Endpoint"`
	Moniker  string `json:"Moniker,omitempty"`
}

// JSONSeeds reads the seed list from a seeds.json file in the data directory,
// so that operators can edit it by hand.
type JSONSeeds struct {
	l    sync.Mutex
	path string
}

// NewJSONSeeds creates a JSONSeeds reading from base/seeds.json.
func NewJSONSeeds(base string) *JSONSeeds {
	return &JSONSeeds{
		path: filepath.Join(base, jsonSeedPath),
	}
}

// Seeds returns the list of seeds. An empty file yields an empty list.
func (j *JSONSeeds) Seeds() ([]Seed, error) {
	j.l.Lock()
	defer j.l.Unlock()

	buf, err := ioutil.ReadFile(j.path)
	if err != nil {
		return nil, err
	}

	if len(bytes.TrimSpace(buf)) == 0 {
		return nil, nil
	}

	var seeds []Seed
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&seeds); err != nil {
		return nil, err
	}

	return seeds, nil
}

// SetSeeds overwrites the file with seeds.
func (j *JSONSeeds) SetSeeds(seeds []Seed) error {
	j.l.Lock()
	defer j.l.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(seeds); err != nil {
		return err
	}

	return ioutil.WriteFile(j.path, buf.Bytes(), 0644)
}
