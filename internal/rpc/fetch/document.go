package fetch

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"rpcbot/internal/rpc/registry"
)

// minimalSchema only pins what the bot needs to build commands.
const minimalSchema = `{
  "type": "object",
  "required": ["namespace", "methods"],
  "properties": {
    "namespace": {"type": "string"},
    "help": {"type": ["string", "null"]},
    "methods": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["regex"],
        "properties": {
          "regex": {"type": "string"},
          "help": {"type": ["string", "null"]},
          "path": {"type": ["string", "null"]},
          "error_response": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

var loadSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(minimalSchema))
})

type document struct {
	Namespace string          `json:"namespace"`
	Help      string          `json:"help"`
	Version   json.RawMessage `json:"version"`
	Methods   map[string]struct {
		Regex         string `json:"regex"`
		Help          string `json:"help"`
		Path          string `json:"path"`
		ErrorResponse string `json:"error_response"`
	} `json:"methods"`
}

// versioned reports whether the document declares a non-null version.
func (d document) versioned() bool {
	v := strings.TrimSpace(string(d.Version))
	return v != "" && v != "null"
}

func (d document) snapshot() registry.Snapshot {
	s := registry.Snapshot{
		Namespace: d.Namespace,
		Help:      d.Help,
		Methods:   make(map[string]registry.Method, len(d.Methods)),
	}
	if d.versioned() {
		s.Version = strings.Trim(strings.TrimSpace(string(d.Version)), `"`)
	}
	for name, m := range d.Methods {
		s.Methods[name] = registry.Method{
			Name:          name,
			Regex:         m.Regex,
			Help:          m.Help,
			Path:          m.Path,
			ErrorResponse: m.ErrorResponse,
		}
	}
	return s
}

// parseDocument validates body against the minimal shape and decodes it.
func parseDocument(body []byte) (document, error) {
	var d document
	if !json.Valid(body) {
		return d, errors.New("invalid JSON")
	}
	schema, err := loadSchema()
	if err != nil {
		return d, err
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return d, err
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return d, errors.New(strings.Join(msgs, "; "))
	}
	if err := json.Unmarshal(body, &d); err != nil {
		return d, err
	}
	return d, nil
}
