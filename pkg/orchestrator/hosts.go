package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ormasoftchile/converge/pkg/script"
)

// Host is one entry of a host file. Empty fields fall back to the
// command-line defaults.
type Host struct {
	Host     string `json:"host" jsonschema:"minLength=1,description=Hostname or address to connect to"`
	Port     int    `json:"port,omitempty" jsonschema:"minimum=1,maximum=65535,description=SSH port"`
	User     string `json:"user,omitempty" jsonschema:"description=Login user"`
	Identity string `json:"identity,omitempty" jsonschema:"description=Private key file"`
}

// HostList is the top-level shape of a host file.
type HostList []Host

const hostSchemaID = "https://github.com/ormasoftchile/converge/schemas/hosts-v0.json"

// GenerateHostSchema produces the JSON Schema of host files.
func GenerateHostSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&HostList{})
	s.ID = hostSchemaID
	s.Title = "converge host list"
	s.Description = "Hosts a converge script is run against"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal host schema: %w", err)
	}
	return data, nil
}

var (
	compileOnce    sync.Once
	compiledSchema *sjsonschema.Schema
	compileErr     error
)

func hostSchema() (*sjsonschema.Schema, error) {
	compileOnce.Do(func() {
		data, err := GenerateHostSchema()
		if err != nil {
			compileErr = err
			return
		}
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			compileErr = fmt.Errorf("unmarshal host schema: %w", err)
			return
		}
		c := sjsonschema.NewCompiler()
		if err := c.AddResource("hosts-v0.json", doc); err != nil {
			compileErr = fmt.Errorf("add host schema: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile("hosts-v0.json")
	})
	return compiledSchema, compileErr
}

// LoadHosts reads a JSON5 or YAML host file and validates it.
func LoadHosts(path string) ([]Host, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read host file: %w", err)
	}
	return ParseHosts(path, data)
}

// ParseHosts is LoadHosts for content already in memory.
func ParseHosts(filename string, data []byte) ([]Host, error) {
	root, err := script.Parse(filename, data)
	if err != nil {
		return nil, err
	}
	if root.Kind != script.KindArray {
		return nil, script.NewError(root, "host file must be an array, not %s", root.Kind)
	}

	sch, err := hostSchema()
	if err != nil {
		return nil, err
	}
	doc := root.Interface()
	if err := sch.Validate(doc); err != nil {
		return nil, hostValidationError(root, err)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode hosts: %w", err)
	}
	var hosts HostList
	if err := json.Unmarshal(raw, &hosts); err != nil {
		return nil, fmt.Errorf("decode hosts: %w", err)
	}
	return hosts, nil
}

// hostValidationError reports the first schema violation at the entry it
// concerns.
func hostValidationError(root *script.Node, err error) error {
	ve, ok := err.(*sjsonschema.ValidationError)
	if !ok {
		return script.WrapError(root, err, "invalid host file: %v", err)
	}
	leaves := flattenValidationErrors(ve)
	msgs := make([]string, 0, len(leaves))
	at := root
	for i, cause := range leaves {
		loc := "/" + strings.Join(cause.InstanceLocation, "/")
		msgs = append(msgs, fmt.Sprintf("%s: %v", loc, cause.ErrorKind))
		if i == 0 {
			at = locate(root, cause.InstanceLocation)
		}
	}
	return script.NewError(at, "invalid host file: %s", strings.Join(msgs, "; "))
}

func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// locate walks an instance location down the node tree as far as it goes.
func locate(n *script.Node, loc []string) *script.Node {
	for _, seg := range loc {
		var next *script.Node
		switch n.Kind {
		case script.KindArray:
			var i int
			if _, err := fmt.Sscanf(seg, "%d", &i); err == nil && i >= 0 && i < len(n.Items) {
				next = n.Items[i]
			}
		case script.KindObject:
			next = n.Get(seg)
		}
		if next == nil {
			return n
		}
		n = next
	}
	return n
}
