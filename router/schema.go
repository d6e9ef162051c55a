package router

import (
	"fmt"
)

// ParamType is the wire-level type a parameter must decode to.
type ParamType string

const (
	TypeAny    ParamType = "any"
	TypeString ParamType = "string"
	TypeInt    ParamType = "int"
	TypeFloat  ParamType = "float"
	TypeBool   ParamType = "bool"
	TypeMap    ParamType = "map"
	TypeArray  ParamType = "array"
	TypeBinary ParamType = "binary"
)

// Param describes one RPC method parameter for validation and discovery.
type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description,omitempty"`
}

// Schema is the parameter contract attached to an RPC registration.
type Schema struct {
	Params []Param
}

// Validate checks the supplied params against the schema. A nil return
// means the call may proceed; otherwise the message names the first
// violation found.
func (s Schema) Validate(params map[string]any) error {
	for _, p := range s.Params {
		value, present := params[p.Name]

		if !present {
			if p.Required {
				return fmt.Errorf("Missing required parameter %q", p.Name)
			}
			continue
		}

		if !matchesType(value, p.Type) {
			return fmt.Errorf("Parameter %q must be of type %s", p.Name, p.Type)
		}
	}

	return nil
}

func matchesType(v any, t ParamType) bool {
	if v == nil {
		return t == TypeAny
	}

	switch t {
	case TypeAny:
		return true
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeInt:
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		}
		return false
	case TypeFloat:
		switch v.(type) {
		case float32, float64,
			int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			// Peers may send a whole number as a MessagePack integer where a
			// float is declared, so accept both.
			return true
		}
		return false
	case TypeBool:
		_, ok := v.(bool)
		return ok
	case TypeMap:
		switch v.(type) {
		case map[string]any, map[any]any:
			return true
		}
		return false
	case TypeArray:
		_, ok := v.([]any)
		return ok
	case TypeBinary:
		_, ok := v.([]byte)
		return ok
	}

	return false
}
