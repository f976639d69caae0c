package amqp

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Annotations is the map type shared by a Message's DeliveryAnnotations,
// MessageAnnotations, and Footer sections (spec §3). Keys are typically
// encoding.Symbol on the wire; this package exposes them as plain strings
// for caller convenience and re-symbolizes them at encode time.
type Annotations map[string]any

type mapStructureTag struct {
	Name         string
	PersistEmpty bool
}

// DecodeAnnotations fills out (a pointer to a struct whose fields carry
// `mapstructure:"..."` tags) from an Annotations map, the way a Receiver
// decodes well-known delivery/message annotations (e.g. a service's
// sequence-number or enqueued-time extensions) into a typed struct instead
// of making every caller do map lookups by hand.
func DecodeAnnotations(a Annotations, out any) error {
	if a == nil {
		return nil
	}
	return mapstructure.Decode(map[string]any(a), out)
}

// EncodeAnnotations flattens a struct whose fields carry `mapstructure:"..."`
// tags into an Annotations map, skipping zero-valued fields unless the tag
// carries the "persistempty" option. Used to build the MessageAnnotations
// section from a typed options struct (e.g. scheduled-enqueue-time) without
// hand-writing the map.
func EncodeAnnotations(structPointer any) (Annotations, error) {
	v := reflect.ValueOf(structPointer)
	s := v.Elem()
	if s.Kind() != reflect.Struct {
		return nil, fmt.Errorf("amqp: EncodeAnnotations requires a pointer to a struct")
	}

	encoded := make(Annotations)
	for i := 0; i < s.NumField(); i++ {
		f := s.Field(i)
		if !f.IsValid() || !f.CanSet() {
			continue
		}
		tf := s.Type().Field(i)
		tag, err := parseMapStructureTag(tf.Tag)
		if err != nil {
			return nil, err
		}
		if tag == nil {
			continue
		}

		switch f.Kind() {
		case reflect.Ptr:
			if !f.IsNil() {
				encoded[tag.Name] = f.Elem().Interface()
			} else if tag.PersistEmpty {
				encoded[tag.Name] = nil
			}
		default:
			if f.Interface() != reflect.Zero(f.Type()).Interface() || tag.PersistEmpty {
				encoded[tag.Name] = f.Interface()
			}
		}
	}
	return encoded, nil
}

func parseMapStructureTag(tag reflect.StructTag) (*mapStructureTag, error) {
	str, ok := tag.Lookup("mapstructure")
	if !ok {
		return nil, nil
	}

	mapTag := new(mapStructureTag)
	split := strings.Split(str, ",")
	mapTag.Name = strings.TrimSpace(split[0])

	if len(split) > 1 {
		for _, tagKey := range split[1:] {
			switch tagKey {
			case "persistempty":
				mapTag.PersistEmpty = true
			default:
				return nil, fmt.Errorf("amqp: annotation tag key %q is not understood", tagKey)
			}
		}
	}
	return mapTag, nil
}
