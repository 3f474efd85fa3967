package entityevent

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"time"
)

// PropertiesVersion is bumped whenever the internal or propagated key sets change.
const PropertiesVersion = 1

const (
	PropertyExecuteDate   = "idm:event-execute-date"
	PropertyPriority      = "idm:event-priority"
	PropertyRootID        = "idm:root-event-id"
	PropertyParentID      = "idm:parent-event-id"
	PropertyParentType    = "idm:parent-event-type"
	PropertySuperOwnerID  = "idm:super-owner-id"
	PropertyPermission    = "idm:event-permission"
	PropertyTransactionID = "idm:transaction-id"
)

// InternalProperties are never copied from a parent into a child event.
var InternalProperties = []string{
	PropertyExecuteDate,
	PropertyPriority,
	PropertyRootID,
	PropertyParentID,
	PropertyParentType,
	PropertySuperOwnerID,
	PropertyPermission,
}

// PropagatedProperties are copied from a parent into every child event.
var PropagatedProperties = []string{
	PropertyTransactionID,
}

// transientProperties are dropped when an event is persisted.
var transientProperties = []string{
	PropertyPermission,
}

// Properties is an insertion-ordered property bag. The zero value is ready to use.
// It is not safe for concurrent use.
type Properties struct {
	keys   []string
	values map[string]any
}

func NewProperties() Properties {
	return Properties{values: map[string]any{}}
}

func (p *Properties) Set(key string, value any) {
	if p.values == nil {
		p.values = map[string]any{}
	}
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

func (p *Properties) Get(key string) (any, bool) {
	value, exists := p.values[key]
	return value, exists
}

func (p *Properties) Has(key string) bool {
	_, exists := p.values[key]
	return exists
}

func (p *Properties) Remove(key string) {
	if _, exists := p.values[key]; !exists {
		return
	}
	delete(p.values, key)
	p.keys = slices.DeleteFunc(p.keys, func(k string) bool { return k == key })
}

func (p *Properties) Keys() []string {
	return slices.Clone(p.keys)
}

func (p *Properties) Len() int {
	return len(p.keys)
}

// Clone returns a copy that shares the values but not the bag itself.
func (p *Properties) Clone() Properties {
	clone := NewProperties()
	for _, key := range p.keys {
		clone.Set(key, p.values[key])
	}
	return clone
}

// GetString returns the value when it is a string (or string kind), "" otherwise.
func (p *Properties) GetString(key string) string {
	value, exists := p.values[key]
	if !exists || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.String {
		return v.String()
	}
	return ""
}

// GetBool accepts booleans and their string representation; anything else is false.
func (p *Properties) GetBool(key string) bool {
	value, exists := p.values[key]
	if !exists || value == nil {
		return false
	}
	switch v := value.(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		return err == nil && b
	}
	return false
}

func (p *Properties) GetInt(key string) (int, bool) {
	value, exists := p.values[key]
	if !exists || value == nil {
		return 0, false
	}
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		i, err := v.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(v)
		return i, err == nil
	}
	return 0, false
}

// GetTime accepts a time.Time or its RFC3339 representation.
func (p *Properties) GetTime(key string) (time.Time, bool) {
	value, exists := p.values[key]
	if !exists || value == nil {
		return time.Time{}, false
	}
	switch v := value.(type) {
	case time.Time:
		return v, true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		return t, err == nil
	}
	return time.Time{}, false
}

// GetStrings returns the list stored under key. Scalars count as a list of one,
// elements that are no strings are skipped.
func (p *Properties) GetStrings(key string) []string {
	value, exists := p.values[key]
	if !exists || value == nil {
		return []string{}
	}
	if s, ok := value.(string); ok {
		return []string{s}
	}

	v := reflect.ValueOf(value)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		if v.Kind() == reflect.String {
			return []string{v.String()}
		}
		return []string{}
	}

	result := make([]string, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		elem := v.Index(i)
		if elem.Kind() == reflect.Interface {
			elem = elem.Elem()
		}
		if elem.IsValid() && elem.Kind() == reflect.String {
			result = append(result, elem.String())
		}
	}
	return result
}

// GetStringSet is GetStrings without duplicates.
func (p *Properties) GetStringSet(key string) map[string]bool {
	set := map[string]bool{}
	for _, s := range p.GetStrings(key) {
		set[s] = true
	}
	return set
}

type property struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func (p Properties) MarshalJSON() ([]byte, error) {
	list := make([]property, 0, len(p.keys))
	for _, key := range p.keys {
		list = append(list, property{Key: key, Value: p.values[key]})
	}
	return json.Marshal(list)
}

func (p *Properties) UnmarshalJSON(data []byte) error {
	list := []property{}
	err := json.Unmarshal(data, &list)
	if err != nil {
		return fmt.Errorf("error unmarshalling properties: %w", err)
	}
	*p = NewProperties()
	for _, prop := range list {
		p.Set(prop.Key, prop.Value)
	}
	return nil
}
