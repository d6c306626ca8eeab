package scheme

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// KnownTypesRegistry maps names of jobs to go types of their payloads, so a decoded payload can be filled into the original type
type KnownTypesRegistry interface {
	// AddKnownType registers a struct (or a pointer to it) under the name. Registering another type under the same name panics.
	AddKnownType(name string, obj interface{})
	// NewObject returns a pointer to a new zero value of the type registered under the name
	NewObject(name string) (interface{}, error)
	// ObjectName returns the name the type of obj is registered under
	ObjectName(obj interface{}) (string, error)
}

func NewKnownTypesRegistry() KnownTypesRegistry {
	return &knownTypesRegistry{nameToType: map[string]reflect.Type{}, typeToName: map[reflect.Type]string{}}
}

type knownTypesRegistry struct {
	mu         sync.RWMutex
	nameToType map[string]reflect.Type
	// the reflect.Type we index by is never a pointer
	typeToName map[reflect.Type]string
}

func (r *knownTypesRegistry) AddKnownType(name string, obj interface{}) {
	if len(name) == 0 {
		panic(fmt.Sprintf("name is required on all types: %T", obj))
	}

	structType := GetStructType(obj)

	r.mu.Lock()
	defer r.mu.Unlock()

	if oldT, found := r.nameToType[name]; found && oldT != structType {
		panic(fmt.Sprintf("Double registration of different types for %s: old=%v.%v, new=%v.%v", name, oldT.PkgPath(), oldT.Name(), structType.PkgPath(), structType.Name()))
	}

	r.nameToType[name] = structType
	r.typeToName[structType] = name
}

func (r *knownTypesRegistry) NewObject(name string) (interface{}, error) {
	r.mu.RLock()
	t, exists := r.nameToType[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.Errorf("type %s is not registered in KnownTypes", name)
	}

	return reflect.New(t).Interface(), nil
}

func (r *knownTypesRegistry) ObjectName(obj interface{}) (string, error) {
	structType := GetStructType(obj)

	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.typeToName[structType]
	if !ok {
		return "", errors.Errorf("no name is registered in schema for the type %s", structType.Name())
	}

	return name, nil
}

// GetStructType returns the struct type of obj, dereferencing a pointer. Anything else than a struct panics.
func GetStructType(obj interface{}) reflect.Type {
	structType := reflect.TypeOf(obj)
	if structType == nil {
		panic("all types must be structs or pointers to structs")
	}

	if structType.Kind() == reflect.Ptr {
		structType = structType.Elem()
	}

	if structType.Kind() != reflect.Struct {
		panic("all types must be structs or pointers to structs")
	}

	return structType
}
