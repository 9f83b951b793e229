package models

import (
	"fmt"
	"strings"
)

// ObjectKind is a category of schema object that gets its own folder.
type ObjectKind int

// Object kinds, in the order they are exported.
const (
	KindTable ObjectKind = iota
	KindView
	KindStoredProcedure
	KindUserDefinedFunction
)

// RelatedKind is a sub-object scripted into its parent's file.
type RelatedKind int

// Related sub-object kinds, in the order they are appended.
const (
	RelatedForeignKey RelatedKind = iota
	RelatedIndex
	RelatedTrigger
)

type kindInfo struct {
	letter      byte
	name        string
	folder      string
	related     []RelatedKind
	encryptable bool
}

var kinds = map[ObjectKind]kindInfo{
	KindTable: {
		letter:  't',
		name:    "table",
		folder:  "Tables",
		related: []RelatedKind{RelatedForeignKey, RelatedIndex, RelatedTrigger},
	},
	KindView: {
		letter:      'v',
		name:        "view",
		folder:      "Views",
		related:     []RelatedKind{RelatedIndex, RelatedTrigger},
		encryptable: true,
	},
	KindStoredProcedure: {
		letter:      's',
		name:        "stored procedure",
		folder:      "Stored Procedures",
		encryptable: true,
	},
	KindUserDefinedFunction: {
		letter:      'u',
		name:        "user-defined function",
		folder:      "User-Defined Functions",
		encryptable: true,
	},
}

// AllKinds returns every object kind in export order.
func AllKinds() []ObjectKind {
	return []ObjectKind{KindTable, KindView, KindStoredProcedure, KindUserDefinedFunction}
}

// String returns the human readable kind name.
func (k ObjectKind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Folder returns the category folder name.
func (k ObjectKind) Folder() string {
	return kinds[k].folder
}

// Letter returns the --types letter selecting this kind.
func (k ObjectKind) Letter() byte {
	return kinds[k].letter
}

// Related returns the sub-objects scripted into the same file as the object.
func (k ObjectKind) Related() []RelatedKind {
	return kinds[k].related
}

// Encryptable reports whether the ignore-encryption rule applies to the kind.
func (k ObjectKind) Encryptable() bool {
	return kinds[k].encryptable
}

// String returns the human readable related kind name.
func (r RelatedKind) String() string {
	switch r {
	case RelatedForeignKey:
		return "foreign key"
	case RelatedIndex:
		return "index"
	case RelatedTrigger:
		return "trigger"
	default:
		return fmt.Sprintf("related(%d)", int(r))
	}
}

// ParseKinds parses a --types value: "all" or any combination of t, v, s and u.
// The result is always in export order without duplicates.
func ParseKinds(s string) ([]ObjectKind, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "all" {
		return AllKinds(), nil
	}
	if s == "" {
		return nil, fmt.Errorf("%w: types must be \"all\" or a combination of t, v, s, u", ErrConfig)
	}

	selected := make(map[ObjectKind]bool)
	for i := 0; i < len(s); i++ {
		found := false
		for _, k := range AllKinds() {
			if k.Letter() == s[i] {
				selected[k] = true
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: unknown object type %q in types %q", ErrConfig, s[i], s)
		}
	}

	var out []ObjectKind
	for _, k := range AllKinds() {
		if selected[k] {
			out = append(out, k)
		}
	}
	return out, nil
}

// SchemaObjectRef identifies an object within a category.
type SchemaObjectRef struct {
	Schema string
	Name   string
}

// String returns schema.name.
func (r SchemaObjectRef) String() string {
	return r.Schema + "." + r.Name
}

// FileName returns the file the object is exported to: schema.name.sql.
func (r SchemaObjectRef) FileName() string {
	return r.Schema + "." + r.Name + ".sql"
}

// SchemaObject is an object as reported by a catalog.
type SchemaObject struct {
	Ref         SchemaObjectRef
	Kind        ObjectKind
	ID          int64 // engine object id, 0 when the engine has none
	IsEncrypted bool
}
